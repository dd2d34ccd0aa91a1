package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tokenledger"

// Transfer results.
const (
	ResultSuccess      = "success"
	ResultInsufficient = "insufficient_balance"
	ResultInvalid      = "invalid_argument"
	ResultNotWriter    = "not_writer"
	ResultError        = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	Transfers           *prometheus.CounterVec
	TransferDuration    prometheus.Histogram
	LedgerSeq           prometheus.Gauge
	OutboxPublished     prometheus.Counter
	OutboxFailed        prometheus.Counter
	OutboxPending       prometheus.Gauge
	ReconcileRuns       prometheus.Counter
	ReconcileMismatches prometheus.Counter
	WriterLeaseHeld     prometheus.Gauge
}

// New registers every collector on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Transfer attempts by result.",
		}, []string{"result"}),
		TransferDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Time spent committing a transfer, journal included.",
			Buckets:   prometheus.DefBuckets,
		}),
		LedgerSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_last_seq",
			Help:      "Sequence number of the last committed transfer.",
		}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox messages delivered to the broker.",
		}),
		OutboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_failed_total",
			Help:      "Outbox messages that exhausted their retries.",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending",
			Help:      "Outbox messages waiting to be published.",
		}),
		ReconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Completed reconciliation passes.",
		}),
		ReconcileMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_mismatches_total",
			Help:      "Accounts whose persisted balance differs from memory, plus failed invariant checks.",
		}),
		WriterLeaseHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "writer_lease_held",
			Help:      "1 while this process holds the writer lease.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Transfers,
		m.TransferDuration,
		m.LedgerSeq,
		m.OutboxPublished,
		m.OutboxFailed,
		m.OutboxPending,
		m.ReconcileRuns,
		m.ReconcileMismatches,
		m.WriterLeaseHeld,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
