package job

import (
	"context"
	"sync"
	"time"

	"tokenledger/internal/ledger"
	"tokenledger/internal/metrics"
	"tokenledger/internal/service"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Reconciler 对账任务：定期校验内存账本的不变量，并与持久化的账户表比对
type Reconciler struct {
	ledger   *ledger.Ledger
	store    *service.LedgerStore
	metrics  *metrics.Metrics
	log      *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	interval time.Duration
}

// Mismatch 持久化余额与内存不一致的账户
type Mismatch struct {
	Account   common.Address
	Memory    *uint256.Int
	Persisted *uint256.Int
}

func NewReconciler(l *ledger.Ledger, store *service.LedgerStore, interval time.Duration, m *metrics.Metrics, log *zap.Logger) *Reconciler {
	return &Reconciler{
		ledger:   l,
		store:    store,
		metrics:  m,
		log:      log,
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	r.log.Info("对账任务启动", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("对账任务退出", zap.Error(ctx.Err()))
			return
		case <-r.stopCh:
			r.log.Info("对账任务已停止")
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Reconciler) reconcile(ctx context.Context) {
	if err := r.ledger.CheckInvariants(); err != nil {
		r.metrics.ReconcileMismatches.Inc()
		r.log.Error("账本不变量校验失败", zap.Error(err))
	}

	mismatches, compared, err := r.Compare(ctx)
	if err != nil {
		r.log.Error("比对持久化余额失败", zap.Error(err))
		return
	}
	if !compared {
		r.log.Debug("比对期间有新的转账提交，下一轮重试")
		return
	}

	r.metrics.ReconcileRuns.Inc()
	for _, m := range mismatches {
		r.metrics.ReconcileMismatches.Inc()
		r.log.Error("余额不一致",
			zap.String("account", m.Account.Hex()),
			zap.String("memory", m.Memory.Dec()),
			zap.String("persisted", m.Persisted.Dec()))
	}
}

// Compare 比对账本快照与账户表
// 读表期间有转账提交时 compared 为 false，本次不做比对
func (r *Reconciler) Compare(ctx context.Context) (mismatches []Mismatch, compared bool, err error) {
	snap := r.ledger.Snapshot()

	// 先读账户再读 seq，期间有提交则 seq 变化，本次作废
	persisted, err := r.store.LoadBalances(ctx)
	if err != nil {
		return nil, false, err
	}
	seq, err := r.store.LastSeq(ctx)
	if err != nil {
		return nil, false, err
	}
	if seq != snap.LastSeq {
		return nil, false, nil
	}

	zero := new(uint256.Int)
	for addr, mem := range snap.Balances {
		db, ok := persisted[addr]
		if !ok {
			db = zero
		}
		if !mem.Eq(db) {
			mismatches = append(mismatches, Mismatch{Account: addr, Memory: mem, Persisted: db})
		}
	}
	for addr, db := range persisted {
		if _, ok := snap.Balances[addr]; !ok && !db.IsZero() {
			mismatches = append(mismatches, Mismatch{Account: addr, Memory: zero, Persisted: db})
		}
	}
	return mismatches, true, nil
}
