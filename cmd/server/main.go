package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tokenledger/internal/config"
	"tokenledger/internal/handler"
	"tokenledger/internal/infrastructure/cache"
	"tokenledger/internal/infrastructure/database"
	"tokenledger/internal/infrastructure/lock"
	"tokenledger/internal/infrastructure/mq"
	"tokenledger/internal/job"
	"tokenledger/internal/ledger"
	"tokenledger/internal/logger"
	"tokenledger/internal/metrics"
	"tokenledger/internal/repository"
	"tokenledger/internal/service"
	"tokenledger/pkg/idgen"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Error("服务异常退出", zap.Error(err))
		log.Sync() //nolint:errcheck
		os.Exit(1)
	}
	log.Info("服务已停止")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := idgen.Init(1); err != nil {
		return err
	}
	m := metrics.New()

	db, err := database.Open(&cfg.Database, database.WithLogger(log.Named(logger.ComponentStore)))
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	// 先获取写入租约再加载账本，保证加载的是最终状态
	var keeper *job.LeaseKeeper
	if cfg.Redis.Host != "" {
		rdb, err := cache.InitRedis(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		lease := lock.NewWriterLease(rdb, leaseHolder(), cfg.Redis.LeaseTTL())
		keeper = job.NewLeaseKeeper(lease, m, log.Named(logger.ComponentLease))
		if err := keeper.Acquire(ctx, cfg.Redis.LeaseTTL()/3, cfg.Redis.LeaseRetries); err != nil {
			return fmt.Errorf("acquire writer lease: %w", err)
		}
	}

	supply, err := cfg.Ledger.SupplyBaseUnits()
	if err != nil {
		return err
	}
	owner, err := cfg.Ledger.OwnerAddress()
	if err != nil {
		return err
	}
	ledgerLog := log.Named(logger.ComponentLedger)
	// 历史查询走转账流水表，内存只保留最近的事件
	ledgerOpts := []ledger.Option{
		ledger.WithEventLogLimit(cfg.Ledger.EventLogLimit),
		ledger.WithSubscriberPanicHandler(func(e ledger.Event, recovered any) {
			ledgerLog.Error("事件订阅者panic", zap.Uint64("seq", e.Seq), zap.Any("panic", recovered))
		}),
	}
	if cfg.Ledger.RejectZeroRecipient {
		ledgerOpts = append(ledgerOpts, ledger.RejectZeroRecipient())
	}

	topic := ""
	if cfg.Events.Broker != config.BrokerNone {
		topic = cfg.Events.Topic()
	}
	store := service.NewLedgerStore(db, cfg.Ledger.Symbol, topic)
	info := service.TokenInfo{Name: cfg.Ledger.Name, Symbol: cfg.Ledger.Symbol, Decimals: cfg.Ledger.Decimals}

	l, info, err := service.OpenLedger(ctx, store, info, ledger.Config{TotalSupply: supply, Owner: owner}, ledgerOpts...)
	if err != nil {
		return err
	}
	ledgerLog.Info("账本加载完成",
		zap.String("symbol", info.Symbol),
		zap.String("total_supply", l.TotalSupply().Dec()),
		zap.String("owner", l.Owner().Hex()),
		zap.Uint64("last_seq", l.LastSeq()))

	unsubscribe := l.Subscribe(func(e ledger.Event) {
		ledgerLog.Debug("Transfer",
			zap.Uint64("seq", e.Seq),
			zap.String("from", e.From.Hex()),
			zap.String("to", e.To.Hex()),
			zap.String("value", e.Value.Dec()))
	})
	defer unsubscribe()

	svcOpts := []service.TokenServiceOption{
		service.WithTransferHistory(repository.NewTransferRepository(db)),
	}
	if keeper != nil {
		svcOpts = append(svcOpts, service.WithWriterGate(keeper))
	}
	tokenService := service.NewTokenService(l, info, m, ledgerLog, svcOpts...)

	router := handler.SetupRouter(handler.NewHandler(tokenService), m, log.Named(logger.ComponentHTTP))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if topic != "" {
		publisher, err := mq.NewPublisher(&cfg.Events)
		if err != nil {
			return err
		}
		defer publisher.Close()

		sender := job.NewOutboxSender(db, publisher, &cfg.Business, m, log.Named(logger.ComponentOutbox))
		g.Go(func() error {
			sender.Start(gctx)
			return nil
		})
	}

	reconciler := job.NewReconciler(l, store,
		time.Duration(cfg.Business.ReconcileIntervalSeconds)*time.Second, m, log.Named(logger.ComponentReconcile))
	g.Go(func() error {
		reconciler.Start(gctx)
		return nil
	})

	if keeper != nil {
		g.Go(func() error {
			return keeper.Run(gctx)
		})
	}

	g.Go(func() error {
		log.Info("服务启动，监听端口", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("正在关闭服务")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func leaseHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%d", host, os.Getpid(), idgen.NextID())
}
