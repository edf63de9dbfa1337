package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crm-backend/internal/accounts"
	"crm-backend/internal/admin"
	"crm-backend/internal/broker"
	"crm-backend/internal/commission"
	"crm-backend/internal/config"
	"crm-backend/internal/db"
	"crm-backend/internal/events"
	"crm-backend/internal/health"
	"crm-backend/internal/httpserver"
	"crm-backend/internal/ib"
	"crm-backend/internal/logging"
	"crm-backend/internal/rates"
	"crm-backend/internal/referral"
	"crm-backend/internal/trades"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(cfg.DBDSN); err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	reg := prometheus.DefaultRegisterer
	if err := health.RegisterPoolMetrics(reg, pool); err != nil {
		return err
	}
	metrics, err := ib.NewMetrics(reg)
	if err != nil {
		return err
	}

	var platform broker.Platform = broker.NewDisabledPlatform()
	if cfg.MT5BaseURL != "" {
		platform = broker.NewMT5Client(cfg.MT5BaseURL, cfg.MT5APIKey, cfg.MT5RateLimit, logger)
	} else {
		logger.Warn("MT5_BASE_URL not set, trade polling disabled")
	}

	accountSvc := accounts.NewService(pool)
	referralStore := referral.NewStore(pool)
	rateStore := rates.NewStore(pool)
	tradeStore := trades.NewStore(pool)
	commissionStore := commission.NewStore(pool)

	bus := events.NewBus()
	var locker ib.Locker
	if cfg.SyncDistributedLock {
		locker = db.NewAdvisoryLock(pool, db.SyncLockKey)
	}

	poller := ib.NewPoller(accountSvc, platform, tradeStore, cfg.MT5Timeout, metrics, logger)
	engine := ib.NewEngine(accountSvc, referralStore, rateStore, tradeStore, commissionStore, ib.EngineConfig{
		Concurrency: cfg.AttributionConcurrency,
	}, metrics, logger)
	settler := ib.NewSettler(commissionStore, bus, metrics, logger)
	ibSvc := ib.NewService(poller, engine, settler, tradeStore, commissionStore, locker, bus, metrics, ib.Config{
		Lookbacks: ib.Lookbacks{
			Initial: cfg.SyncInitialLookback,
			Regular: cfg.SyncRegularLookback,
		},
		Interval:          cfg.SyncInterval,
		SkipInitial:       cfg.SyncSkipInitial,
		ReconcileInterval: cfg.ReconcileInterval,
		ReconcileAfter:    cfg.ReconcileAfter,
		Retention:         cfg.RetentionUnprocessed,
	}, logger)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AdminHandler:    admin.NewHandler(admin.NewStore(pool), cfg.JWTSecret),
		IBHandler:       ib.NewHandler(ibSvc),
		RatesHandler:    rates.NewHandler(rateStore),
		ReferralHandler: referral.NewHandler(referral.NewService(referralStore)),
		HealthHandler:   health.NewHandler(pool, ibSvc, time.Now(), 3*cfg.SyncInterval),
		EventsWSHandler: events.NewWSHandler(bus, cfg.JWTSecret, admin.RightSync, cfg.WebSocketOrigin, logger),
		MetricsHandler:  promhttp.Handler(),
		JWTSecret:       cfg.JWTSecret,
		Limiter:         httpserver.NewIPRateLimiter(10, 30),
		Logger:          logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := ibSvc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if len(cfg.KafkaBrokers) > 0 {
		forwarder := events.NewKafkaForwarder(bus, events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), logger)
		g.Go(func() error {
			forwarder.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
