package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"ironflybot/internal/broker"
	"ironflybot/internal/config"
	"ironflybot/internal/dashboard"
	"ironflybot/internal/engine"
	"ironflybot/internal/logger"
	"ironflybot/internal/metrics"
	"ironflybot/internal/retry"
	"ironflybot/internal/scheduler"
	"ironflybot/internal/storage"
	"ironflybot/internal/strategy"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})

	logg.WithField("mode", cfg.Environment.Mode).Info("starting iron fly bot")
	if cfg.IsPaperTrading() {
		logg.Warn("paper trading mode, no real money at risk")
	}

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		logg.WithError(err).Fatal("opening storage failed")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logg.WithError(err).Error("closing storage failed")
		}
	}()

	upstox := broker.NewUpstoxClient(
		cfg.Broker.BaseURL,
		cfg.Broker.HFTURL,
		cfg.BrokerTimeout(),
		store,
		store,
		logg,
	)
	brk := broker.NewCircuitBreakerBroker(upstox, logg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	calc := strategy.NewCalculator(brk, logg, cfg.Strategy.Underlying, cfg.Strategy.StrikeStep, cfg.Strategy.TickSize)
	orders := retry.NewClient(brk, logg)

	deployer := engine.NewDeployer(store, brk, calc, logg, m, cfg.Strategy.LotSize, cfg.Strategy.StrikeBand)
	reconciler := engine.NewReconciler(store, brk, logg, m)
	repricer := engine.NewRepricer(store, brk, logg, m, cfg.Strategy.TickSize)
	monitor := engine.NewRiskMonitor(store, brk, orders, logg, m, cfg.Strategy.Underlying)

	loc, err := cfg.Location()
	if err != nil {
		logg.WithError(err).Fatal("loading timezone failed")
	}
	sessionStart, sessionEnd, err := cfg.SessionWindow()
	if err != nil {
		logg.WithError(err).Fatal("parsing session window failed")
	}
	deploySpec, err := cfg.DeploySpec()
	if err != nil {
		logg.WithError(err).Fatal("parsing deploy schedule failed")
	}

	sched := scheduler.New(scheduler.NewRealClock(), logg, m, loc, sessionStart, sessionEnd, store.ActiveClientCount)
	sched.Weekly("deploy", deploySpec, deployer.Run)
	sched.Every("reconcile", cfg.ReconcileInterval(), reconciler.Run)
	sched.Every("reprice", cfg.RepriceInterval(), repricer.Run)
	sched.Every("risk", cfg.RiskInterval(), monitor.Run)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(ctx)
	})

	if cfg.Dashboard.Enabled {
		srv := dashboard.NewServer(dashboard.Config{
			Listen:    cfg.Dashboard.Listen,
			AuthToken: cfg.Dashboard.AuthToken,
		}, store, registry, logg)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.WithError(err).Fatal("bot exited with error")
	}
	logg.Info("bot stopped")
}
