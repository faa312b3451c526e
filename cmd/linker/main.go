package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"acc_linker/internal/adapter/lor"
	"acc_linker/internal/config"
	"acc_linker/internal/domain"
	"acc_linker/internal/httpserver"
	"acc_linker/internal/linkstate"
	"acc_linker/internal/publisher"
	"acc_linker/internal/registry"
	"acc_linker/internal/scheduler"
	"acc_linker/internal/service"
	"acc_linker/internal/storage/sqlstore"
	"acc_linker/internal/upstream/matrix"
)

func main() {
	configPath := flag.StringP("config", "c", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)
	started := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database", "driver", cfg.Database.Driver)

	linkStore := sqlstore.NewLinkStore(db)
	txManager := sqlstore.NewTransactionManager(db)

	reg := registry.New(linkStore, txManager, logger)
	if err := reg.Load(ctx); err != nil {
		logger.Error("failed to load links", "error", err)
		os.Exit(1)
	}

	// A nil *RabbitMQ must not reach the reconciler as a non-nil interface.
	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	var upstreams []service.Upstream
	if cfg.Matrix.Enabled {
		mx, err := matrix.New(matrix.Config{
			HomeserverURL:   cfg.Matrix.HomeserverURL,
			Login:           cfg.Matrix.Login,
			Password:        cfg.Matrix.Password,
			CommandPrefix:   cfg.Matrix.CommandPrefix,
			Timeout:         cfg.Matrix.Timeout,
			ReplayBacklog:   cfg.Matrix.ReplayBacklog,
			ChallengePhrase: domain.ChallengePhrase,
		}, logger)
		if err != nil {
			logger.Error("failed to configure matrix upstream", "error", err)
			os.Exit(1)
		}
		upstreams = append(upstreams, mx)
	}
	if len(upstreams) == 0 {
		logger.Warn("no upstreams enabled, cycles will only flush pending writes")
	}

	lorCfg := cfg.Adapters.LinuxOrgRu
	lorAdapter, err := lor.New(lor.Config{
		BaseURL:        lorCfg.BaseURL,
		Timeout:        lorCfg.Timeout,
		MaxAttempts:    lorCfg.Retry.MaxAttempts,
		InitialBackoff: lorCfg.Retry.InitialBackoff,
		MaxBackoff:     lorCfg.Retry.MaxBackoff,
	}, logger)
	if err != nil {
		logger.Error("failed to configure linux.org.ru adapter", "error", err)
		os.Exit(1)
	}

	reconciler := service.NewReconciler(
		upstreams,
		[]service.Adapter{lorAdapter},
		reg,
		linkstate.NewMachine(domain.ChallengePhrase, logger),
		pub,
		logger,
		cfg.Reconcile,
	)

	if cfg.HTTP.Enabled {
		srv := httpserver.New(cfg.HTTP.ListenAddr, reg, started, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("http server error", "error", err)
				cancel()
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	sched := scheduler.NewScheduler(reconciler, cfg.Reconcile.Interval, cfg.Reconcile.CycleTimeout, logger)

	logger.Info("starting link relay",
		"upstreams", len(upstreams),
		"interval", cfg.Reconcile.Interval,
		"workers", cfg.Reconcile.Workers,
		"links", len(reg.Snapshot()),
	)

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
