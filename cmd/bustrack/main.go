package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campusride/bustrack/handlers"
	"github.com/campusride/bustrack/internal/auth"
	"github.com/campusride/bustrack/internal/config"
	"github.com/campusride/bustrack/internal/db"
	"github.com/campusride/bustrack/internal/metrics"
	"github.com/campusride/bustrack/internal/progress"
	"github.com/campusride/bustrack/internal/realtime"
	"github.com/campusride/bustrack/internal/reset"
	"github.com/campusride/bustrack/internal/tracking"
	"github.com/campusride/bustrack/pkg/log"
	"github.com/campusride/bustrack/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bustrack: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logOpts := log.NewOptions()
	logOpts.Name = "bustrack"
	logOpts.Level = cfg.LogLevel
	logOpts.Format = cfg.LogFormat
	logger, err := log.NewLogger(logOpts)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := realtime.NewHub(logger.WithName("hub"), realtime.WithMetrics(collector))
	defer hub.Close()

	// Without NATS the hub is the publisher directly.
	var pub realtime.Publisher = hub
	if cfg.NATSURL != "" {
		relay, err := realtime.NewNATSRelay(cfg.NATSURL, cfg.NATSSubjectPrefix, hub, logger.WithName("nats"), collector)
		if err != nil {
			return fmt.Errorf("failed to start NATS relay: %w", err)
		}
		defer relay.Close()
		pub = relay
		logger.Info("NATS relay enabled", "url", cfg.NATSURL, "prefix", cfg.NATSSubjectPrefix)
	}

	ingest := tracking.NewService(store, pub, tracking.Config{
		StoreTimeout:         cfg.StoreTimeout,
		ProximityThresholdKm: cfg.ProximityThresholdKm,
	}, logger.WithName("ingest"), collector)

	scheduler := reset.NewScheduler(store, pub, reset.Config{
		Hour:     cfg.ResetHour,
		Minute:   cfg.ResetMinute,
		Location: cfg.Location,
		Timeout:  cfg.StoreTimeout * 2,
	}, logger.WithName("reset"), reset.WithMetrics(collector))

	progressCfg := progress.DefaultConfig()
	progressCfg.ProximityThresholdKm = cfg.ProximityThresholdKm
	progressCfg.AverageSpeedKmh = cfg.AverageSpeedKmh
	progressCfg.MinutesPerStop = cfg.MinutesPerStop
	progressCfg.Location = cfg.Location

	httpLog := logger.WithName("http")
	routerCfg := handlers.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Verifier:       auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTTTL),
		Logger:         httpLog,
		Location:       handlers.NewLocationHandler(ingest, store, cfg.StoreTimeout, httpLog),
		Units:          handlers.NewUnitHandler(store, cfg.StoreTimeout, httpLog),
		Progress:       handlers.NewProgressHandler(store, progressCfg, cfg.StoreTimeout, httpLog),
		Feed:           handlers.NewFeedHandler(store, cfg.StoreTimeout, httpLog),
		Realtime:       handlers.NewRealtimeHandler(hub, cfg.AllowedOrigins, logger.WithName("ws")),
		TrackingConfig: handlers.NewTrackingConfigHandler(handlers.NewTrackingConfig(
			cfg.CaptureInterval, cfg.SendInterval, cfg.StaleAfter,
			cfg.ProximityThresholdKm, cfg.AverageSpeedKmh, cfg.MinutesPerStop,
			cfg.ResetHour, cfg.ResetMinute,
		)),
		Health: handlers.NewHealthHandler(store, hub),
	}
	if cfg.MetricsEnabled {
		routerCfg.Metrics = collector.Handler()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	schedDone := make(chan error, 1)
	go func() { schedDone <- scheduler.Run(ctx) }()

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("API server starting", "addr", srv.Addr, "store", cfg.DBDriver,
			"resetAt", fmt.Sprintf("%02d:%02d", cfg.ResetHour, cfg.ResetMinute), "tz", cfg.Location.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-srvErr:
		if err != nil {
			stop()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "graceful shutdown failed")
	}
	if err := <-schedDone; err != nil {
		logger.Error(err, "reset scheduler stopped with error")
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger log.Logger) (repository.Store, func(), error) {
	if cfg.DBDriver == "postgres" {
		pool, err := db.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.EnsurePostgresSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if cfg.SeedDemo {
			logger.Warn("SEED_DEMO is only supported with the sqlite driver")
		}
		logger.Info("Postgres connection established")
		store := repository.NewPostgresStore(pool)
		return store, store.Close, nil
	}

	logger.Info("Connecting to SQLite database", "path", cfg.SQLitePath)
	database, err := db.Connect(cfg.SQLitePath, logger.WithName("db"))
	if err != nil {
		return nil, nil, err
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, nil, err
	}
	if cfg.SeedDemo {
		n, err := database.SeedDemo(ctx)
		if err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
		if n > 0 {
			logger.Info("demo fleet seeded", "buses", n)
		}
	}
	return repository.NewSQLiteStore(database), func() { database.Close() }, nil
}
