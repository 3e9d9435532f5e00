package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/xray/service/classify"
	"github.com/brojonat/xray/service/config"
	"github.com/brojonat/xray/service/db"
	"github.com/brojonat/xray/service/logging"
	"github.com/brojonat/xray/service/metrics"
	natspkg "github.com/brojonat/xray/service/nats"
	"github.com/brojonat/xray/service/server"
	"github.com/brojonat/xray/service/source"
	"github.com/brojonat/xray/service/temporal"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"source", cfg.Source,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	labels, err := cfg.LoadLabels()
	if err != nil {
		logger.Error("failed to load labels", "file", cfg.LabelsFile, "error", err)
		os.Exit(1)
	}
	classifier := classify.NewClassifier(labels, cfg.ClassifyOptions(), metricsCollector, logger)

	src, err := source.New(cfg, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create transaction source", "error", err)
		os.Exit(1)
	}

	deps := server.Dependencies{
		Classifier: classifier,
		Source:     src,
	}

	// The database is optional: without it history and watching respond 503
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		if err := db.Migrate(ctx, dbPool); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")
		deps.Store = db.NewStore(dbPool).WithMetrics(metricsCollector)
	} else {
		logger.Warn("DATABASE_URL not set, history and watching disabled")
	}

	if cfg.NATSURL != "" {
		js, err := natspkg.Connect(cfg.NATSURL, "xray-server", metricsCollector, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer js.Close()
		deps.Subscriber = js
	}

	if deps.Store != nil {
		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		deps.Scheduler = temporalClient
		logger.Info("connected to temporal for schedule management",
			"host", cfg.TemporalHost,
			"namespace", cfg.TemporalNamespace,
		)
	}

	httpServer := server.New(cfg.ServerAddr, cfg, deps, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"database", deps.Store != nil,
		"nats", deps.Subscriber != nil,
		"temporal", deps.Scheduler != nil,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}
