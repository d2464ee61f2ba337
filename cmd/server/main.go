package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/osmosync/service/config"
	"github.com/brojonat/osmosync/service/db"
	"github.com/brojonat/osmosync/service/metrics"
	natspkg "github.com/brojonat/osmosync/service/nats"
	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/brojonat/osmosync/service/server"
	"github.com/brojonat/osmosync/service/syncer"
	"github.com/brojonat/osmosync/service/temporal"
	"github.com/brojonat/osmosync/service/txpipeline"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"network", cfg.Network,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// nil uses the default registry, which the /metrics endpoint serves
	metricsCollector := metrics.NewMetrics(nil)

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
	logger.Info("connected to database")

	store := db.NewStore(dbPool, metricsCollector)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	indexer := osmosis.NewIndexerClient(
		osmosis.NewHTTPTransport(transportConfig(cfg, "indexer"), metricsCollector, logger),
		cfg.IndexerURL,
		metricsCollector,
		logger,
	)
	node := osmosis.NewNodeClient(
		osmosis.NewHTTPTransport(transportConfig(cfg, "node"), metricsCollector, logger),
		cfg.NodeURL,
		cfg.Denom,
		logger,
	)
	logger.Info("initialized osmosis clients", "indexer_url", cfg.IndexerURL, "node_url", cfg.NodeURL)

	engine := syncer.NewEngine(indexer, node, syncer.Options{
		Network:    cfg.Network,
		CurrencyID: cfg.CurrencyID,
		PageSize:   cfg.SyncPageSize,
		MaxPages:   cfg.SyncMaxPages,
	}, metricsCollector, logger)

	// Transactions go out over CometBFT RPC when configured, the LCD otherwise.
	var submitter txpipeline.Submitter = node
	if cfg.RPCURL != "" {
		submitter = osmosis.NewCometClient(osmosis.NewRPCCaller(cfg.RPCURL), logger)
		logger.Info("broadcasting through CometBFT RPC", "rpc_url", cfg.RPCURL)
	}
	broadcaster := txpipeline.NewBroadcaster(submitter, metricsCollector, logger)

	publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		// streaming is optional; the rest of the API works without it
		logger.Warn("failed to create SSE publisher", "error", err)
		ssePublisher = nil
	}

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

	httpServer := server.New(cfg.ServerAddr, cfg, server.Deps{
		Store:       store,
		Scheduler:   temporalClient,
		Engine:      engine,
		Broadcaster: broadcaster,
		Publisher:   publisher,
		SSE:         ssePublisher,
		Metrics:     metricsCollector,
	}, logger)

	logger.Info("server initialized, all dependencies ready",
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
		"task_queue", cfg.TemporalTaskQueue,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

func transportConfig(cfg *config.Config, component string) osmosis.TransportConfig {
	return osmosis.TransportConfig{
		Component:         component,
		Timeout:           cfg.HTTPTimeout,
		RequestsPerSecond: cfg.HTTPRequestsPerSecond,
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
