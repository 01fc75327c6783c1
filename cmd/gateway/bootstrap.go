package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"trade-gateway/internal/broker/brokerobs"
	"trade-gateway/internal/broker/kite"
	"trade-gateway/internal/executor"
	"trade-gateway/internal/interfaces"
	"trade-gateway/internal/logger"
	"trade-gateway/internal/marketdata"
	"trade-gateway/internal/server"
	"trade-gateway/internal/session"
	"trade-gateway/internal/store"
	"trade-gateway/internal/trace"
	"trade-gateway/internal/tradelog"

	"github.com/joho/godotenv"
)

// initializeSystem initializes environment, logger, and tracer
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize tracer
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig("config.yaml")
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// loadCredentials reads the brokerage API credentials. Missing credentials
// abort startup: there is nothing useful the gateway can do without them.
func loadCredentials(ctx context.Context) (store.Credentials, error) {
	creds, err := store.LoadCredentials()
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load brokerage credentials", err)
		return store.Credentials{}, err
	}
	return creds, nil
}

// compressOldLogs compresses old tradelog files if retention is configured
func compressOldLogs(ctx context.Context) {
	if v := os.Getenv("GATEWAY_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if err := tradelog.CompressOlder(n); err != nil {
			logger.Warn(ctx, "Failed to compress old logs", "error", err)
		}
	}
}

// initializeBroker initializes the brokerage adapter with observability
func initializeBroker(ctx context.Context, cfg *store.Config, creds store.Credentials) interfaces.Broker {
	brk := kite.New(kite.Params{
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
		Exchange:  cfg.Exchange,
		QueueSize: cfg.Stream.QueueSize,
	})

	logger.Info(ctx, "Brokerage adapter initialized",
		"exchange", cfg.Exchange,
		"watchlist_size", len(cfg.Watchlist),
	)

	// Wrap with observability middleware
	return brokerobs.Wrap(brk)
}

// initializeServer wires session, cache, ranker and executor into the HTTP server
func initializeServer(ctx context.Context, cfg *store.Config, creds store.Credentials) *server.Server {
	brk := initializeBroker(ctx, cfg, creds)

	sess := session.NewManager(creds, brk)
	cache := marketdata.NewCache(marketdata.CacheParams{
		Broker:           brk,
		Watchlist:        cfg.Watchlist,
		ReconnectInitial: time.Duration(cfg.Stream.ReconnectInitialSeconds) * time.Second,
		ReconnectMax:     time.Duration(cfg.Stream.ReconnectMaxSeconds) * time.Second,
	})
	ranker := marketdata.NewRanker(brk, cfg.Watchlist)
	exec := executor.New(brk)

	return server.New(server.Params{
		Cfg:      cfg,
		Session:  sess,
		Cache:    cache,
		Ranker:   ranker,
		Executor: exec,
		AppCtx:   ctx,
	})
}
