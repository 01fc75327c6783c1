package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trade-gateway/internal/logger"
	"trade-gateway/internal/trace"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	must(initializeSystem())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(ctx)
	must(err)
	creds, err := loadCredentials(ctx)
	must(err)

	compressOldLogs(ctx)

	srv := initializeServer(ctx, cfg, creds)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() { errc <- srv.Run() }()

	select {
	case err := <-errc:
		if err != nil {
			logger.ErrorWithErr(ctx, "Server failed", err)
		}
	case sig := <-sigc:
		logger.Info(ctx, "Shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr(shutdownCtx, "Graceful shutdown failed", err)
	}
	cancel()
	_ = trace.Shutdown(shutdownCtx)
}
