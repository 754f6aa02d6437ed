package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/markdave123-py/ragready/internal/app"
	"github.com/markdave123-py/ragready/internal/config"
	"github.com/markdave123-py/ragready/internal/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.LoadConfig()
	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	if err := cfg.Validate(); err != nil {
		lg.Fatal("invalid configuration", "error", err)
	}
	if cfg.StoreMode == "memory" {
		lg.Warn("worker started with STORE_MODE=memory; it shares no state with the API process")
	}

	w, err := app.NewWorker(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("startup failed", "error", err)
	}

	runErr := w.Run(ctx)
	w.Close(context.Background())
	if runErr != nil {
		lg.Error("worker stopped with error", "error", runErr)
		lg.Sync()
		os.Exit(1)
	}
	lg.Info("worker stopped")
}
