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
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	cfg := config.LoadConfig()
	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	if err := cfg.Validate(); err != nil {
		lg.Fatal("invalid configuration", "error", err)
	}

	api, err := app.NewAPI(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("startup failed", "error", err)
	}
	defer api.Close(context.Background())

	lg.Info("ragready API is running", "port", cfg.Port, "store_mode", cfg.StoreMode)
	if err := api.Run(ctx); err != nil {
		lg.Error("api stopped with error", "error", err)
	}
	lg.Info("shutting down...")
}
