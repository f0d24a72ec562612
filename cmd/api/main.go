package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vaidashi/storefront-orders/internal/app"
	"github.com/vaidashi/storefront-orders/internal/config"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

func main() {
	cfg, err := config.Load()

	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var l logger.Logger
	if cfg.IsDevelopment() {
		l = logger.NewDevelopmentLogger(cfg.LogLevel)
	} else {
		l = logger.NewLogger(cfg.LogLevel)
	}

	l.Info("Starting order service",
		"port", cfg.Port,
		"store", cfg.Store.Driver,
		"policy", cfg.Orders.ConfirmationPolicy,
		"kafka", cfg.Kafka.Enabled)

	a, err := app.New(cfg, l)

	if err != nil {
		l.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		l.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}

	l.Info("Server exiting")
}
