package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vaultpay-hq/facilitator/pkg/api"
	"github.com/vaultpay-hq/facilitator/pkg/config"
	"github.com/vaultpay-hq/facilitator/pkg/facilitator"
	"github.com/vaultpay-hq/facilitator/pkg/logger"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	stdLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create the facilitator service
	service, err := facilitator.NewService(ctx, cfg, stdLogger)
	if err != nil {
		log.Fatalf("Failed to create facilitator service: %v", err)
	}

	// Start the API server
	server := api.NewServer(cfg.APIPort, cfg.MetricsKey,
		service.Registry(), service.Settler(), service.Queue(), service.Clients(), stdLogger)
	go func() {
		if err := server.Start(); err != nil {
			stdLogger.Error("API server stopped: %v", err)
			cancel()
		}
	}()

	// Internal metrics listener
	go func() {
		stdLogger.Info("Starting metrics server on port %s", cfg.MetricsPort)
		if err := http.ListenAndServe(":"+cfg.MetricsPort, server.MetricsHandler()); err != nil {
			stdLogger.Error("Metrics server stopped: %v", err)
		}
	}()

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		stdLogger.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	// Run the settle and retention loops until cancelled
	stdLogger.Info("Starting the facilitator service...")
	service.Start(ctx)

	// Drain in-flight API requests before exiting
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		stdLogger.Error("API server shutdown: %v", err)
	}
}
