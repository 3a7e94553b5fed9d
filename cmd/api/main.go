package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/api"
	"github.com/ticket-classifier/backend/internal/app"
	"github.com/ticket-classifier/backend/pkg/config"
	appLogger "github.com/ticket-classifier/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Ticket Classification API Server")

	services, err := app.New(context.Background(), cfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize services", zap.Error(err))
	}

	scheduler, err := services.Scheduler()
	if err != nil {
		appLogger.Fatal("Failed to create retraining scheduler", zap.Error(err))
	}
	if scheduler != nil {
		scheduler.Start()
	}

	server, err := api.NewServer(services)
	if err != nil {
		appLogger.Fatal("Failed to create server", zap.Error(err))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")

	timeout := time.Duration(cfg.Server.ShutdownTimeoutSec) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.ShutdownWithContext(ctx); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	// Batches still running at the deadline are cancelled and finish with
	// whatever they managed to save.
	if err := services.Close(ctx); err != nil {
		appLogger.Error("Failed to release resources", zap.Error(err))
	}

	appLogger.Info("Server stopped")
}
