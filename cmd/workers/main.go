package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"certifica/issuance-backend/internal/app"
	"certifica/issuance-backend/internal/config"
	"certifica/issuance-backend/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := app.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// progress events have no subscribers in this process
	application, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer application.Close()

	schedulerConfig := worker.DefaultSchedulerConfig()
	schedulerConfig.Schedule = cfg.Worker.Schedule
	schedulerConfig.BatchSize = cfg.Worker.BatchSize

	scheduler := worker.NewScheduler(application.Service, logger, schedulerConfig)

	// Process anything queued while the worker was down
	scheduler.RunOnce(ctx)

	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("Failed to start regeneration scheduler", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	scheduler.Stop()

	logger.Info("Regeneration worker stopped")
}
