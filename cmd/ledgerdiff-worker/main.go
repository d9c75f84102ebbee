package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"ledgerdiff/internal/amqp"
	"ledgerdiff/internal/config"
	applog "ledgerdiff/internal/log"
	"ledgerdiff/internal/services"
	"ledgerdiff/internal/storage"
	"ledgerdiff/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Component: applog.ComponentWorker})
	applog.SetDefault(logger)

	logger.Info("Starting ledgerdiff-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// The worker never publishes events; it only reacts to them
	reports := services.NewReportService(repo, nil)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	precompute := worker.NewPrecomputeWorker(reports, cfg.SweepInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Consuming snapshot events", "queue", cfg.AMQPQueue)
		err := amqpClient.ConsumeSnapshotEvents(gctx, func(msg *amqp.SnapshotEventMessage) error {
			return precompute.HandleEvent(gctx, msg)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Periodic sweep picks up events lost while the worker was down
	g.Go(func() error {
		err := precompute.RunPeriodicSweep(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
