package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"ledgerdiff/internal/amqp"
	"ledgerdiff/internal/assistant"
	"ledgerdiff/internal/config"
	"ledgerdiff/internal/export"
	apphttp "ledgerdiff/internal/http"
	applog "ledgerdiff/internal/log"
	"ledgerdiff/internal/services"
	"ledgerdiff/internal/session"
	"ledgerdiff/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	logger.Info("Starting ledgerdiff server")

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

	// AMQP feeds the precompute worker; the dashboard works without it
	var publisher services.EventPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, snapshot events disabled", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled, snapshot events will not be published")
	}

	reports := services.NewReportService(repo, publisher)

	sess := session.New(reports, logger.Logger)
	reg, err := reports.Registry(context.Background())
	if err != nil {
		logger.Error("Failed to load snapshot registry", "error", err)
		os.Exit(1)
	}
	sess.SetRegistry(reg)
	logger.Info("Snapshot registry loaded", "dates", reg.Len())

	var asst apphttp.Assistant
	if cfg.AssistantBaseURL != "" {
		asst = assistant.NewClient(cfg.AssistantBaseURL, cfg.AssistantModel, cfg.AssistantAPIKey)
		logger.Info("Assistant endpoint configured", "model", cfg.AssistantModel)
	} else {
		logger.Info("Assistant disabled, no ASSISTANT_BASE_URL provided")
	}

	var exporter apphttp.Exporter
	if cfg.GoogleSpreadsheetID != "" {
		ex, err := export.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Sheets exporter", "error", err)
			os.Exit(1)
		}
		exporter = ex
		logger.Info("Sheets exporter initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Sheets export disabled, no GOOGLE_SPREADSHEET_ID provided")
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Reports:   reports,
		Session:   sess,
		Assistant: asst,
		Exporter:  exporter,
		Logger:    logger,
		CacheSize: cfg.ReportCacheSize,
		CacheTTL:  cfg.ReportCacheTTL,
	})

	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
