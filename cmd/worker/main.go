/**
 * Recipe Extraction Worker - Main Entry Point
 *
 * Consumes recipe:extract tasks from Redis (asynq), runs each image through
 * the extraction pipeline and stores the outcome in the job status store.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed job queue
 * - Preprocess -> OCR (Tesseract or MageAgent vision) -> LLM -> normalize
 * - Redis job records for status polling through the gateway
 * - Optional PostgreSQL audit log of every run
 */

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/recipe-extractor/internal/app"
	"github.com/adverant/nexus/recipe-extractor/internal/config"
	"github.com/adverant/nexus/recipe-extractor/internal/logging"
	"github.com/adverant/nexus/recipe-extractor/internal/processor"
	"github.com/adverant/nexus/recipe-extractor/internal/queue"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Configure(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger := logging.NewLogger("Worker")

	if err := run(cfg, logger); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required for the worker")
	}

	logger.Info("Recipe extraction worker starting",
		"queue", cfg.QueueName,
		"concurrency", cfg.WorkerConcurrency,
		"ocrEngine", cfg.OCREngine,
	)

	var recorder processor.RunRecorder
	pg, err := app.OpenRecorder(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize run audit log: %w", err)
	}
	if pg != nil {
		defer pg.Close()
		recorder = pg
		logger.Info("Run audit log enabled (PostgreSQL)")
	}

	proc, err := app.NewPipeline(cfg, recorder)
	if err != nil {
		return fmt.Errorf("failed to initialize extraction pipeline: %w", err)
	}

	store, err := app.OpenJobStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}
	defer store.Close()

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		MaxRetry:          cfg.TaskMaxRetry,
		Processor:         proc,
		Store:             store,
		ProcessingTimeout: cfg.WorkerTaskTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize queue consumer: %w", err)
	}

	if err := consumer.Start(); err != nil {
		return err
	}
	logger.Info("Worker is ready, waiting for jobs", "stats", consumer.GetStatistics())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

	if err := consumer.Stop(); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}
