/**
 * Recipe Extraction Gateway - Main Entry Point
 *
 * HTTP front door of the recipe extraction pipeline:
 * - Synchronous extraction from base64 JSON or multipart uploads
 * - Optional asynchronous jobs (asynq + Redis) when REDIS_URL is set
 * - Optional PostgreSQL run audit log when DATABASE_URL is set
 */

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/recipe-extractor/internal/app"
	"github.com/adverant/nexus/recipe-extractor/internal/config"
	"github.com/adverant/nexus/recipe-extractor/internal/gateway"
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
	logger := logging.NewLogger("Gateway")

	if err := run(cfg, logger); err != nil {
		logger.Error("Gateway stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	checks := make(map[string]gateway.ReadinessCheck)

	var recorder processor.RunRecorder
	pg, err := app.OpenRecorder(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize run audit log: %w", err)
	}
	if pg != nil {
		defer pg.Close()
		recorder = pg
		checks["postgres"] = pg.Ping
		logger.Info("Run audit log enabled (PostgreSQL)")
	}

	proc, err := app.NewPipeline(cfg, recorder)
	if err != nil {
		return fmt.Errorf("failed to initialize extraction pipeline: %w", err)
	}
	if check := proc.ExtractorHealth(); check != nil {
		checks["ocr"] = check
		logger.Info("OCR readiness check enabled", "ocrEngine", cfg.OCREngine)
	}

	var jobs gateway.JobQueue
	store, err := app.OpenJobStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}
	if store != nil {
		defer store.Close()

		producer, err := queue.NewProducer(&queue.ProducerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			MaxRetry:    cfg.TaskMaxRetry,
			TaskTimeout: cfg.WorkerTaskTimeout,
			MaxPending:  cfg.QueueMaxPending,
			Store:       store,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize job producer: %w", err)
		}
		defer producer.Close()

		jobs = producer
		checks["redis"] = store.Ping
		logger.Info("Asynchronous extraction jobs enabled", "queue", cfg.QueueName)
	}

	handler, err := gateway.NewHandler(gateway.HandlerConfig{
		Processor:     proc,
		Jobs:          jobs,
		MaxImageBytes: cfg.MaxImageBytes,
		Checks:        checks,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           gateway.NewRouter(handler, gateway.RouterConfig{RequestTimeout: cfg.RequestTimeout}),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Recipe extraction gateway listening",
			"port", cfg.Port,
			"ocrEngine", cfg.OCREngine,
			"env", cfg.NodeEnv,
		)
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case sig := <-sigChan:
		logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PipelineTimeout+5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}
