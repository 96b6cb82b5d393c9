/**
 * Queue Consumer for the Recipe Extraction worker
 *
 * Consumes recipe:extract tasks from Redis and runs them through the
 * extraction pipeline. Uses Asynq for queue management.
 */

package queue

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/recipe-extractor/internal/errors"
	"github.com/adverant/nexus/recipe-extractor/internal/logging"
	"github.com/adverant/nexus/recipe-extractor/internal/processor"
)

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
	processor processor.RecipeProcessorInterface
	store     JobStore
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	// MaxRetry is assumed when the task context does not carry one
	MaxRetry          int
	Processor         processor.RecipeProcessorInterface
	Store             JobStore
	ProcessingTimeout time.Duration // default: 2 minutes
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("Store is required")
	}

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 2 * time.Minute
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("QueueConsumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s ... capped at 60s
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID, _ := asynq.GetTaskID(ctx)
				retried, _ := asynq.GetRetryCount(ctx)
				logger.Error("Task processing error",
					"type", task.Type(),
					"taskId", taskID,
					"retried", retried,
					"error", err,
				)
			}),
			Logger:   &asynqLogger{logger: logging.NewLogger("asynq")},
			LogLevel: asynq.WarnLevel,
		},
	)

	consumer := newConsumer(cfg, logger)
	consumer.server = server
	consumer.inspector = asynq.NewInspector(redisOpt)
	return consumer, nil
}

func newConsumer(cfg *ConsumerConfig, logger *logging.Logger) *Consumer {
	c := &Consumer{
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		store:     cfg.Store,
		config:    cfg,
		logger:    logger,
	}
	c.mux.HandleFunc(TypeRecipeExtract, c.handleExtract)
	return c
}

func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second || delay <= 0 {
		delay = 60 * time.Second
	}
	return delay
}

// Start starts the queue consumer without blocking
func (c *Consumer) Start() error {
	c.logger.Info("Starting queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName,
	)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop waits for in-flight tasks and stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping queue consumer")

	c.server.Shutdown()

	if err := c.inspector.Close(); err != nil {
		return fmt.Errorf("failed to close inspector: %w", err)
	}

	c.logger.Info("Queue consumer stopped")
	return nil
}

// handleExtract runs one extraction task. Non-retryable pipeline failures
// are final on the first attempt; retryable ones are handed back to asynq
// until the retry budget is spent.
func (c *Consumer) handleExtract(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	payload, err := ParseExtractPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := c.logger.With("jobId", payload.JobID)
	log.Info("Processing extraction job",
		"size", len(payload.Image),
		"mimeType", payload.MimeType,
		"language", payload.Language,
	)

	if err := c.store.MarkProcessing(ctx, payload.JobID); err != nil {
		log.Warn("Failed to update status to processing", "error", err)
	}

	processCtx, cancel := context.WithTimeout(ctx, c.config.ProcessingTimeout)
	defer cancel()

	result := c.processor.Process(processCtx, payload.Request())
	duration := time.Since(startTime)

	if result.Success() {
		if err := c.store.Complete(ctx, payload.JobID, result.Recipe); err != nil {
			// The recipe is lost if the store is unreachable; let asynq retry the job.
			return fmt.Errorf("failed to store recipe for job %s: %w", payload.JobID, err)
		}
		log.Info("Extraction job completed",
			"duration", duration,
			"title", result.Recipe.Title,
			"interpreterCalls", result.Diagnostics.InterpreterCalls,
		)
		return nil
	}

	pe := result.Err
	if pe == nil {
		pe = errors.NewUnrecoverableSchemaError("pipeline returned neither recipe nor error")
	}

	if pe.Retryable() && !c.finalAttempt(ctx) {
		log.Warn("Extraction job failed, will retry",
			"duration", duration,
			"error_code", pe.Kind,
			"stage", pe.Stage,
		)
		return fmt.Errorf("extraction failed: %w", pe)
	}

	if err := c.store.Fail(ctx, payload.JobID, pe); err != nil {
		log.Warn("Failed to update status to failed", "error", err)
	}

	log.Warn("Extraction job failed",
		"duration", duration,
		"error_code", pe.Kind,
		"stage", pe.Stage,
	)

	if pe.Retryable() {
		return fmt.Errorf("extraction failed: %w", pe)
	}
	return fmt.Errorf("extraction failed: %v: %w", pe, asynq.SkipRetry)
}

func (c *Consumer) finalAttempt(ctx context.Context) bool {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		maxRetry = c.config.MaxRetry
	}
	return retried >= maxRetry
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	stats := map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}

	if c.inspector == nil {
		return stats
	}

	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}

	stats["pending"] = info.Pending
	stats["active"] = info.Active
	stats["retry"] = info.Retry
	stats["archived"] = info.Archived
	stats["processed"] = info.Processed
	stats["failed"] = info.Failed
	return stats
}

// asynqLogger routes asynq's internal logging through zerolog
type asynqLogger struct {
	logger *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
