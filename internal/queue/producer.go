/**
 * Job Producer for asynchronous recipe extraction
 *
 * Records the job as queued, then enqueues it on the asynq queue that the
 * worker consumes. The job ID is used as the asynq task ID so a job is
 * never enqueued twice.
 */

package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/recipe-extractor/internal/errors"
	"github.com/adverant/nexus/recipe-extractor/internal/logging"
	"github.com/adverant/nexus/recipe-extractor/internal/processor"
	"github.com/adverant/nexus/recipe-extractor/internal/storage"
)

// JobStore is the subset of storage.JobStore used by the queue
type JobStore interface {
	Create(ctx context.Context, jobID string) (*storage.JobRecord, error)
	Get(ctx context.Context, jobID string) (*storage.JobRecord, error)
	MarkProcessing(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, recipe *processor.Recipe) error
	Fail(ctx context.Context, jobID string, pe *errors.PipelineError) error
}

// ErrQueueUnavailable marks a submission that failed on the job store or
// the queue backend rather than on queue capacity.
var ErrQueueUnavailable = stderrors.New("job queue unavailable")

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type queueInspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	RedisURL  string
	QueueName string
	MaxRetry  int
	// TaskTimeout bounds one worker attempt. Defaults to 2 minutes.
	TaskTimeout time.Duration
	// Retention keeps completed task metadata in asynq. Defaults to 1 hour.
	Retention time.Duration
	// MaxPending rejects submissions while this many tasks wait in the
	// queue. Zero leaves the backlog unbounded.
	MaxPending int
	Store      JobStore
}

// Producer submits extraction jobs
type Producer struct {
	client    taskEnqueuer
	inspector queueInspector
	store     JobStore
	config    *ProducerConfig
	logger    *logging.Logger
}

// NewProducer creates a producer connected to the asynq Redis instance
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	p, err := newProducer(asynq.NewClient(redisOpt), cfg)
	if err != nil {
		return nil, err
	}
	if cfg.MaxPending > 0 {
		p.inspector = asynq.NewInspector(redisOpt)
	}
	return p, nil
}

func newProducer(client taskEnqueuer, cfg *ProducerConfig) (*Producer, error) {
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("Store is required")
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 2 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}

	return &Producer{
		client: client,
		store:  cfg.Store,
		config: cfg,
		logger: logging.NewLogger("JobProducer"),
	}, nil
}

// Submit records and enqueues an extraction job
func (p *Producer) Submit(ctx context.Context, image processor.RawImage, language string) (*storage.JobRecord, error) {
	jobID := uuid.New().String()

	task, err := NewExtractTask(&ExtractPayload{
		JobID:    jobID,
		Image:    image.Data,
		MimeType: image.MimeType,
		Language: language,
	})
	if err != nil {
		return nil, err
	}

	if err := p.checkBacklog(); err != nil {
		return nil, err
	}

	rec, err := p.store.Create(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to record job: %w", ErrQueueUnavailable, err)
	}

	info, err := p.client.EnqueueContext(ctx, task,
		asynq.Queue(p.config.QueueName),
		asynq.TaskID(jobID),
		asynq.MaxRetry(p.config.MaxRetry),
		asynq.Timeout(p.config.TaskTimeout),
		asynq.Retention(p.config.Retention),
	)
	if err != nil {
		if stderrors.Is(err, asynq.ErrTaskIDConflict) {
			return rec, nil
		}
		if failErr := p.store.Fail(ctx, jobID, errors.NewOverloadedError(0)); failErr != nil {
			p.logger.Warn("Failed to mark unqueued job as failed", "jobId", jobID, "error", failErr)
		}
		return nil, fmt.Errorf("%w: failed to enqueue job %s: %w", ErrQueueUnavailable, jobID, err)
	}

	p.logger.Info("Job enqueued",
		"jobId", jobID,
		"queue", info.Queue,
		"size", len(image.Data),
		"mimeType", image.MimeType,
	)
	return rec, nil
}

// checkBacklog returns an OVERLOADED error while the queue holds MaxPending
// or more waiting tasks.
func (p *Producer) checkBacklog() error {
	if p.inspector == nil || p.config.MaxPending <= 0 {
		return nil
	}

	// asynq registers a queue on its first enqueue
	queues, err := p.inspector.Queues()
	if err != nil {
		return fmt.Errorf("%w: failed to list queues: %w", ErrQueueUnavailable, err)
	}
	if !slices.Contains(queues, p.config.QueueName) {
		return nil
	}

	info, err := p.inspector.GetQueueInfo(p.config.QueueName)
	if err != nil {
		return fmt.Errorf("%w: failed to inspect queue %s: %w", ErrQueueUnavailable, p.config.QueueName, err)
	}

	if info.Pending >= p.config.MaxPending {
		p.logger.Warn("Job queue is full",
			"queue", p.config.QueueName,
			"pending", info.Pending,
			"maxPending", p.config.MaxPending,
		)
		return errors.NewOverloadedError(p.config.MaxPending)
	}
	return nil
}

// Get returns the current state of a job
func (p *Producer) Get(ctx context.Context, jobID string) (*storage.JobRecord, error) {
	return p.store.Get(ctx, jobID)
}

// Close closes the asynq client and inspector
func (p *Producer) Close() error {
	if p.inspector != nil {
		p.inspector.Close()
	}
	return p.client.Close()
}
