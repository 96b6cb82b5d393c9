/**
 * Redis Job Store for asynchronous extractions
 *
 * Keeps one JSON record per job plus status sets for queue statistics, and
 * publishes a status event on every transition for listeners.
 */

package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/recipe-extractor/internal/errors"
	"github.com/adverant/nexus/recipe-extractor/internal/logging"
	"github.com/adverant/nexus/recipe-extractor/internal/processor"
)

// JobStatus is the lifecycle state of an asynchronous extraction
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ErrJobNotFound is returned for unknown or expired job IDs
var ErrJobNotFound = stderrors.New("job not found")

// JobRecord is the stored state of one job. It is also the body of the job
// status endpoint.
type JobRecord struct {
	JobID     string            `json:"jobId"`
	Status    JobStatus         `json:"status"`
	Recipe    *processor.Recipe `json:"recipe,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message,omitempty"`
	Attempts  int               `json:"attempts"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// JobEvent is published on <prefix>:events
type JobEvent struct {
	Event     string    `json:"event"`
	JobID     string    `json:"jobId"`
	Timestamp time.Time `json:"timestamp"`
}

// JobStore tracks asynchronous extraction jobs in Redis
type JobStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *logging.Logger
}

// JobStoreConfig holds job store configuration
type JobStoreConfig struct {
	RedisURL string
	Prefix   string
	TTL      time.Duration
}

// NewJobStore connects to Redis and verifies the connection
func NewJobStore(cfg *JobStoreConfig) (*JobStore, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewJobStoreWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewJobStoreWithClient wraps an existing client
func NewJobStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *JobStore {
	if prefix == "" {
		prefix = "recipe:jobs"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JobStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logging.NewLogger("JobStore"),
	}
}

func (s *JobStore) jobKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", s.prefix, jobID)
}

func (s *JobStore) setKey(status JobStatus) string {
	return fmt.Sprintf("%s:%s", s.prefix, status)
}

// Create records a new queued job
func (s *JobStore) Create(ctx context.Context, jobID string) (*JobRecord, error) {
	now := time.Now().UTC()
	rec := &JobRecord{JobID: jobID, Status: JobQueued, CreatedAt: now, UpdatedAt: now}
	if err := s.save(ctx, rec, ""); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkProcessing records a processing attempt
func (s *JobStore) MarkProcessing(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, func(rec *JobRecord) {
		rec.Status = JobProcessing
		rec.Attempts++
	})
}

// Complete stores the extracted recipe
func (s *JobStore) Complete(ctx context.Context, jobID string, recipe *processor.Recipe) error {
	return s.transition(ctx, jobID, func(rec *JobRecord) {
		rec.Status = JobCompleted
		rec.Recipe = recipe
		rec.ErrorCode = ""
		rec.Message = ""
	})
}

// Fail stores the caller-facing part of a pipeline error
func (s *JobStore) Fail(ctx context.Context, jobID string, pe *errors.PipelineError) error {
	return s.transition(ctx, jobID, func(rec *JobRecord) {
		rec.Status = JobFailed
		rec.Recipe = nil
		rec.ErrorCode = string(pe.Kind)
		rec.Message = pe.Message
	})
}

// Get returns a job record or ErrJobNotFound
func (s *JobStore) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	data, err := s.client.Get(ctx, s.jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	var rec JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	return &rec, nil
}

func (s *JobStore) transition(ctx context.Context, jobID string, mutate func(*JobRecord)) error {
	rec, err := s.Get(ctx, jobID)
	if stderrors.Is(err, ErrJobNotFound) {
		// Tasks enqueued by other producers have no record yet
		now := time.Now().UTC()
		rec = &JobRecord{JobID: jobID, CreatedAt: now}
	} else if err != nil {
		return err
	}

	previous := rec.Status
	mutate(rec)
	rec.UpdatedAt = time.Now().UTC()
	return s.save(ctx, rec, previous)
}

func (s *JobStore) save(ctx context.Context, rec *JobRecord, previous JobStatus) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", rec.JobID, err)
	}

	event, err := json.Marshal(&JobEvent{
		Event:     fmt.Sprintf("job:%s", rec.Status),
		JobID:     rec.JobID,
		Timestamp: rec.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode job event: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(rec.JobID), data, s.ttl)
		if previous != "" && previous != rec.Status {
			pipe.SRem(ctx, s.setKey(previous), rec.JobID)
		}
		pipe.SAdd(ctx, s.setKey(rec.Status), rec.JobID)
		pipe.Publish(ctx, s.prefix+":events", event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save job %s (status=%s): %w", rec.JobID, rec.Status, err)
	}

	s.logger.Debug("Job status updated", "jobId", rec.JobID, "status", rec.Status, "previous", previous)
	return nil
}

// GetStats returns the number of jobs per status
func (s *JobStore) GetStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, 4)
	for _, status := range []JobStatus{JobQueued, JobProcessing, JobCompleted, JobFailed} {
		n, err := s.client.SCard(ctx, s.setKey(status)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count %s jobs: %w", status, err)
		}
		stats[string(status)] = n
	}
	return stats, nil
}

// Subscribe returns a subscription to job events
func (s *JobStore) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, s.prefix+":events")
}

// Ping checks Redis connectivity
func (s *JobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *JobStore) Close() error {
	return s.client.Close()
}
