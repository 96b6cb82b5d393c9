package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/recipe-extractor/internal/app"
	"github.com/adverant/nexus/recipe-extractor/internal/config"
	"github.com/adverant/nexus/recipe-extractor/internal/queue"
	"github.com/adverant/nexus/recipe-extractor/internal/storage"
)

var (
	submitLanguage string
	submitMimeType string
	statusWait     time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit <image>",
	Short: "Queue an image for the extraction worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <jobId>",
	Short: "Show the state of an extraction job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per status",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	submitCmd.Flags().StringVarP(&submitLanguage, "language", "l", "", "language hint (en, he)")
	submitCmd.Flags().StringVar(&submitMimeType, "mime-type", "", "override the detected image type")
	statusCmd.Flags().DurationVarP(&statusWait, "wait", "w", 0, "wait until the job finishes or the duration elapses")

	rootCmd.AddCommand(submitCmd, statusCmd, statsCmd)
}

func openStore() (*config.Config, *storage.JobStore, error) {
	cfg := config.FromEnv()
	if cfg.RedisURL == "" {
		return nil, nil, fmt.Errorf("REDIS_URL is required for job commands")
	}
	store, err := app.OpenJobStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	image, err := readImage(args[0], submitMimeType)
	if err != nil {
		return err
	}

	producer, err := queue.NewProducer(&queue.ProducerConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   cfg.QueueName,
		MaxRetry:    cfg.TaskMaxRetry,
		TaskTimeout: cfg.WorkerTaskTimeout,
		MaxPending:  cfg.QueueMaxPending,
		Store:       store,
	})
	if err != nil {
		return err
	}
	defer producer.Close()

	rec, err := producer.Submit(cmd.Context(), image, submitLanguage)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("queued"), rec.JobID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if statusWait <= 0 {
		rec, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printRecord(cmd, rec)
	}

	sub := store.Subscribe(ctx)
	defer sub.Close()
	// Subscribe before the first read so no transition is missed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to job events: %w", err)
	}

	spin := newSpinner(cmd.ErrOrStderr(), "Waiting for job "+args[0]+"...")
	spin.Start()
	defer spin.Stop()

	timer := time.NewTimer(statusWait)
	defer timer.Stop()

	rec, err := awaitJob(ctx, store.Get, sub.Channel(), args[0], timer.C)
	spin.Stop()
	if err != nil {
		return err
	}
	return printRecord(cmd, rec)
}

type jobLookup func(ctx context.Context, jobID string) (*storage.JobRecord, error)

// awaitJob returns the job once it reaches a terminal status, or its latest
// state when deadline fires or the event stream closes.
func awaitJob(ctx context.Context, get jobLookup, events <-chan *redis.Message, jobID string, deadline <-chan time.Time) (*storage.JobRecord, error) {
	rec, err := get(ctx, jobID)
	if err != nil || jobFinished(rec.Status) {
		return rec, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return get(ctx, jobID)
		case msg, ok := <-events:
			if !ok {
				return get(ctx, jobID)
			}
			var event storage.JobEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil || event.JobID != jobID {
				continue
			}
			if event.Event == "job:"+string(storage.JobCompleted) || event.Event == "job:"+string(storage.JobFailed) {
				return get(ctx, jobID)
			}
		}
	}
}

func jobFinished(status storage.JobStatus) bool {
	return status == storage.JobCompleted || status == storage.JobFailed
}

func printRecord(cmd *cobra.Command, rec *storage.JobRecord) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s (attempts: %d)\n", statusLabel(rec.Status), rec.Attempts)
	return printJSON(cmd.OutOrStdout(), rec)
}

func runStats(cmd *cobra.Command, args []string) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.GetStats(cmd.Context())
	if err != nil {
		return err
	}
	for _, status := range []storage.JobStatus{storage.JobQueued, storage.JobProcessing, storage.JobCompleted, storage.JobFailed} {
		fmt.Fprintf(cmd.OutOrStdout(), "%-22s %d\n", statusLabel(status), stats[string(status)])
	}
	return nil
}

func statusLabel(status storage.JobStatus) string {
	switch status {
	case storage.JobCompleted:
		return color.GreenString(string(status))
	case storage.JobFailed:
		return color.RedString(string(status))
	case storage.JobProcessing:
		return color.CyanString(string(status))
	default:
		return color.YellowString(string(status))
	}
}
