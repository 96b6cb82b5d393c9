package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/recipe-extractor/internal/app"
	"github.com/adverant/nexus/recipe-extractor/internal/config"
	"github.com/adverant/nexus/recipe-extractor/internal/storage"
)

var failuresSince time.Duration

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Count failed extractions per error code",
	Long: `Reads the run audit log and prints how many extractions failed with
each error code within the --since window.`,
	Args: cobra.NoArgs,
	RunE: runFailures,
}

var runCmd = &cobra.Command{
	Use:   "run <requestId>",
	Short: "Show the audit record of one extraction",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

func init() {
	failuresCmd.Flags().DurationVar(&failuresSince, "since", 24*time.Hour, "how far back to count")
	rootCmd.AddCommand(failuresCmd, runCmd)
}

func openAuditLog() (*storage.PostgresClient, error) {
	cfg := config.FromEnv()
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for audit commands")
	}
	return app.OpenRecorder(cfg)
}

func runFailures(cmd *cobra.Command, args []string) error {
	if failuresSince <= 0 {
		return fmt.Errorf("--since must be positive, got %v", failuresSince)
	}

	pg, err := openAuditLog()
	if err != nil {
		return err
	}
	defer pg.Close()

	counts, err := pg.CountFailures(commandContext(cmd), time.Now().Add(-failuresSince))
	if err != nil {
		return err
	}
	printFailures(cmd.OutOrStdout(), counts, failuresSince)
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	pg, err := openAuditLog()
	if err != nil {
		return err
	}
	defer pg.Close()

	run, err := pg.GetRun(commandContext(cmd), args[0])
	if err != nil {
		return err
	}

	label := color.GreenString(run.FinalState)
	if !run.Success {
		label = color.RedString(run.FinalState)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s in %dms\n", label, run.DurationMs)
	return printJSON(cmd.OutOrStdout(), run)
}

// printFailures writes one line per error code, most frequent first
func printFailures(w io.Writer, counts map[string]int64, window time.Duration) {
	if len(counts) == 0 {
		fmt.Fprintf(w, "%s in the last %v\n", color.GreenString("no failures"), window)
		return
	}

	codes := make([]string, 0, len(counts))
	var total int64
	for code, n := range counts {
		codes = append(codes, code)
		total += n
	}
	sort.Slice(codes, func(i, j int) bool {
		if counts[codes[i]] != counts[codes[j]] {
			return counts[codes[i]] > counts[codes[j]]
		}
		return codes[i] < codes[j]
	})

	for _, code := range codes {
		fmt.Fprintf(w, "%-26s %d\n", color.RedString(code), counts[code])
	}
	fmt.Fprintf(w, "%-26s %d\n", "total", total)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
