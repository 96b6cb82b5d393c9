package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/recipe-extractor/internal/app"
	"github.com/adverant/nexus/recipe-extractor/internal/config"
	"github.com/adverant/nexus/recipe-extractor/internal/errors"
	"github.com/adverant/nexus/recipe-extractor/internal/processor"
)

var (
	extractLanguage    string
	extractMimeType    string
	extractDiagnostics bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <image>",
	Short: "Run the extraction pipeline on a local image",
	Long: `Runs preprocessing, OCR, interpretation and normalization in-process and
prints the recipe as JSON. Failures are printed with their error code.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractLanguage, "language", "l", "", "language hint (en, he)")
	extractCmd.Flags().StringVar(&extractMimeType, "mime-type", "", "override the detected image type")
	extractCmd.Flags().BoolVar(&extractDiagnostics, "diagnostics", false, "print run diagnostics to stderr")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	image, err := readImage(args[0], extractMimeType)
	if err != nil {
		return err
	}

	proc, err := app.NewPipeline(cfg, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PipelineTimeout)
	defer cancel()

	spin := newSpinner(cmd.ErrOrStderr(), "Extracting recipe...")
	spin.Start()
	result := proc.Process(ctx, &processor.ExtractRequest{
		RequestID: uuid.NewString(),
		Image:     image,
		Language:  extractLanguage,
	})
	spin.Stop()

	if extractDiagnostics {
		_ = printJSON(cmd.ErrOrStderr(), result.Diagnostics)
	}

	if !result.Success() {
		return reportFailure(cmd.ErrOrStderr(), result.Err)
	}

	return printJSON(cmd.OutOrStdout(), result.Recipe)
}

func readImage(path, mimeType string) (processor.RawImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return processor.RawImage{}, fmt.Errorf("read image: %w", err)
	}
	return processor.RawImage{Data: data, MimeType: processor.ResolveMimeType(mimeType, data)}, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func reportFailure(w io.Writer, pe *errors.PipelineError) error {
	if pe == nil {
		return fmt.Errorf("extraction failed without an error")
	}
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	fmt.Fprintf(w, "%s %s\n", red(string(pe.Kind)), pe.Message)
	if pe.Retryable() {
		color.New(color.FgYellow).Fprintln(w, "This failure is transient; retrying later may succeed.")
	}
	return fmt.Errorf("extraction failed at %s", pe.Stage)
}
