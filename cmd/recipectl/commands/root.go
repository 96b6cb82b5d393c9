package commands

import (
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/recipe-extractor/internal/logging"
)

var (
	envFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "recipectl",
	Short: "Extract structured recipes from photos",
	Long: `recipectl runs the recipe extraction pipeline on local images, or
submits them to the extraction worker and polls job status.

Configuration is read from the environment (and an optional .env file), the
same way the gateway and worker read it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return err
			}
		} else {
			_ = godotenv.Load()
		}

		level := "warn"
		if verbose {
			level = "debug"
		}
		logging.Configure(level, "console", cmd.ErrOrStderr())

		color.NoColor = color.NoColor || noColor
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
