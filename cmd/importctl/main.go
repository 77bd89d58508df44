// Command importctl submits documents to the extraction backend from the
// command line and optionally saves or exports the extracted records.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/importwizard/internal/config"
	"github.com/JonMunkholm/importwizard/internal/extract"
	"github.com/JonMunkholm/importwizard/internal/logging"
)

var (
	verbose bool

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "importctl",
	Short:         "Extract structured records from documents",
	Long:          "importctl uploads a document to the extraction service, waits for the job to finish and prints, exports or saves the extracted records.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadClient()
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger = logging.New(os.Stderr, level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newExtractClient() (*extract.Client, error) {
	return extract.New(extract.Config{
		BaseURL: cfg.Extraction.BaseURL,
		Token:   cfg.Extraction.Token,
		Timeout: cfg.Extraction.RequestTimeout,
		Logger:  logger,
	})
}
