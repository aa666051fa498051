// Package cmd contains the intrachat CLI commands.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/intrachat/intrachat/internal/config"
	"github.com/intrachat/intrachat/internal/log"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "intrachat",
	Short: "Retrieval-augmented chat over your own documents",
	Long: `intrachat answers questions with a local Ollama model, grounding each
answer in documents ingested into a Qdrant collection.

Run "intrachat serve" to start the HTTP API, "intrachat ingest" to load
documents, or "intrachat ask" for a one-shot question from the terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig initializes logging and loads validated configuration. Shared
// by every subcommand.
func loadConfig() (*config.Config, *slog.Logger, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, logger, nil
}
