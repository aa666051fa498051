package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/intrachat/intrachat/internal/app"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Ingest a file or folder into the vector store",
	Long: `Chunks the given .txt or .csv file (or every supported file in the
given folder), embeds the chunks and upserts them into the Qdrant
collection. Folder ingestion takes an exclusive lock so concurrent runs
over the same folder do not interleave.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args[0])
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(path string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	if err := a.Provision(ctx); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", path, err)
	}

	if info.IsDir() {
		summary, err := a.Ingestor.IngestFolder(ctx, path)
		if err != nil {
			return fmt.Errorf("ingesting folder: %w", err)
		}
		fmt.Printf("Ingested %d files (%d points, %d skipped, %d failed)\n",
			summary.Files, summary.Points, summary.Skipped, summary.Failed)
		return nil
	}

	points, err := a.Ingestor.IngestFile(ctx, path)
	if err != nil {
		return fmt.Errorf("ingesting file: %w", err)
	}
	fmt.Printf("Ingested %s (%d points)\n", path, points)
	return nil
}
