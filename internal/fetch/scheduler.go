package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/intrachat/intrachat/internal/rag"
)

// Runner fetches articles into the data directory.
type Runner interface {
	Run(ctx context.Context) (int, error)
}

// Ingestor feeds a folder of articles into the vector store.
type Ingestor interface {
	IngestFolder(ctx context.Context, dir string) (rag.FolderSummary, error)
}

// Scheduler periodically runs the fetch, ingest, relocate cycle: crawl new
// articles, ingest the data directory, then move it into the processed
// directory so the next cycle starts clean.
type Scheduler struct {
	fetcher     Runner
	ingestor    Ingestor
	dataDir     string
	ingestedDir string
	interval    time.Duration
	logger      *slog.Logger
}

// NewScheduler creates a fetch scheduler. Intervals below one minute fall
// back to 24h.
func NewScheduler(fetcher Runner, ingestor Ingestor, dataDir, ingestedDir string, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval < time.Minute {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		fetcher:     fetcher,
		ingestor:    ingestor,
		dataDir:     dataDir,
		ingestedDir: ingestedDir,
		interval:    interval,
		logger:      logger,
	}
}

// Run blocks until ctx is canceled, executing one cycle per tick. Callers
// must track the goroutine with a WaitGroup.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single fetch + ingest + relocate cycle. Each step is
// best-effort: a failed fetch still lets previously fetched articles ingest.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if n, err := s.fetcher.Run(ctx); err != nil {
		s.logger.Warn("article fetch failed", "error", err)
	} else {
		s.logger.Info("article fetch finished", "articles", n)
	}

	if _, err := os.Stat(s.dataDir); os.IsNotExist(err) {
		s.logger.Warn("data directory missing, nothing to ingest", "dir", s.dataDir)
		return
	}

	summary, err := s.ingestor.IngestFolder(ctx, s.dataDir)
	if err != nil {
		if errors.Is(err, rag.ErrFolderLocked) {
			s.logger.Warn("data directory locked by another ingestion, skipping cycle", "dir", s.dataDir)
			return
		}
		s.logger.Warn("folder ingestion failed", "dir", s.dataDir, "error", err)
		return
	}
	s.logger.Info("folder ingested",
		"files", summary.Files,
		"points", summary.Points,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)

	if err := s.relocate(); err != nil {
		s.logger.Warn("relocating ingested articles failed", "error", err)
	}
}

// relocate moves the ingested data directory under the processed directory,
// stamped with the cycle time, and leaves a fresh data directory behind.
func (s *Scheduler) relocate() error {
	if err := os.MkdirAll(s.ingestedDir, 0o750); err != nil {
		return fmt.Errorf("creating processed directory: %w", err)
	}

	dest := filepath.Join(s.ingestedDir, time.Now().UTC().Format("2006-01-02T15-04-05"))
	if err := os.Rename(s.dataDir, dest); err != nil {
		return fmt.Errorf("moving %s to %s: %w", s.dataDir, dest, err)
	}
	s.logger.Info("ingested articles relocated", "dest", dest)

	if err := os.MkdirAll(s.dataDir, 0o750); err != nil {
		return fmt.Errorf("recreating data directory: %w", err)
	}
	return nil
}
