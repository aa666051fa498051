package rag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/intrachat/intrachat/internal/vectorstore"
)

// Sentinel errors for ingestion.
var (
	// ErrUnsupportedFile indicates a file extension the ingestor cannot
	// decode. Soft at the folder level: skipped with a warning.
	ErrUnsupportedFile = errors.New("unsupported file type")

	// ErrFolderLocked indicates another ingestion currently holds the
	// folder's advisory lock.
	ErrFolderLocked = errors.New("folder ingestion already in progress")
)

// Embedder is the subset of the embedding layer the ingestor depends on.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Upserter is the subset of the vector store the ingestor depends on.
type Upserter interface {
	Upsert(ctx context.Context, points []vectorstore.Point) error
}

// FolderSummary accumulates the outcome of a folder ingestion. Per-file
// failures are counted here, never escalated to abort sibling files.
type FolderSummary struct {
	Files   int // files ingested successfully
	Points  int // points written across all files
	Skipped int // non-regular files and unsupported extensions
	Failed  int // files whose ingestion failed
}

// Ingestor turns files into indexed vector points.
type Ingestor struct {
	embedder Embedder
	store    Upserter
	chunkLen int
	logger   *slog.Logger
}

// NewIngestor creates an Ingestor. chunkLen bounds chunk size in characters;
// values below 1 fall back to 200.
func NewIngestor(embedder Embedder, store Upserter, chunkLen int, logger *slog.Logger) *Ingestor {
	if chunkLen < 1 {
		chunkLen = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		embedder: embedder,
		store:    store,
		chunkLen: chunkLen,
		logger:   logger,
	}
}

// IngestFile reads, chunks, embeds, and upserts one file, returning the
// number of points written. A file that yields zero chunks is a no-op
// success. The embedding batch is all-or-nothing, so a failure here leaves
// no partial points behind.
func (ing *Ingestor) IngestFile(ctx context.Context, path string) (int, error) {
	chunks, err := ing.readChunks(path)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		ing.logger.Warn("no content to ingest", "file", path)
		return 0, nil
	}

	vectors, err := ing.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embedding %s: %w", path, err)
	}

	// One wall-clock timestamp per file so sibling chunks stay traceable
	// to the same ingestion run.
	createdAt := time.Now().UTC().Format(time.RFC3339)
	source := filepath.Base(path)

	points := make([]vectorstore.Point, len(chunks))
	for i, text := range chunks {
		points[i] = vectorstore.Point{
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Payload: vectorstore.Payload{
				Source:     source,
				ChunkIndex: i,
				Text:       text,
				CreatedAt:  createdAt,
			},
		}
	}

	if err := ing.store.Upsert(ctx, points); err != nil {
		return 0, fmt.Errorf("upserting %s: %w", path, err)
	}

	ing.logger.Debug("file ingested", "file", source, "points", len(points))
	return len(points), nil
}

// IngestFolder ingests the immediate regular files of dir, sequentially and
// in isolation: unsupported and non-regular entries are skipped with a
// warning, failed files are counted and logged, and neither aborts the
// remaining files. An advisory lock next to the folder keeps the scheduler
// and a manual ingestion from interleaving over the same directory.
func (ing *Ingestor) IngestFolder(ctx context.Context, dir string) (FolderSummary, error) {
	var summary FolderSummary

	lock := flock.New(filepath.Clean(dir) + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return summary, fmt.Errorf("locking %s: %w", dir, err)
	}
	if !locked {
		return summary, fmt.Errorf("%w: %s", ErrFolderLocked, dir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			ing.logger.Warn("releasing folder lock failed", "dir", dir, "error", err)
		}
	}()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return summary, fmt.Errorf("reading folder %s: %w", dir, err)
	}
	ing.logger.Info("ingesting folder", "dir", dir, "entries", len(entries))

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		path := filepath.Join(dir, entry.Name())
		if !entry.Type().IsRegular() {
			ing.logger.Warn("skipping non-regular file", "path", path)
			summary.Skipped++
			continue
		}

		n, err := ing.IngestFile(ctx, path)
		switch {
		case errors.Is(err, ErrUnsupportedFile):
			ing.logger.Warn("skipping unsupported file", "path", path)
			summary.Skipped++
		case err != nil:
			ing.logger.Warn("file ingestion failed", "path", path, "error", err)
			summary.Failed++
		default:
			summary.Files++
			summary.Points += n
		}
	}

	ing.logger.Info("folder ingested",
		"dir", dir,
		"files", summary.Files,
		"points", summary.Points,
		"skipped", summary.Skipped,
		"failed", summary.Failed)
	return summary, nil
}

// readChunks decodes a file to chunk texts. Extension decides the decoder:
// .txt is chunked whole-file, .csv cell by cell.
func (ing *Ingestor) readChunks(path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".csv":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if ext == ".csv" {
		chunks, err := ChunkCSV(bytes.NewReader(data), ing.chunkLen)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		return chunks, nil
	}
	return ChunkText(string(data), ing.chunkLen), nil
}
