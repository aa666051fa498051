package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/intrachat/intrachat/internal/log"
	"github.com/intrachat/intrachat/internal/rag"
)

type fakeRunner struct {
	mu    sync.Mutex
	runs  int
	count int
	err   error
}

func (f *fakeRunner) Run(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return f.count, f.err
}

type fakeIngestor struct {
	mu      sync.Mutex
	dirs    []string
	summary rag.FolderSummary
	err     error
}

func (f *fakeIngestor) IngestFolder(_ context.Context, dir string) (rag.FolderSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, dir)
	if f.err != nil {
		return rag.FolderSummary{}, f.err
	}
	return f.summary, nil
}

func newTestScheduler(t *testing.T, runner *fakeRunner, ingestor *fakeIngestor) (*Scheduler, string, string) {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "articles")
	ingestedDir := filepath.Join(root, "ingested")
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		t.Fatalf("creating data dir: %v", err)
	}
	s := NewScheduler(runner, ingestor, dataDir, ingestedDir, time.Hour, log.NewNop())
	return s, dataDir, ingestedDir
}

func TestRunOnce_FetchIngestRelocate(t *testing.T) {
	runner := &fakeRunner{count: 3}
	ingestor := &fakeIngestor{summary: rag.FolderSummary{Files: 3, Points: 9}}
	s, dataDir, ingestedDir := newTestScheduler(t, runner, ingestor)

	// Seed an article so relocation has something to move.
	if err := os.WriteFile(filepath.Join(dataDir, "a.txt"), []byte("text"), 0o600); err != nil {
		t.Fatalf("seeding article: %v", err)
	}

	s.RunOnce(context.Background())

	if runner.runs != 1 {
		t.Errorf("fetcher ran %d times, want 1", runner.runs)
	}
	if len(ingestor.dirs) != 1 || ingestor.dirs[0] != dataDir {
		t.Errorf("ingested dirs = %v, want [%s]", ingestor.dirs, dataDir)
	}

	// The data directory was moved under the processed directory and a
	// fresh one created in its place.
	moved, err := os.ReadDir(ingestedDir)
	if err != nil {
		t.Fatalf("reading processed dir: %v", err)
	}
	if len(moved) != 1 {
		t.Fatalf("processed dir holds %d entries, want 1", len(moved))
	}
	if _, err := os.Stat(filepath.Join(ingestedDir, moved[0].Name(), "a.txt")); err != nil {
		t.Errorf("relocated article missing: %v", err)
	}
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		t.Fatalf("fresh data dir missing: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("fresh data dir holds %d entries, want 0", len(entries))
	}
}

func TestRunOnce_FetchFailureStillIngests(t *testing.T) {
	runner := &fakeRunner{err: errors.New("site down")}
	ingestor := &fakeIngestor{}
	s, _, _ := newTestScheduler(t, runner, ingestor)

	s.RunOnce(context.Background())

	if len(ingestor.dirs) != 1 {
		t.Errorf("ingestion ran %d times after fetch failure, want 1", len(ingestor.dirs))
	}
}

func TestRunOnce_LockedFolderSkipsRelocation(t *testing.T) {
	runner := &fakeRunner{}
	ingestor := &fakeIngestor{err: rag.ErrFolderLocked}
	s, dataDir, ingestedDir := newTestScheduler(t, runner, ingestor)

	s.RunOnce(context.Background())

	if _, err := os.Stat(dataDir); err != nil {
		t.Errorf("data dir moved despite locked ingestion: %v", err)
	}
	if _, err := os.Stat(ingestedDir); !os.IsNotExist(err) {
		t.Errorf("processed dir created despite locked ingestion")
	}
}

func TestRunOnce_IngestFailureSkipsRelocation(t *testing.T) {
	runner := &fakeRunner{}
	ingestor := &fakeIngestor{err: errors.New("qdrant down")}
	s, dataDir, _ := newTestScheduler(t, runner, ingestor)

	s.RunOnce(context.Background())

	if _, err := os.Stat(dataDir); err != nil {
		t.Errorf("data dir moved despite failed ingestion: %v", err)
	}
}

func TestRunOnce_MissingDataDirSkipsIngestion(t *testing.T) {
	runner := &fakeRunner{}
	ingestor := &fakeIngestor{}
	s, dataDir, _ := newTestScheduler(t, runner, ingestor)
	if err := os.RemoveAll(dataDir); err != nil {
		t.Fatalf("removing data dir: %v", err)
	}

	s.RunOnce(context.Background())

	if len(ingestor.dirs) != 0 {
		t.Errorf("ingestion ran %d times for a missing data dir", len(ingestor.dirs))
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	runner := &fakeRunner{}
	ingestor := &fakeIngestor{}
	s, _, _ := newTestScheduler(t, runner, ingestor)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}
}
