package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"

	"github.com/intrachat/intrachat/internal/log"
	"github.com/intrachat/intrachat/internal/vectorstore"
)

// mockEmbedder implements Embedder for testing.
type mockEmbedder struct {
	mu sync.Mutex

	// err fails every batch; failOn fails batches containing that text.
	err    error
	failOn string

	batches [][]string
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, text := range texts {
		if m.failOn != "" && strings.Contains(text, m.failOn) {
			return nil, errors.New("embedding backend refused")
		}
	}
	m.batches = append(m.batches, texts)
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), 0, 0}
	}
	return vectors, nil
}

// mockUpserter implements Upserter for testing.
type mockUpserter struct {
	mu      sync.Mutex
	err     error
	batches [][]vectorstore.Point
}

func (m *mockUpserter) Upsert(ctx context.Context, points []vectorstore.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, points)
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestIngestFile_TxtChunksAndPoints(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "article.txt", strings.Repeat("a", 450))

	emb := &mockEmbedder{}
	store := &mockUpserter{}
	ing := NewIngestor(emb, store, 200, log.NewNop())

	n, err := ing.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("points written = %d, want 3", n)
	}

	if len(store.batches) != 1 {
		t.Fatalf("got %d upsert calls, want 1 (single call per file)", len(store.batches))
	}
	points := store.batches[0]
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}

	seen := make(map[string]bool)
	for i, p := range points {
		if p.ID == "" || seen[p.ID] {
			t.Errorf("point %d id %q is empty or duplicated", i, p.ID)
		}
		seen[p.ID] = true
		if p.Payload.Source != "article.txt" {
			t.Errorf("point %d source = %q, want article.txt", i, p.Payload.Source)
		}
		if p.Payload.ChunkIndex != i {
			t.Errorf("point %d chunk_index = %d, want %d", i, p.Payload.ChunkIndex, i)
		}
		if p.Payload.CreatedAt != points[0].Payload.CreatedAt {
			t.Errorf("point %d created_at differs from siblings", i)
		}
	}
	if len(points[2].Payload.Text) != 50 {
		t.Errorf("final chunk text length = %d, want 50", len(points[2].Payload.Text))
	}
}

func TestIngestFile_CSVCells(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "table.csv", "jan,feb\nmar,apr\n")

	emb := &mockEmbedder{}
	store := &mockUpserter{}
	ing := NewIngestor(emb, store, 200, log.NewNop())

	n, err := ing.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile failed: %v", err)
	}
	if n != 4 {
		t.Errorf("points = %d, want 4 (one per cell)", n)
	}
	if got := emb.batches[0]; got[0] != "jan" || got[3] != "apr" {
		t.Errorf("embedded texts = %v, want cells in row-then-column order", got)
	}
}

func TestIngestFile_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "image.png", "not text")

	ing := NewIngestor(&mockEmbedder{}, &mockUpserter{}, 200, log.NewNop())

	_, err := ing.IngestFile(context.Background(), path)
	if !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("IngestFile error = %v, want ErrUnsupportedFile", err)
	}
}

func TestIngestFile_EmptyFileIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty.txt", "")

	emb := &mockEmbedder{}
	store := &mockUpserter{}
	ing := NewIngestor(emb, store, 200, log.NewNop())

	n, err := ing.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile failed on empty file: %v", err)
	}
	if n != 0 {
		t.Errorf("points = %d, want 0", n)
	}
	if len(emb.batches) != 0 || len(store.batches) != 0 {
		t.Error("empty file must not reach embedder or store")
	}
}

func TestIngestFile_EmbedFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "article.txt", "some content")

	emb := &mockEmbedder{err: errors.New("backend down")}
	store := &mockUpserter{}
	ing := NewIngestor(emb, store, 200, log.NewNop())

	if _, err := ing.IngestFile(context.Background(), path); err == nil {
		t.Fatal("IngestFile succeeded, want failure")
	}
	if len(store.batches) != 0 {
		t.Error("failed embedding must not upsert points")
	}
}

func TestIngestFile_UpsertFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "article.txt", "some content")

	store := &mockUpserter{err: errors.New("store down")}
	ing := NewIngestor(&mockEmbedder{}, store, 200, log.NewNop())

	if _, err := ing.IngestFile(context.Background(), path); err == nil {
		t.Fatal("IngestFile succeeded, want failure")
	}
}

func TestIngestFolder_IsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.txt", "useful content")
	writeFile(t, dir, "image.png", "binary")
	writeFile(t, dir, "bad.txt", "poison content")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o750); err != nil {
		t.Fatal(err)
	}

	emb := &mockEmbedder{failOn: "poison"}
	store := &mockUpserter{}
	ing := NewIngestor(emb, store, 200, log.NewNop())

	summary, err := ing.IngestFolder(context.Background(), dir)
	if err != nil {
		t.Fatalf("IngestFolder failed: %v", err)
	}

	if summary.Files != 1 {
		t.Errorf("Files = %d, want 1", summary.Files)
	}
	if summary.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2 (png + subdirectory)", summary.Skipped)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	if summary.Points != 1 {
		t.Errorf("Points = %d, want 1", summary.Points)
	}
}

func TestIngestFolder_ValidAndUnsupported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "article.txt", "real article body")
	writeFile(t, dir, "notes.docx", "unsupported")

	store := &mockUpserter{}
	ing := NewIngestor(&mockEmbedder{}, store, 200, log.NewNop())

	summary, err := ing.IngestFolder(context.Background(), dir)
	if err != nil {
		t.Fatalf("IngestFolder must not propagate per-file problems: %v", err)
	}
	if summary.Files != 1 || summary.Skipped != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 1 ingested / 1 skipped / 0 failed", summary)
	}
	if len(store.batches) != 1 {
		t.Errorf("upsert calls = %d, want 1", len(store.batches))
	}
}

func TestIngestFolder_HeldLock(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "article.txt", "body")

	other := flock.New(filepath.Clean(dir) + ".lock")
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("acquiring external lock: locked=%v err=%v", locked, err)
	}
	defer func() { _ = other.Unlock() }()

	ing := NewIngestor(&mockEmbedder{}, &mockUpserter{}, 200, log.NewNop())
	_, err = ing.IngestFolder(context.Background(), dir)
	if !errors.Is(err, ErrFolderLocked) {
		t.Errorf("IngestFolder error = %v, want ErrFolderLocked", err)
	}
}

func TestIngestFolder_Canceled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "article.txt", "body")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ing := NewIngestor(&mockEmbedder{}, &mockUpserter{}, 200, log.NewNop())
	_, err := ing.IngestFolder(ctx, dir)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("IngestFolder error = %v, want context.Canceled", err)
	}
}
