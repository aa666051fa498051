// Package embed converts text into fixed-length vectors using an Ollama
// embedding model.
//
// The embedder owns model provisioning (pull-if-missing) and dimension
// discovery. The vector dimension is established lazily by the first
// successful probe call and cached immutably; concurrent first-time probes
// are collapsed by a single-flight guard so every caller observes the same
// value.
//
// Batch embedding is all-or-nothing: one failed sub-call fails the whole
// batch and no partial results are returned. This keeps the vector index
// free of files whose sibling chunks were never verified.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Sentinel errors for embedding operations.
var (
	// ErrModelUnavailable indicates the backing service cannot serve the
	// configured embedding model.
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrDimensionMismatch indicates an embedding's length disagrees with
	// the established dimension. Never coerced by padding or truncation.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// BatchError reports the failing position of a batch embedding call.
type BatchError struct {
	// Index is the 0-based position of the failed text in the input batch.
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding text %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// State describes model availability on the backing service.
type State string

const (
	// StateReady means the model is present and usable.
	StateReady State = "ready"

	// StateProvisioning means a pull is in progress.
	StateProvisioning State = "provisioning"

	// StateMissing means the model is absent and must be pulled.
	StateMissing State = "missing"
)

// Client is the subset of the Ollama API the embedder depends on.
// *api.Client satisfies it; tests substitute a fake.
type Client interface {
	List(ctx context.Context) (*api.ListResponse, error)
	Pull(ctx context.Context, req *api.PullRequest, fn api.PullProgressFunc) error
	Embeddings(ctx context.Context, req *api.EmbeddingRequest) (*api.EmbeddingResponse, error)
}

// NewClient creates an Ollama API client for the given host URL.
func NewClient(host string) (*api.Client, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parsing ollama host %q: %w", host, err)
	}
	return api.NewClient(base, http.DefaultClient), nil
}

// Embedder wraps an embedding model behind the Client interface.
//
// Embedder is stateless aside from the readiness flag and the lazily-cached
// vector dimension, and is safe for concurrent use.
type Embedder struct {
	client  Client
	model   string
	workers int
	logger  *slog.Logger

	probe singleflight.Group

	mu    sync.Mutex
	ready bool
	dim   int // 0 until the first successful probe
}

// New creates an Embedder for the given model. workers bounds concurrent
// embedding calls per batch; values below 1 fall back to 1.
func New(client Client, model string, workers int, logger *slog.Logger) *Embedder {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{
		client:  client,
		model:   model,
		workers: workers,
		logger:  logger,
	}
}

// EnsureReady verifies the configured model is available, pulling it when
// missing. Idempotent: an already-ready model is never re-provisioned.
func (e *Embedder) EnsureReady(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return nil
	}

	state, err := e.state(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	if state == StateMissing {
		e.logger.Info("pulling embedding model", "model", e.model)
		err := e.client.Pull(ctx, &api.PullRequest{Model: e.model}, func(resp api.ProgressResponse) error {
			e.logger.Debug("pull progress", "model", e.model, "status", resp.Status)
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: pulling %q: %v", ErrModelUnavailable, e.model, err)
		}
		e.logger.Info("embedding model pulled", "model", e.model)
	}

	e.ready = true
	return nil
}

// state lists available models and reports whether the configured model is
// present. Caller holds e.mu.
func (e *Embedder) state(ctx context.Context) (State, error) {
	resp, err := e.client.List(ctx)
	if err != nil {
		return StateMissing, fmt.Errorf("listing models: %w", err)
	}
	for _, m := range resp.Models {
		if m.Model == e.model || m.Name == e.model {
			return StateReady, nil
		}
	}
	return StateMissing, nil
}

// Dimension returns the vector length of the configured model, established
// on first use via a probe embedding call. The first successful probe wins;
// concurrent first-time callers share one in-flight probe.
func (e *Embedder) Dimension(ctx context.Context) (int, error) {
	e.mu.Lock()
	dim := e.dim
	e.mu.Unlock()
	if dim > 0 {
		return dim, nil
	}

	v, err, _ := e.probe.Do("dimension", func() (any, error) {
		e.mu.Lock()
		cached := e.dim
		e.mu.Unlock()
		if cached > 0 {
			return cached, nil
		}

		vec, err := e.embedOne(ctx, "test")
		if err != nil {
			return 0, fmt.Errorf("%w: probe embedding: %v", ErrModelUnavailable, err)
		}
		if len(vec) == 0 {
			return 0, fmt.Errorf("%w: probe returned empty vector", ErrModelUnavailable)
		}

		e.mu.Lock()
		e.dim = len(vec)
		e.mu.Unlock()
		e.logger.Debug("embedding dimension established", "model", e.model, "dim", len(vec))
		return len(vec), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// EmbedBatch embeds texts concurrently and returns one vector per input, in
// input order. All-or-nothing: any sub-call failure returns a *BatchError
// and no vectors.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	dim, err := e.Dimension(ctx)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.embedOne(gctx, text)
			if err != nil {
				return &BatchError{Index: i, Err: err}
			}
			if len(vec) != dim {
				return &BatchError{
					Index: i,
					Err:   fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dim),
				}
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return vectors, nil
}

// embedOne embeds a single text, converting the API's float64 vector to the
// float32 representation used by the vector store.
func (e *Embedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  e.model,
		Prompt: text,
	})
	if err != nil {
		return nil, err
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
