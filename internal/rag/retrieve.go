package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/intrachat/intrachat/internal/vectorstore"
)

// ErrEmptyQuery indicates a retrieval was attempted with no query text.
var ErrEmptyQuery = errors.New("empty query")

// Searcher is the subset of the vector store the retriever depends on.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, exact bool) ([]vectorstore.Result, error)
}

// EmbedderFactory produces a ready Embedder. The retriever calls it at most
// once, on first use, so a Retriever can be constructed before the embedding
// backend is provisioned.
type EmbedderFactory func(ctx context.Context) (Embedder, error)

// Retriever answers semantic queries with ranked passages.
type Retriever struct {
	store  Searcher
	topK   int
	logger *slog.Logger

	factory EmbedderFactory
	bindSF  singleflight.Group
	mu      sync.RWMutex
	bound   Embedder
}

// NewRetriever creates a Retriever. topK is the default result count;
// values below 1 fall back to 5.
func NewRetriever(store Searcher, factory EmbedderFactory, topK int, logger *slog.Logger) *Retriever {
	if topK < 1 {
		topK = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		store:   store,
		topK:    topK,
		logger:  logger,
		factory: factory,
	}
}

// Search embeds the query and returns up to topK passages ranked by
// similarity descending (topK < 1 uses the configured default). Uses exact
// search: ranking correctness matters more than latency at this corpus
// size. An empty collection yields an empty result, never an error.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]vectorstore.Result, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK < 1 {
		topK = r.topK
	}

	embedder, err := r.bind(ctx)
	if err != nil {
		return nil, err
	}

	vectors, err := embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := r.store.Search(ctx, vectors[0], topK, true)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("query answered", "top_k", topK, "results", len(results))
	return results, nil
}

// bind lazily initializes the embedder. Concurrent first-time callers share
// one factory call; a failed binding is retried on the next search.
func (r *Retriever) bind(ctx context.Context) (Embedder, error) {
	r.mu.RLock()
	bound := r.bound
	r.mu.RUnlock()
	if bound != nil {
		return bound, nil
	}

	v, err, _ := r.bindSF.Do("bind", func() (any, error) {
		r.mu.RLock()
		cached := r.bound
		r.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		embedder, err := r.factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("binding embedder: %w", err)
		}

		r.mu.Lock()
		r.bound = embedder
		r.mu.Unlock()
		return embedder, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Embedder), nil
}
