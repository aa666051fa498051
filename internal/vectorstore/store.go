// Package vectorstore manages the lifecycle of a single named Qdrant
// collection: idempotent provisioning, health reporting, point upsert, and
// ranked similarity search.
//
// The collection uses cosine distance and a dimension fixed at creation.
// Vectors whose length disagrees with that dimension are rejected, never
// padded or truncated.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// Sentinel errors for store operations.
var (
	// ErrStoreUnavailable indicates a transport or availability failure of
	// the vector database. Retry policy belongs to the caller.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrDimensionMismatch indicates a vector's length disagrees with the
	// collection's dimension. Fatal, indicates a misconfiguration.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Status reports collection health.
type Status string

const (
	StatusReady    Status = "ready"
	StatusDegraded Status = "degraded"
	StatusUnknown  Status = "unknown"
)

// Payload carries the document chunk fields stored alongside a vector.
type Payload struct {
	Source     string
	ChunkIndex int
	Text       string
	CreatedAt  string // RFC 3339 ingestion timestamp
}

// Point is a vector plus payload, identified by a UUID. Owned by the store
// after a successful upsert.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Result is a single search hit. Score is cosine similarity in [-1, 1].
type Result struct {
	ID      string
	Score   float32
	Payload Payload
}

// Client is the subset of the Qdrant API the store depends on.
// *qdrant.Client satisfies it; tests substitute a fake.
type Client interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// Config holds connection and collection settings.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string

	// SearchEffort is the hnsw_ef knob sent with search requests. Ignored
	// by Qdrant when exact search is requested.
	SearchEffort int
}

// NewClient dials Qdrant over gRPC.
func NewClient(cfg Config) (Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s:%d: %v", ErrStoreUnavailable, cfg.Host, cfg.Port, err)
	}
	return client, nil
}

// Store manages one named collection. Safe for concurrent use.
type Store struct {
	client     Client
	collection string
	effort     uint64
	logger     *slog.Logger

	mu  sync.Mutex
	dim int // 0 until EnsureCollection establishes it
}

// New creates a Store for the configured collection.
func New(client Client, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	effort := cfg.SearchEffort
	if effort <= 0 {
		effort = 128
	}
	return &Store{
		client:     client,
		collection: cfg.Collection,
		effort:     uint64(effort),
		logger:     logger,
	}
}

// Collection returns the managed collection name.
func (s *Store) Collection() string { return s.collection }

// EnsureCollection creates the collection with the given dimension and
// cosine distance if absent; no-op when it already exists. Safe under
// concurrent invocation: the check-then-create sequence is serialized so at
// most one creation request is issued, and a racing creator's
// "already exists" response is treated as success.
func (s *Store) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, dim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("%w: checking collection %q: %v", ErrStoreUnavailable, s.collection, err)
	}
	if exists {
		s.dim = dim
		return nil
	}

	s.logger.Info("creating collection", "collection", s.collection, "dim", dim)
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		// Another process may have won the creation race.
		exists, checkErr := s.client.CollectionExists(ctx, s.collection)
		if checkErr == nil && exists {
			s.dim = dim
			return nil
		}
		return fmt.Errorf("%w: creating collection %q: %v", ErrStoreUnavailable, s.collection, err)
	}

	s.dim = dim
	return nil
}

// Health reports collection status. Degraded and unknown states are logged
// as warnings but left to the caller to act on; retrieval may still be
// attempted against a degraded collection.
func (s *Store) Health(ctx context.Context) (Status, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		s.logger.Warn("collection status unknown", "collection", s.collection, "error", err)
		return StatusUnknown, fmt.Errorf("%w: collection info: %v", ErrStoreUnavailable, err)
	}

	switch info.GetStatus() {
	case qdrant.CollectionStatus_Green:
		return StatusReady, nil
	case qdrant.CollectionStatus_Yellow, qdrant.CollectionStatus_Red:
		s.logger.Warn("collection degraded", "collection", s.collection, "status", info.GetStatus().String())
		return StatusDegraded, nil
	default:
		s.logger.Warn("collection status unknown", "collection", s.collection, "status", info.GetStatus().String())
		return StatusUnknown, nil
	}
}

// Upsert inserts or overwrites points by id, waiting for the write to be
// applied. Idempotent: re-upserting an id with the same vector and payload
// has no further effect.
func (s *Store) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	dim := s.dim
	s.mu.Unlock()

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		if dim > 0 && len(p.Vector) != dim {
			return fmt.Errorf("%w: point %q has %d components, collection %q expects %d",
				ErrDimensionMismatch, p.ID, len(p.Vector), s.collection, dim)
		}
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: toPayloadMap(p.Payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("%w: upserting %d points: %v", ErrStoreUnavailable, len(points), err)
	}

	s.logger.Debug("points upserted", "collection", s.collection, "count", len(points))
	return nil
}

// Search returns up to topK results ranked by similarity descending. When
// exact is true the store performs an exhaustive scan; the search-effort
// knob is carried in the request but ignored in that mode. An empty
// collection yields an empty slice, not an error.
func (s *Store) Search(ctx context.Context, vector []float32, topK int, exact bool) ([]Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("invalid top-k %d", topK)
	}

	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Params: &qdrant.SearchParams{
			Exact:  qdrant.PtrOf(exact),
			HnswEf: qdrant.PtrOf(s.effort),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: searching collection %q: %v", ErrStoreUnavailable, s.collection, err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			ID:      hit.GetId().GetUuid(),
			Score:   hit.GetScore(),
			Payload: fromPayloadMap(hit.GetPayload()),
		})
	}
	return results, nil
}

func toPayloadMap(p Payload) map[string]*qdrant.Value {
	return qdrant.NewValueMap(map[string]any{
		"source":      p.Source,
		"chunk_index": int64(p.ChunkIndex),
		"text":        p.Text,
		"created_at":  p.CreatedAt,
	})
}

func fromPayloadMap(m map[string]*qdrant.Value) Payload {
	var p Payload
	if v, ok := m["source"]; ok {
		p.Source = v.GetStringValue()
	}
	if v, ok := m["chunk_index"]; ok {
		p.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := m["text"]; ok {
		p.Text = v.GetStringValue()
	}
	if v, ok := m["created_at"]; ok {
		p.CreatedAt = v.GetStringValue()
	}
	return p
}
