// Package app wires configuration into the running services: Ollama clients,
// the Qdrant-backed vector store, the ingestion pipeline, the session store
// and the chat service.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intrachat/intrachat/internal/chat"
	"github.com/intrachat/intrachat/internal/config"
	"github.com/intrachat/intrachat/internal/embed"
	"github.com/intrachat/intrachat/internal/fetch"
	"github.com/intrachat/intrachat/internal/memory"
	"github.com/intrachat/intrachat/internal/rag"
	"github.com/intrachat/intrachat/internal/vectorstore"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Embedder  *embed.Embedder
	Store     *vectorstore.Store
	Ingestor  *rag.Ingestor
	Retriever *rag.Retriever
	Chat      *chat.Service
	Fetcher   *fetch.Fetcher
	Scheduler *fetch.Scheduler

	// Pool is nil when sessions are kept in process memory.
	Pool *pgxpool.Pool
}

// Setup builds the application from configuration. When cfg.DatabaseURL is
// empty, sessions live in process memory instead of Postgres; one-shot
// commands use that mode.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ollamaClient, err := embed.NewClient(cfg.OllamaHost)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	embedder := embed.New(ollamaClient, cfg.EmbedModel, cfg.EmbedWorkers, logger)

	storeCfg := vectorstore.Config{
		Host:         cfg.QdrantHost,
		Port:         cfg.QdrantPort,
		APIKey:       cfg.QdrantAPIKey,
		UseTLS:       cfg.QdrantTLS,
		Collection:   cfg.Collection,
		SearchEffort: cfg.SearchEffort,
	}
	storeClient, err := vectorstore.NewClient(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("creating vector store client: %w", err)
	}
	store := vectorstore.New(storeClient, storeCfg, logger)

	ingestor := rag.NewIngestor(embedder, store, cfg.ChunkLength, logger)
	retriever := rag.NewRetriever(store, readyEmbedder(embedder), cfg.TopK, logger)

	var (
		pool     *pgxpool.Pool
		sessions chat.SessionStore
	)
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		sessionStore := memory.NewStore(pool, cfg.MemorySize, logger)
		if err := sessionStore.Bootstrap(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("bootstrapping session store: %w", err)
		}
		sessions = sessionStore
	} else {
		logger.Info("no database configured, keeping sessions in process memory")
		sessions = memory.NewEphemeralStore(cfg.MemorySize)
	}

	chatSvc, err := chat.New(chat.Config{
		Client:    ollamaClient,
		Sessions:  sessions,
		Retriever: retriever,
		Logger:    logger,
		Model:     cfg.ChatModel,
		TopK:      cfg.TopK,
	})
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, fmt.Errorf("creating chat service: %w", err)
	}

	fetcher := fetch.NewFetcher(cfg.DataDir, cfg.ArticleSources, logger)
	scheduler := fetch.NewScheduler(fetcher, ingestor, cfg.DataDir, cfg.IngestedDir, cfg.FetchInterval, logger)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Embedder:  embedder,
		Store:     store,
		Ingestor:  ingestor,
		Retriever: retriever,
		Chat:      chatSvc,
		Fetcher:   fetcher,
		Scheduler: scheduler,
		Pool:      pool,
	}, nil
}

// Provision prepares the backends for ingestion and retrieval: the embedding
// model exists, its dimension is known and the collection matches it.
func (a *App) Provision(ctx context.Context) error {
	if err := a.Embedder.EnsureReady(ctx); err != nil {
		return fmt.Errorf("provisioning embedding model: %w", err)
	}
	dim, err := a.Embedder.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("probing embedding dimension: %w", err)
	}
	if err := a.Store.EnsureCollection(ctx, dim); err != nil {
		return fmt.Errorf("provisioning collection: %w", err)
	}
	return nil
}

// Close releases pooled resources.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Debug("database pool closed")
	}
}

// readyEmbedder adapts the embedder into the retriever's lazy factory: the
// model is provisioned on the retriever's first use, not at startup.
func readyEmbedder(e *embed.Embedder) rag.EmbedderFactory {
	return func(ctx context.Context) (rag.Embedder, error) {
		if err := e.EnsureReady(ctx); err != nil {
			return nil, err
		}
		return e, nil
	}
}
