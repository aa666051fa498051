package app

import (
	"context"
	"testing"
	"time"

	"github.com/intrachat/intrachat/internal/config"
	"github.com/intrachat/intrachat/internal/log"
)

func testConfig() *config.Config {
	return &config.Config{
		OllamaHost:    "http://localhost:11434",
		ChatModel:     "qwen3:8b",
		EmbedModel:    "qwen2:1.5b",
		QdrantHost:    "localhost",
		QdrantPort:    6334,
		Collection:    "rag_collection",
		ChunkLength:   200,
		TopK:          5,
		SearchEffort:  128,
		EmbedWorkers:  8,
		MemorySize:    100,
		DataDir:       "data/articles",
		IngestedDir:   "ingested_articles",
		FetchInterval: 24 * time.Hour,
		ListenAddr:    "127.0.0.1:8000",
	}
}

func TestSetup_WiresComponentsWithoutDatabase(t *testing.T) {
	a, err := Setup(context.Background(), testConfig(), log.NewNop())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer a.Close()

	if a.Embedder == nil || a.Store == nil || a.Ingestor == nil || a.Retriever == nil {
		t.Error("ingestion pipeline not wired")
	}
	if a.Chat == nil || a.Fetcher == nil || a.Scheduler == nil {
		t.Error("services not wired")
	}
	if a.Pool != nil {
		t.Error("database pool created without a database URL")
	}
}

func TestSetup_RejectsInvalidOllamaHost(t *testing.T) {
	cfg := testConfig()
	cfg.OllamaHost = "://not-a-url"

	if _, err := Setup(context.Background(), cfg, log.NewNop()); err == nil {
		t.Error("Setup accepted an unparseable ollama host")
	}
}
