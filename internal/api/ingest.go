package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/intrachat/intrachat/internal/rag"
)

// FolderIngestor feeds a folder of documents into the vector store.
type FolderIngestor interface {
	IngestFolder(ctx context.Context, dir string) (rag.FolderSummary, error)
}

type ingestHandler struct {
	ingestor FolderIngestor
	dataDir  string
	logger   *slog.Logger

	// bgCtx outlives individual requests; wg tracks the background
	// ingestion goroutines for graceful shutdown.
	bgCtx context.Context //nolint:containedctx // app lifecycle context, not a request context
	wg    *sync.WaitGroup
}

// kick starts a background folder ingestion and returns immediately. A
// concurrent ingestion over the same folder reports conflict instead of
// queueing.
func (h *ingestHandler) kick(w http.ResponseWriter, _ *http.Request) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		summary, err := h.ingestor.IngestFolder(h.bgCtx, h.dataDir)
		if err != nil {
			if errors.Is(err, rag.ErrFolderLocked) {
				h.logger.Warn("ingestion skipped, folder already locked", "dir", h.dataDir)
				return
			}
			h.logger.Error("background ingestion failed", "dir", h.dataDir, "error", err)
			return
		}
		h.logger.Info("background ingestion finished",
			"dir", h.dataDir,
			"files", summary.Files,
			"points", summary.Points,
			"skipped", summary.Skipped,
			"failed", summary.Failed,
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "ingestion started in the background",
	})
}
