// Package api exposes the chat and ingestion services over a JSON HTTP
// surface, with liveness and readiness probes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Chat     ChatService    // Required
	Ingestor FolderIngestor // Optional: nil disables POST /api/ingest
	Store    HealthChecker  // Optional: nil makes /ready unconditional
	Logger   *slog.Logger

	DataDir string // folder served by POST /api/ingest

	// Background lifecycle (required when Ingestor is set). BackgroundCtx
	// outlives individual requests; WG tracks background goroutines for
	// graceful shutdown.
	BackgroundCtx context.Context //nolint:containedctx // app lifecycle context, not a request context
	WG            *sync.WaitGroup
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Chat == nil {
		return nil, errors.New("chat service is required")
	}
	if cfg.Ingestor != nil && cfg.WG == nil {
		return nil, errors.New("wg is required when ingestor is set")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bgCtx := cfg.BackgroundCtx
	if bgCtx == nil {
		bgCtx = context.Background()
	}

	mux := http.NewServeMux()

	ch := &chatHandler{chat: cfg.Chat, logger: logger}
	mux.HandleFunc("POST /api/chat", ch.send)

	if cfg.Ingestor != nil {
		ih := &ingestHandler{
			ingestor: cfg.Ingestor,
			dataDir:  cfg.DataDir,
			logger:   logger,
			bgCtx:    bgCtx,
			wg:       cfg.WG,
		}
		mux.HandleFunc("POST /api/ingest", ih.kick)
	}

	// Middleware stack (outermost first): Recovery → Logging → Routes.
	var handler http.Handler = mux
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Store))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// NewHTTPServer wraps the handler in an http.Server with conservative
// timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}
