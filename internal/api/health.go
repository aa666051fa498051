package api

import (
	"context"
	"net/http"
	"time"

	"github.com/intrachat/intrachat/internal/vectorstore"
)

// healthCheckTimeout bounds the vector store probe behind /ready.
const healthCheckTimeout = 2 * time.Second

// HealthChecker reports the vector store collection status.
type HealthChecker interface {
	Health(ctx context.Context) (vectorstore.Status, error)
}

// health is a simple liveness endpoint for Docker/Kubernetes probes.
// Returns 200 OK with {"status":"ok"}.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports whether the service can answer retrieval-augmented
// questions. A degraded collection still answers 200 so callers can observe
// the state without the probe flapping; only an unreachable store is 503.
func readiness(store HealthChecker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status, err := store.Health(ctx)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":      "unavailable",
				"vectorstore": string(vectorstore.StatusUnknown),
			})
			return
		}

		code := http.StatusOK
		if status == vectorstore.StatusUnknown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{
			"status":      "ready",
			"vectorstore": string(status),
		})
	})
}
