package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is a dependency health check.
type Pinger func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks map[string]Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks may be empty.
func NewHealthHandler(checks map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// HealthCheck reports that the engine is up, with the state of each
// configured dependency. A failing dependency does not fail the check.
// GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "engine running"}
	if len(h.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		deps := make(map[string]string, len(h.checks))
		for name, ping := range h.checks {
			if err := ping(ctx); err != nil {
				h.logger.WarnContext(ctx, "dependency unhealthy",
					slog.String("dependency", name),
					slog.String("error", err.Error()),
				)
				deps[name] = "down"
				continue
			}
			deps[name] = "ok"
		}
		resp["dependencies"] = deps
	}
	writeJSON(w, http.StatusOK, resp)
}
