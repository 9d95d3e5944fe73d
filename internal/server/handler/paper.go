package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/quantlab/internal/live"
)

// PaperManager is what the paper-trading endpoints need. *live.Manager
// satisfies it.
type PaperManager interface {
	Start(ctx context.Context, req live.StartRequest) error
	Stop(ctx context.Context, runID string) error
	Status(runID string) (live.Status, bool)
	List() []live.Status
}

// PaperHandler serves paper-trading session endpoints.
type PaperHandler struct {
	mgr    PaperManager
	logger *slog.Logger
}

// NewPaperHandler creates a PaperHandler.
func NewPaperHandler(mgr PaperManager, logger *slog.Logger) *PaperHandler {
	return &PaperHandler{mgr: mgr, logger: logger}
}

// Start begins a session. A run id that is already active is a 400.
// POST /paper/start
func (h *PaperHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req live.StartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, h.logger, "start paper session", err)
		return
	}
	if err := h.mgr.Start(r.Context(), req); err != nil {
		fail(w, r, h.logger, "start paper session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Paper trading session started",
		"run_id":  req.RunID,
	})
}

// Stop ends a session; unknown runs succeed.
// POST /paper/stop/{run_id}
func (h *PaperHandler) Stop(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	_, active := h.mgr.Status(runID)
	if err := h.mgr.Stop(r.Context(), runID); err != nil {
		fail(w, r, h.logger, "stop paper session", err)
		return
	}
	msg := "Paper trading session stopped"
	if !active {
		msg = "Session already stopped or not active"
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg, "run_id": runID})
}

// Status reports a session's account. Inactive runs report only
// {"active": false}.
// GET /paper/status/{run_id}
func (h *PaperHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, ok := h.mgr.Status(r.PathValue("run_id"))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// List reports every active session.
// GET /paper/sessions
func (h *PaperHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.mgr.List()})
}
