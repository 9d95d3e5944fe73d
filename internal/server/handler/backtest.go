package handler

import (
	"context"
	"log/slog"
	"net/http"
	"path"

	"github.com/alanyoungcy/quantlab/internal/backtest"
	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/sandbox"
)

// BacktestService is what the backtest endpoints need. *backtest.Service
// satisfies it.
type BacktestService interface {
	Validate(ctx context.Context, code string) (*sandbox.Report, error)
	Run(ctx context.Context, req backtest.Request) (*backtest.Result, error)
	Progress(ctx context.Context, runID string) int
	Get(ctx context.Context, runID string) (domain.BacktestRun, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.BacktestRun, error)
	Trades(ctx context.Context, runID string, opts domain.ListOpts) ([]domain.Trade, error)
}

// BacktestHandler serves validation, backtest and run-history endpoints.
type BacktestHandler struct {
	svc    BacktestService
	blobs  domain.BlobReader // optional
	prefix string
	logger *slog.Logger
}

// NewBacktestHandler creates a BacktestHandler. blobs may be nil, in which
// case archive endpoints answer 404.
func NewBacktestHandler(svc BacktestService, blobs domain.BlobReader, archivePrefix string, logger *slog.Logger) *BacktestHandler {
	return &BacktestHandler{svc: svc, blobs: blobs, prefix: archivePrefix, logger: logger}
}

type codeRequest struct {
	Code string `json:"code"`
}

// Validate statically checks and dry-runs strategy source.
// POST /validate
func (h *BacktestHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, h.logger, "validate", err)
		return
	}
	report, err := h.svc.Validate(r.Context(), req.Code)
	if err != nil {
		fail(w, r, h.logger, "validate", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Create runs a backtest synchronously.
// POST /backtests
func (h *BacktestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req backtest.Request
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, h.logger, "backtest", err)
		return
	}
	res, err := h.svc.Run(r.Context(), req)
	if err != nil {
		fail(w, r, h.logger, "backtest", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
}

// Progress reports a run's progress; unknown runs report 0.
// GET /backtest-progress/{run_id}
func (h *BacktestHandler) Progress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"progress": h.svc.Progress(r.Context(), r.PathValue("run_id"))})
}

// Get returns a persisted run summary.
// GET /backtests/{run_id}
func (h *BacktestHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Get(r.Context(), r.PathValue("run_id"))
	if err != nil {
		fail(w, r, h.logger, "get backtest", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// List returns persisted runs, newest first.
// GET /backtests?limit=50&offset=0
func (h *BacktestHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	runs, err := h.svc.List(r.Context(), opts)
	if err != nil {
		fail(w, r, h.logger, "list backtests", err)
		return
	}
	if runs == nil {
		runs = []domain.BacktestRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "limit": opts.Limit, "offset": opts.Offset})
}

// Trades returns a persisted run's trades.
// GET /backtests/{run_id}/trades
func (h *BacktestHandler) Trades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.svc.Trades(r.Context(), r.PathValue("run_id"), parseListOpts(r))
	if err != nil {
		fail(w, r, h.logger, "list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// Archive lists a run's archived objects.
// GET /backtests/{run_id}/archive
func (h *BacktestHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotFound, "archive not configured")
		return
	}
	runID := r.PathValue("run_id")
	objects, err := h.blobs.List(r.Context(), path.Join(h.prefix, runID)+"/")
	if err != nil {
		fail(w, r, h.logger, "list archive", err)
		return
	}
	if len(objects) == 0 {
		writeError(w, http.StatusNotFound, "no archive for run "+runID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "objects": objects})
}
