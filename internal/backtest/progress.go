package backtest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// Tracker records replay progress per run id. Values live in memory and are
// mirrored to an optional shared cache so other instances can answer
// progress queries.
type Tracker struct {
	mu     sync.RWMutex
	pct    map[string]int
	cache  domain.ProgressCache
	logger *slog.Logger
}

// NewTracker creates a Tracker. cache may be nil.
func NewTracker(cache domain.ProgressCache, logger *slog.Logger) *Tracker {
	return &Tracker{
		pct:    make(map[string]int),
		cache:  cache,
		logger: logger.With(slog.String("component", "progress")),
	}
}

// Set stores pct for runID. Cache failures are logged.
func (t *Tracker) Set(ctx context.Context, runID string, pct int) {
	pct = min(max(pct, 0), 100)
	t.mu.Lock()
	t.pct[runID] = pct
	t.mu.Unlock()

	if t.cache == nil {
		return
	}
	if err := t.cache.SetProgress(ctx, runID, pct); err != nil {
		t.logger.WarnContext(ctx, "progress cache write failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
	}
}

// Get returns the last known progress for runID, or 0 when unknown.
func (t *Tracker) Get(ctx context.Context, runID string) int {
	t.mu.RLock()
	pct, ok := t.pct[runID]
	t.mu.RUnlock()
	if ok || t.cache == nil {
		return pct
	}
	pct, err := t.cache.GetProgress(ctx, runID)
	if err != nil {
		return 0
	}
	return pct
}
