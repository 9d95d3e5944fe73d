package backtest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type market struct {
	candles []domain.Candle
	fee     float64
	err     error
	block   chan struct{} // when set, FetchCandles waits for it to close

	mu  sync.Mutex
	got []domain.CandleRequest
}

func (m *market) FetchCandles(ctx context.Context, req domain.CandleRequest) ([]domain.Candle, error) {
	m.mu.Lock()
	m.got = append(m.got, req)
	m.mu.Unlock()
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.candles, m.err
}

func (m *market) DefaultFeeRate() float64 { return m.fee }

func (m *market) SubscribeClosed(ctx context.Context, _, _ string, _ func(domain.Candle)) error {
	<-ctx.Done()
	return ctx.Err()
}

type exchanges struct {
	m     *market
	creds []domain.Credentials
}

func (e *exchanges) Exchange(name string, creds domain.Credentials) (domain.Exchange, error) {
	if name != "binance" {
		return nil, domain.ErrUnsupported
	}
	e.creds = append(e.creds, creds)
	return e.m, nil
}

type runStore struct {
	mu   sync.Mutex
	runs map[string]domain.BacktestRun
}

func (s *runStore) Create(_ context.Context, run domain.BacktestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		s.runs = map[string]domain.BacktestRun{}
	}
	s.runs[run.ID] = run
	return nil
}

func (s *runStore) Complete(_ context.Context, id string, sum domain.RunSummary, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	run.Status, run.Summary, run.ArchivePath, run.CompletedAt = domain.RunStatusCompleted, &sum, path, &now
	s.runs[id] = run
	return nil
}

func (s *runStore) Fail(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	run.Status, run.Error = domain.RunStatusFailed, reason
	s.runs[id] = run
	return nil
}

func (s *runStore) Get(_ context.Context, id string) (domain.BacktestRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return run, domain.ErrNotFound
	}
	return run, nil
}

func (s *runStore) ListRecent(context.Context, domain.ListOpts) ([]domain.BacktestRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BacktestRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	return out, nil
}

type tradeStore struct {
	byRun map[string][]domain.Trade
}

func (s *tradeStore) InsertBatch(_ context.Context, runID string, trades []domain.Trade) error {
	if s.byRun == nil {
		s.byRun = map[string][]domain.Trade{}
	}
	s.byRun[runID] = append(s.byRun[runID], trades...)
	return nil
}

func (s *tradeStore) ListByRun(_ context.Context, runID string, _ domain.ListOpts) ([]domain.Trade, error) {
	return s.byRun[runID], nil
}

type archive struct {
	results map[string]any
	fail    bool
}

func (a *archive) ArchiveResult(_ context.Context, runID string, result any) (string, error) {
	if a.fail {
		return "", errors.New("bucket unavailable")
	}
	if a.results == nil {
		a.results = map[string]any{}
	}
	a.results[runID] = result
	return "backtests/" + runID + "/result.json", nil
}

func (a *archive) ArchiveTrades(_ context.Context, runID string, _ []domain.Trade) (string, error) {
	if a.fail {
		return "", errors.New("bucket unavailable")
	}
	return "backtests/" + runID + "/trades.jsonl", nil
}

type progressCache struct {
	mu  sync.Mutex
	pct map[string]int
}

func (c *progressCache) SetProgress(_ context.Context, runID string, pct int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pct == nil {
		c.pct = map[string]int{}
	}
	c.pct[runID] = pct
	return nil
}

func (c *progressCache) GetProgress(_ context.Context, runID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pct, ok := c.pct[runID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return pct, nil
}

type locks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *locks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

type alerts struct {
	mu     sync.Mutex
	events []string
}

func (a *alerts) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}
