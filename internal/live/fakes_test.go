package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/strategy"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// chanStream delivers candles pushed to feed until ctx is cancelled.
type chanStream struct {
	feed   chan domain.Candle
	ignore bool // ignore cancellation, like a stuck socket
}

func (s *chanStream) FetchCandles(context.Context, domain.CandleRequest) ([]domain.Candle, error) {
	return nil, domain.ErrNoCandles
}

func (s *chanStream) DefaultFeeRate() float64 { return domain.DefaultFeeRate }

func (s *chanStream) SubscribeClosed(ctx context.Context, _, _ string, fn func(domain.Candle)) error {
	if s.ignore {
		select {}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-s.feed:
			fn(c)
		}
	}
}

type exchanges struct {
	stream *chanStream
	err    error
}

func (e *exchanges) Exchange(string, domain.Credentials) (domain.Exchange, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.stream, nil
}

type sink struct {
	mu     sync.Mutex
	events []domain.Event
	fail   bool
}

func (s *sink) Emit(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *sink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *sink) last(typ domain.EventType) (domain.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type == typ {
			return s.events[i], true
		}
	}
	return domain.Event{}, false
}

// scripted is a Program replaying a fixed list of intents or errors.
type scripted struct {
	cfg   domain.AlgoConfig
	steps []any // domain.Intent or error
}

func (p *scripted) Config() domain.AlgoConfig { return p.cfg }

func (p *scripted) Signal(_ context.Context, c *strategy.Context) (domain.Intent, error) {
	if c.Index >= len(p.steps) {
		return domain.IntentHold, nil
	}
	switch v := p.steps[c.Index].(type) {
	case error:
		return domain.IntentHold, v
	case domain.Intent:
		return v, nil
	}
	return domain.IntentHold, nil
}

type vault struct{}

func (vault) Seal(p string) (string, error) { return "sealed:" + p, nil }

func (vault) Open(s string) (string, error) {
	p, ok := strings.CutPrefix(s, "sealed:")
	if !ok && s != "" {
		return "", errors.New("bad ciphertext")
	}
	return p, nil
}

type archive struct {
	mu     sync.Mutex
	trades map[string][]domain.Trade
}

func (a *archive) ArchiveResult(context.Context, string, any) (string, error) { return "", nil }

func (a *archive) ArchiveTrades(_ context.Context, runID string, trades []domain.Trade) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.trades == nil {
		a.trades = map[string][]domain.Trade{}
	}
	a.trades[runID] = trades
	return "paper/" + runID + "/trades.jsonl", nil
}

func (a *archive) get(runID string) []domain.Trade {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.trades[runID]
}

type memStore struct {
	mu       sync.Mutex
	sessions map[string]domain.PaperSession
}

func (s *memStore) Create(_ context.Context, ps domain.PaperSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = map[string]domain.PaperSession{}
	}
	s.sessions[ps.RunID] = ps
	return nil
}

func (s *memStore) MarkStopped(_ context.Context, runID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.sessions[runID]
	ps.Active = false
	ps.StopReason = reason
	s.sessions[runID] = ps
	return nil
}

func (s *memStore) Get(_ context.Context, runID string) (domain.PaperSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.sessions[runID]
	if !ok {
		return ps, domain.ErrNotFound
	}
	return ps, nil
}

func (s *memStore) ListActive(context.Context) ([]domain.PaperSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PaperSession
	for _, ps := range s.sessions {
		if ps.Active {
			out = append(out, ps)
		}
	}
	return out, nil
}

type alerts struct {
	mu   sync.Mutex
	msgs []string
}

func (a *alerts) Notify(_ context.Context, _, _, msg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
	return nil
}

func (a *alerts) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.msgs)
}
