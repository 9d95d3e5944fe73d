// Package live runs strategies against a stream of closed bars. Each run id
// owns one Session; the Manager is the only place sessions are created and
// stopped.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/indicator"
	"github.com/alanyoungcy/quantlab/internal/simulation"
	"github.com/alanyoungcy/quantlab/internal/strategy"
)

const (
	historyWindow = 100
	maxCandles    = 2000
)

var (
	errManualStop  = errors.New("stopped by request")
	errLiquidated  = errors.New("equity depleted")
	errKillSwitch  = errors.New("max drawdown reached")
	errStreamEnded = errors.New("stream ended")
)

// Program is a compiled strategy together with its declared configuration.
type Program interface {
	strategy.Strategy
	Config() domain.AlgoConfig
}

// Status is the account view of a session.
type Status struct {
	Active       bool             `json:"active"`
	RunID        string           `json:"run_id"`
	Exchange     string           `json:"exchange"`
	Symbol       string           `json:"symbol"`
	Timeframe    string           `json:"timeframe"`
	QuoteBalance float64          `json:"quote_balance"`
	BaseBalance  float64          `json:"base_balance"`
	Equity       float64          `json:"equity"`
	LastPrice    float64          `json:"last_price"`
	Position     *domain.Position `json:"position"`
	Trades       int              `json:"total_trades"`
	Bars         int              `json:"bars"`
	StartedAt    time.Time        `json:"started_at"`
}

// Session drives one strategy from a closed-bar stream. Bars are processed
// strictly one at a time.
type Session struct {
	runID     string
	exchange  string
	symbol    string
	timeframe string
	initial   float64
	prog      Program
	cfg       domain.AlgoConfig
	sink      domain.EventSink
	strict    bool
	logger    *slog.Logger
	startedAt time.Time

	mu        sync.Mutex
	sim       *simulation.Simulator
	candles   []domain.Candle
	lastPrice float64

	active    atomic.Bool
	emitCtx   context.Context
	cancel    context.CancelCauseFunc
	done      chan struct{}
	finished  sync.Once
	onStopped func(s *Session, reason string)
}

func newSession(req StartRequest, prog Program, feeRate float64, sink domain.EventSink, strict bool, logger *slog.Logger) *Session {
	cfg := prog.Config()
	return &Session{
		runID:     req.RunID,
		exchange:  req.Exchange,
		symbol:    req.Symbol,
		timeframe: req.Timeframe,
		initial:   req.InitialBalance,
		prog:      prog,
		cfg:       cfg,
		sink:      sink,
		strict:    strict,
		logger: logger.With(
			slog.String("run_id", req.RunID),
			slog.String("symbol", req.Symbol),
		),
		startedAt: time.Now().UTC(),
		sim:       simulation.New(cfg, req.InitialBalance, feeRate),
		done:      make(chan struct{}),
	}
}

// start marks the session active and launches the stream goroutine. The
// session outlives ctx; only stop or a terminal condition ends it.
func (s *Session) start(ctx context.Context, stream domain.CandleStream) {
	s.emitCtx = context.WithoutCancel(ctx)
	runCtx, cancel := context.WithCancelCause(s.emitCtx)
	s.cancel = cancel
	s.active.Store(true)
	s.emit(domain.EventStatus, map[string]string{"status": "ACTIVE"})

	go s.run(runCtx, stream)
}

func (s *Session) run(ctx context.Context, stream domain.CandleStream) {
	defer close(s.done)

	err := stream.SubscribeClosed(ctx, s.symbol, s.timeframe, func(c domain.Candle) {
		if err := s.OnCandle(ctx, c); err != nil {
			s.cancel(err)
		}
	})
	if err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "stream crashed", slog.String("error", err.Error()))
		s.emit(domain.EventError, map[string]string{"message": "stream_crashed"})
		s.cancel(fmt.Errorf("stream: %w", err))
	}
	s.cancel(errStreamEnded)

	cause := context.Cause(ctx)
	if errors.Is(cause, errManualStop) {
		return
	}
	s.finish(cause.Error())
}

// stop cancels the stream and waits up to timeout for it to exit. A stream
// that does not exit in time is logged and abandoned.
func (s *Session) stop(ctx context.Context, timeout time.Duration) {
	s.cancel(errManualStop)
	select {
	case <-s.done:
	case <-time.After(timeout):
		s.logger.WarnContext(ctx, "stream did not exit in time", slog.Duration("timeout", timeout))
	case <-ctx.Done():
	}
	s.finish(errManualStop.Error())
}

func (s *Session) finish(reason string) {
	s.finished.Do(func() {
		s.active.Store(false)
		s.emit(domain.EventStatus, map[string]string{"status": "STOPPED", "reason": reason})
		s.logger.InfoContext(s.emitCtx, "session stopped", slog.String("reason", reason))
		if s.onStopped != nil {
			s.onStopped(s, reason)
		}
	})
}

// Active reports whether the session still accepts bars.
func (s *Session) Active() bool { return s.active.Load() }

// Done is closed when the stream goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// OnCandle processes one closed bar: it emits the candle, re-derives the
// indicators, asks the strategy for an intent, applies it and emits the
// resulting position, trade and balance events. A non-nil error means the
// session must stop.
func (s *Session) OnCandle(ctx context.Context, c domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Active() {
		return domain.ErrSessionClosed
	}

	s.candles = append(s.candles, c)
	if len(s.candles) > maxCandles {
		s.candles = append([]domain.Candle(nil), s.candles[len(s.candles)-maxCandles:]...)
	}
	s.lastPrice = c.Close
	s.emit(domain.EventCandle, c)

	st := s.sim.State()
	series := indicator.Compute(s.candles, s.cfg)
	sctx := strategy.Build(len(s.candles)-1, s.candles, series, st.Position, st.Balance, s.initial, s.timeframe, historyWindow)

	intent, err := s.prog.Signal(ctx, sctx)
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		msg := err.Error()
		if !errors.Is(err, domain.ErrStrategyFault) {
			msg = "strategy_error:InvalidSignal:" + msg
		}
		s.logger.WarnContext(ctx, "strategy error treated as HOLD", slog.String("error", msg))
		s.emit(domain.EventError, map[string]string{"message": msg})
		if s.strict {
			return fmt.Errorf("live: strategy: %w", err)
		}
		intent = domain.IntentHold
	}

	res := s.sim.Step(c, nil, intent)
	for _, t := range res.Closed {
		s.emit(domain.EventTrade, t)
	}
	if p := res.Opened; p != nil {
		s.emit(domain.EventPosition, p)
		s.emit(domain.EventTrade, map[string]any{
			"side":        p.Side,
			"entry_price": p.EntryPrice,
			"exit_price":  nil,
			"quantity":    p.Quantity,
			"pnl":         0.0,
			"opened_at":   p.OpenedAt,
			"closed_at":   nil,
		})
	}

	st = s.sim.State()
	s.emit(domain.EventBalance, domain.BalancePayload{
		QuoteBalance: st.Balance,
		BaseBalance:  baseBalance(st.Position),
		Equity:       res.Equity,
		LastPrice:    c.Close,
		Position:     st.Position,
		Timestamp:    c.Timestamp,
	})
	s.logger.InfoContext(ctx, "candle processed",
		slog.Int64("ts", c.Timestamp),
		slog.Float64("close", c.Close),
		slog.Float64("equity", res.Equity),
		slog.String("intent", intent.String()),
	)

	switch res.Halt {
	case simulation.HaltLiquidation:
		return errLiquidated
	case simulation.HaltKillSwitch:
		return errKillSwitch
	}
	return nil
}

// Status snapshots the account.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.sim.State()
	return Status{
		Active:       s.Active(),
		RunID:        s.runID,
		Exchange:     s.exchange,
		Symbol:       s.symbol,
		Timeframe:    s.timeframe,
		QuoteBalance: st.Balance,
		BaseBalance:  baseBalance(st.Position),
		Equity:       st.Equity(s.lastPrice),
		LastPrice:    s.lastPrice,
		Position:     st.Position,
		Trades:       len(st.Trades),
		Bars:         len(st.EquityCurve),
		StartedAt:    s.startedAt,
	}
}

// Trades returns the session's closed trades so far.
func (s *Session) Trades() []domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim.State().Trades
}

// baseBalance is the signed position size in the base asset.
func baseBalance(p *domain.Position) float64 {
	switch {
	case p == nil:
		return 0
	case p.Side == domain.SideShort:
		return -p.Quantity
	default:
		return p.Quantity
	}
}

func (s *Session) emit(typ domain.EventType, payload any) {
	ev := domain.Event{RunID: s.runID, Type: typ, Payload: payload, EmittedAt: time.Now().UTC()}
	if err := s.sink.Emit(s.emitCtx, ev); err != nil {
		s.logger.WarnContext(s.emitCtx, "emit event failed",
			slog.String("event_type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}
