// Package backtest runs historical replays end to end: fetch bars, compile
// the strategy, replay, compute metrics, then persist and archive the run.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/metrics"
	"github.com/alanyoungcy/quantlab/internal/sandbox"
	"github.com/alanyoungcy/quantlab/internal/simulation"
	"github.com/alanyoungcy/quantlab/internal/strategy"
)

// DefaultMaxConcurrent bounds simultaneous replays when Options leaves it
// unset.
const DefaultMaxConcurrent = 4

// Alerter notifies operators. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Deps are the collaborators of a Service. Everything except Exchanges is
// optional.
type Deps struct {
	Exchanges domain.ExchangeFactory
	Runs      domain.RunStore
	Trades    domain.TradeStore
	Progress  domain.ProgressCache
	Archive   domain.ResultArchiver
	Locks     domain.LockManager
	Alerts    Alerter
}

// Options tune a Service.
type Options struct {
	MaxConcurrent int64
	Sandbox       sandbox.Options
	Strict        bool // strategy faults fail the run
	RiskFreeRate  float64
	LockTTL       time.Duration
}

// Service executes backtests.
type Service struct {
	deps    Deps
	opts    Options
	sem     *semaphore.Weighted
	tracker *Tracker
	logger  *slog.Logger
}

// NewService wires a Service.
func NewService(deps Deps, opts Options, logger *slog.Logger) *Service {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	if opts.Sandbox.Logger == nil {
		opts.Sandbox.Logger = logger
	}
	return &Service{
		deps:    deps,
		opts:    opts,
		sem:     semaphore.NewWeighted(opts.MaxConcurrent),
		tracker: NewTracker(deps.Progress, logger),
		logger:  logger.With(slog.String("component", "backtest")),
	}
}

// Validate statically checks code and dry-runs it on synthetic bars.
func (s *Service) Validate(ctx context.Context, code string) (*sandbox.Report, error) {
	return sandbox.Validate(ctx, code, s.opts.Sandbox)
}

// Progress reports 0..100 for runID; unknown runs report 0.
func (s *Service) Progress(ctx context.Context, runID string) int {
	return s.tracker.Get(ctx, runID)
}

// Get loads a persisted run.
func (s *Service) Get(ctx context.Context, runID string) (domain.BacktestRun, error) {
	if s.deps.Runs == nil {
		return domain.BacktestRun{}, fmt.Errorf("backtest: get %s: %w", runID, domain.ErrNotFound)
	}
	return s.deps.Runs.Get(ctx, runID)
}

// List returns persisted runs, newest first.
func (s *Service) List(ctx context.Context, opts domain.ListOpts) ([]domain.BacktestRun, error) {
	if s.deps.Runs == nil {
		return nil, nil
	}
	return s.deps.Runs.ListRecent(ctx, opts)
}

// Trades returns a persisted run's trades in closing order.
func (s *Service) Trades(ctx context.Context, runID string, opts domain.ListOpts) ([]domain.Trade, error) {
	if s.deps.Trades == nil {
		return nil, nil
	}
	return s.deps.Trades.ListByRun(ctx, runID, opts)
}

// Run executes req synchronously and returns the full result. Input
// problems wrap domain.ErrInvalidInput or are *sandbox.ValidationError;
// an empty range wraps domain.ErrNoCandles.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	prog, err := sandbox.Compile(ctx, req.Code, s.opts.Sandbox)
	if err != nil {
		return nil, err
	}

	if s.deps.Locks != nil {
		unlock, err := s.deps.Locks.Acquire(ctx, "backtest:"+req.RunID, s.opts.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("backtest: lock %s: %w", req.RunID, err)
		}
		defer unlock()
	}
	s.tracker.Set(ctx, req.RunID, 0)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	logger := s.logger.With(slog.String("run_id", req.RunID))
	started := time.Now()
	res, err := s.execute(ctx, req, prog, logger)
	if err != nil {
		s.failed(ctx, req, err, logger)
		return nil, err
	}
	s.tracker.Set(ctx, req.RunID, 100)
	logger.InfoContext(ctx, "backtest finished",
		slog.Int("trades", res.TotalTrades),
		slog.Float64("return_pct", res.TotalReturnPercent),
		slog.Duration("elapsed", time.Since(started)),
	)
	return res, nil
}

func (s *Service) execute(ctx context.Context, req Request, prog *sandbox.Program, logger *slog.Logger) (*Result, error) {
	ex, err := s.deps.Exchanges.Exchange(req.Exchange, req.credentials())
	if err != nil {
		return nil, fmt.Errorf("backtest: exchange %s: %w", req.Exchange, err)
	}
	candles, err := ex.FetchCandles(ctx, domain.CandleRequest{
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Start:     req.start,
		End:       req.end,
	})
	if err != nil {
		return nil, fmt.Errorf("backtest: fetch candles: %w", err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("backtest: %s %s: %w", req.Symbol, req.Timeframe, domain.ErrNoCandles)
	}
	feeRate := ex.DefaultFeeRate()
	if req.FeeRate != nil {
		feeRate = *req.FeeRate
	}

	if s.deps.Runs != nil {
		err := s.deps.Runs.Create(ctx, domain.BacktestRun{
			ID:             req.RunID,
			Exchange:       req.Exchange,
			Symbol:         req.Symbol,
			Timeframe:      req.Timeframe,
			InitialBalance: req.InitialBalance,
			FeeRate:        feeRate,
			StartAt:        req.start,
			EndAt:          req.end,
			Status:         domain.RunStatusRunning,
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("backtest: create run: %w", err)
		}
	}

	cfg := prog.Config()
	out, err := simulation.Run(ctx, candles, prog, cfg, simulation.Options{
		InitialBalance: req.InitialBalance,
		FeeRate:        feeRate,
		Timeframe:      req.Timeframe,
		HistoryWindow:  strategy.HistoryWindow(cfg),
		Strict:         s.opts.Strict,
		Progress:       func(pct int) { s.tracker.Set(ctx, req.RunID, pct) },
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	rep := metrics.Calculate(metrics.Input{
		EquityCurve:    out.EquityCurve,
		Trades:         out.Trades,
		InitialBalance: req.InitialBalance,
		Timeframe:      req.Timeframe,
		RiskFreeRate:   s.opts.RiskFreeRate,
	})
	res := buildResult(req.RunID, candles, feeRate, prog.RawConfig(), out, rep)

	s.persist(ctx, res, logger)
	return res, nil
}

// persist stores trades, archives the full result and marks the run
// complete. Storage failures never fail the backtest itself.
func (s *Service) persist(ctx context.Context, res *Result, logger *slog.Logger) {
	if s.deps.Trades != nil && len(res.Trades) > 0 {
		if err := s.deps.Trades.InsertBatch(ctx, res.RunID, res.Trades); err != nil {
			logger.WarnContext(ctx, "store trades failed", slog.String("error", err.Error()))
		}
	}
	if s.deps.Archive != nil {
		path, err := s.deps.Archive.ArchiveResult(ctx, res.RunID, res)
		if err != nil {
			logger.WarnContext(ctx, "archive result failed", slog.String("error", err.Error()))
		} else {
			res.ArchivePath = path
		}
		if len(res.Trades) > 0 {
			if _, err := s.deps.Archive.ArchiveTrades(ctx, res.RunID, res.Trades); err != nil {
				logger.WarnContext(ctx, "archive trades failed", slog.String("error", err.Error()))
			}
		}
	}
	if s.deps.Runs != nil {
		if err := s.deps.Runs.Complete(ctx, res.RunID, res.Summary(), res.ArchivePath); err != nil {
			logger.WarnContext(ctx, "mark run complete failed", slog.String("error", err.Error()))
		}
	}
}

func (s *Service) failed(ctx context.Context, req Request, cause error, logger *slog.Logger) {
	logger.WarnContext(ctx, "backtest failed", slog.String("error", cause.Error()))
	if errors.Is(cause, context.Canceled) {
		return
	}
	// Runs that never got a row (exchange or fetch errors) fail with
	// ErrNotFound here, which is fine.
	if s.deps.Runs != nil {
		if err := s.deps.Runs.Fail(context.WithoutCancel(ctx), req.RunID, cause.Error()); err != nil && !errors.Is(err, domain.ErrNotFound) {
			logger.WarnContext(ctx, "mark run failed", slog.String("error", err.Error()))
		}
	}
	if s.deps.Alerts != nil {
		msg := fmt.Sprintf("run %s (%s %s): %s", req.RunID, req.Symbol, req.Timeframe, cause.Error())
		if err := s.deps.Alerts.Notify(context.WithoutCancel(ctx), "backtest_failed", "Backtest failed", msg); err != nil {
			logger.WarnContext(ctx, "alert failed", slog.String("error", err.Error()))
		}
	}
}
