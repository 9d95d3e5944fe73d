package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/quantlab/internal/backtest"
	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/live"
	"github.com/alanyoungcy/quantlab/internal/sandbox"
	"github.com/alanyoungcy/quantlab/internal/server"
	"github.com/alanyoungcy/quantlab/internal/server/handler"
	"github.com/alanyoungcy/quantlab/internal/server/ws"
)

// shutdownTimeout bounds graceful HTTP shutdown and stopping every paper
// session.
const shutdownTimeout = 10 * time.Second

func (a *App) sandboxOptions() sandbox.Options {
	return sandbox.Options{
		MaxSteps: uint64(a.cfg.Backtest.MaxSteps),
		Logger:   a.logger,
	}
}

// alerts hides a missing notifier behind a nil interface.
func alerts(deps *Dependencies) backtest.Alerter {
	if deps.Notifier == nil {
		return nil
	}
	return deps.Notifier
}

// newBacktestService builds the backtest service over whichever backends
// are wired.
func (a *App) newBacktestService(deps *Dependencies) *backtest.Service {
	return backtest.NewService(backtest.Deps{
		Exchanges: deps.Exchanges,
		Runs:      deps.Runs,
		Trades:    deps.Trades,
		Progress:  deps.Progress,
		Archive:   deps.BacktestArchive,
		Locks:     deps.Locks,
		Alerts:    alerts(deps),
	}, backtest.Options{
		MaxConcurrent: int64(a.cfg.Backtest.MaxConcurrent),
		Sandbox:       a.sandboxOptions(),
		Strict:        a.cfg.Backtest.Strict,
		RiskFreeRate:  a.cfg.Backtest.RiskFreeRate,
		LockTTL:       a.cfg.Backtest.LockTTL.Duration,
	}, a.logger)
}

// newManager builds the paper-session manager emitting to sink.
func (a *App) newManager(deps *Dependencies, sink domain.EventSink) *live.Manager {
	var vault live.Vault
	if deps.Vault != nil {
		vault = deps.Vault
	}
	return live.NewManager(live.Deps{
		Exchanges: deps.Exchanges,
		Compile:   live.SandboxCompiler(a.sandboxOptions()),
		Sink:      sink,
		Store:     deps.Sessions,
		Vault:     vault,
		Archive:   deps.PaperArchive,
		Alerts:    alerts(deps),
	}, live.Options{
		StopTimeout: a.cfg.Live.StopTimeout.Duration,
		Strict:      a.cfg.Live.StrategyFatal,
	}, a.logger)
}

// eventSinks picks where live events go. With Redis the hub follows the
// bus, so events reach clients on every instance; without it the hub is
// fed directly. The Postgres event log is added when configured.
func eventSinks(deps *Dependencies, hub *ws.Hub) live.FanOut {
	var sinks live.FanOut
	if deps.BusSink != nil {
		sinks = append(sinks, deps.BusSink)
	} else {
		sinks = append(sinks, hub)
	}
	if deps.Events != nil {
		sinks = append(sinks, deps.Events)
	}
	return sinks
}

// ServerMode serves the HTTP and WebSocket API until ctx is cancelled, then
// stops every paper session.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	// The hub outlives ctx so sessions stopped during shutdown can still
	// emit their final events.
	hubCtx, stopHub := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHub()

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error {
		if err := hub.Run(hubCtx); err != nil && hubCtx.Err() == nil {
			return err
		}
		return nil
	})

	svc := a.newBacktestService(deps)
	mgr := a.newManager(deps, eventSinks(deps, hub))

	srv := server.NewServer(server.Config{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks, a.logger),
		Backtest: handler.NewBacktestHandler(svc, deps.Blobs, a.cfg.S3.BacktestPrefix, a.logger),
		Paper:    handler.NewPaperHandler(mgr, a.logger),
	}, hub, deps.Limiter, a.logger)

	g.Go(srv.Start)

	if a.cfg.Live.ResumeOnStart {
		g.Go(func() error {
			n, err := mgr.Resume(ctx)
			if err != nil {
				a.logger.ErrorContext(ctx, "resume paper sessions failed", slog.String("error", err.Error()))
				return nil
			}
			a.logger.InfoContext(ctx, "paper sessions resumed", slog.Int("count", n))
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutCtx)
		if stopErr := mgr.StopAll(shutCtx); stopErr != nil {
			a.logger.Error("stop paper sessions failed", slog.String("error", stopErr.Error()))
		}
		stopHub()
		return err
	})

	return g.Wait()
}

// BacktestMode runs the request in the configured file once and writes the
// result as JSON to the app's output.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	if a.requestPath == "" {
		return fmt.Errorf("app: backtest mode needs a request file")
	}
	data, err := os.ReadFile(a.requestPath)
	if err != nil {
		return fmt.Errorf("app: read request: %w", err)
	}
	var req backtest.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("app: decode request %s: %w", a.requestPath, err)
	}

	a.logger.InfoContext(ctx, "running backtest",
		slog.String("symbol", req.Symbol),
		slog.String("timeframe", req.Timeframe),
	)
	res, err := a.newBacktestService(deps).Run(ctx, req)
	if err != nil {
		return fmt.Errorf("app: backtest: %w", err)
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("app: write result: %w", err)
	}
	return nil
}

// MigrateMode applies the database migrations and exits.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	if deps.Postgres == nil {
		return fmt.Errorf("app: migrate mode requires postgres")
	}
	if err := deps.Postgres.RunMigrations(ctx); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	a.logger.InfoContext(ctx, "migrations applied")
	return nil
}
