// Package sandbox runs untrusted strategy source in an embedded Starlark
// interpreter. Source is checked statically, executed once to define
// generate_signal and CONFIG, and then called once per bar.
package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strconv"

	"go.starlark.net/starlark"

	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/strategy"
)

// DefaultMaxSteps bounds module initialisation and every generate_signal
// call.
const DefaultMaxSteps = 5_000_000

// Options tune a compiled program.
type Options struct {
	MaxSteps uint64
	Logger   *slog.Logger // receives print() output at debug level
}

// Program is a compiled strategy. It is safe for concurrent use: the module
// globals are frozen after initialisation.
type Program struct {
	fn       starlark.Callable
	config   domain.AlgoConfig
	raw      map[string]any
	maxSteps uint64
	logger   *slog.Logger
}

var _ strategy.Strategy = (*Program)(nil)

// Compile checks and loads src. Every failure is a *ValidationError.
func Compile(ctx context.Context, src string, opts Options) (*Program, error) {
	if _, err := Check(src); err != nil {
		return nil, err
	}

	p := &Program{maxSteps: opts.MaxSteps, logger: opts.Logger}
	if p.maxSteps == 0 {
		p.maxSteps = DefaultMaxSteps
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With(slog.String("component", "sandbox"))

	thread, stop := p.newThread(ctx, "init")
	globals, err := starlark.ExecFileOptions(fileOptions, thread, "strategy.star", src, predeclared)
	stop()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ValidationError{Msg: "Execution error: " + firstLine(err.Error())}
	}

	v, ok := globals["generate_signal"]
	if !ok {
		return nil, &ValidationError{Msg: "Function 'generate_signal' not found."}
	}
	p.fn, ok = v.(starlark.Callable)
	if !ok {
		return nil, &ValidationError{Msg: "'generate_signal' is not callable."}
	}

	p.raw, err = configMap(globals)
	if err != nil {
		return nil, &ValidationError{Msg: "Invalid CONFIG: " + err.Error()}
	}
	p.config, err = domain.AlgoConfigFromMap(p.raw)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error(), Err: err}
	}
	return p, nil
}

// Config is the validated CONFIG declaration merged onto the defaults.
func (p *Program) Config() domain.AlgoConfig { return p.config }

// RawConfig is the CONFIG declaration as written.
func (p *Program) RawConfig() map[string]any { return maps.Clone(p.raw) }

// Signal calls generate_signal for one bar. VM failures are returned as
// *StrategyFault, unknown outputs as *InvalidSignalError.
func (p *Program) Signal(ctx context.Context, c *strategy.Context) (domain.Intent, error) {
	thread, stop := p.newThread(ctx, "generate_signal")
	defer stop()

	v, err := starlark.Call(thread, p.fn, starlark.Tuple{contextValue(c)}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return domain.IntentHold, ctx.Err()
		}
		return domain.IntentHold, &StrategyFault{Kind: faultKind(err.Error()), Err: err}
	}
	return p.normalize(v)
}

func (p *Program) normalize(v starlark.Value) (domain.Intent, error) {
	if v == starlark.None {
		return domain.IntentHold, nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return domain.IntentHold, &InvalidSignalError{Value: v.String()}
	}
	in, ok := domain.ParseIntent(s, p.config.Direction)
	if !ok {
		return domain.IntentHold, &InvalidSignalError{Value: strconv.Quote(s)}
	}
	return in, nil
}

func (p *Program) newThread(ctx context.Context, name string) (*starlark.Thread, func() bool) {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			p.logger.DebugContext(ctx, "strategy print", slog.String("msg", msg))
		},
	}
	thread.SetMaxExecutionSteps(p.maxSteps)
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	return thread, stop
}

// IsFault reports whether err is a recoverable per-call strategy fault.
func IsFault(err error) bool {
	var f *StrategyFault
	return errors.As(err, &f)
}
