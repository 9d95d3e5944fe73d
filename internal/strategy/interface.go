// Package strategy defines the contract between the simulation and strategy
// logic, and builds the read-only view a strategy observes on each bar.
package strategy

import (
	"context"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// Strategy decides an intent for one bar.
type Strategy interface {
	Signal(ctx context.Context, c *Context) (domain.Intent, error)
}

// Func adapts a plain function to Strategy.
type Func func(ctx context.Context, c *Context) (domain.Intent, error)

// Signal calls f.
func (f Func) Signal(ctx context.Context, c *Context) (domain.Intent, error) {
	return f(ctx, c)
}

// Script returns a strategy that replays intents by bar index and holds
// once the script runs out. It is deterministic and used for fixtures and
// replays of recorded decisions.
func Script(intents ...domain.Intent) Strategy {
	return Func(func(_ context.Context, c *Context) (domain.Intent, error) {
		if c.Index < len(intents) {
			return intents[c.Index], nil
		}
		return domain.IntentHold, nil
	})
}
