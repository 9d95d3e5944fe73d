// Package notify fans operator alerts (failed backtests, stopped paper
// sessions) out to chat webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Sender delivers one alert over one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to every Sender. Event types can be filtered,
// and repeats of the same event and title inside Cooldown are dropped.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	sent map[string]time.Time
}

// Options configure a Notifier.
type Options struct {
	// Events lists the event types to forward. Empty forwards all.
	Events   []string
	Cooldown time.Duration
}

// NewNotifier creates a Notifier over senders.
func NewNotifier(senders []Sender, opts Options, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(opts.Events))
	for _, e := range opts.Events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		cooldown: opts.Cooldown,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "notifier")),
		sent:     make(map[string]time.Time),
	}
}

// Notify sends title and message to all senders when event passes the
// filter and is not inside its cooldown.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if !n.admit(event + "\x00" + title) {
		n.logger.DebugContext(ctx, "event in cooldown", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) admit(key string) bool {
	if n.cooldown <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if last, ok := n.sent[key]; ok && now.Sub(last) < n.cooldown {
		return false
	}
	n.sent[key] = now
	return true
}

// dispatch tries every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), err)
	}
	return nil
}
