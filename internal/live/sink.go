package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// FanOut delivers every event to each sink in order. A failing sink does
// not stop delivery to the rest.
type FanOut []domain.EventSink

var _ domain.EventSink = FanOut(nil)

// Emit sends ev to every sink and joins their errors.
func (f FanOut) Emit(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("live: %d of %d sink(s) failed: %w", len(errs), len(f), errors.Join(errs...))
	}
	return nil
}
