// Package platform resolves exchange ids to market-data clients.
package platform

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/platform/binance"
)

// Registry builds exchange clients by id. The zero value is not usable;
// create one with NewRegistry.
type Registry struct {
	binance binance.Options
}

var _ domain.ExchangeFactory = (*Registry)(nil)

// NewRegistry creates a Registry sharing opts across every Binance client.
func NewRegistry(opts binance.Options) *Registry {
	return &Registry{binance: opts}
}

// Exchange returns a client for name. Unknown ids wrap
// domain.ErrUnsupported.
func (r *Registry) Exchange(name string, creds domain.Credentials) (domain.Exchange, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "binance":
		return binance.New(creds, r.binance), nil
	default:
		return nil, fmt.Errorf("platform: exchange %q: %w", name, domain.ErrUnsupported)
	}
}
