package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/platform/binance"
)

func TestRegistryExchange(t *testing.T) {
	r := NewRegistry(binance.Options{FeeRate: 0.0004})

	ex, err := r.Exchange(" Binance ", domain.Credentials{Testnet: true})
	require.NoError(t, err)
	assert.Equal(t, 0.0004, ex.DefaultFeeRate())

	_, err = r.Exchange("coinbase", domain.Credentials{})
	assert.ErrorIs(t, err, domain.ErrUnsupported)
}
