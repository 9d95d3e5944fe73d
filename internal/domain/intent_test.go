package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseIntent(t *testing.T) {
	tests := []struct {
		raw  string
		dir  Direction
		want Intent
		ok   bool
	}{
		{"LONG", DirectionLongOnly, IntentLong, true},
		{" buy ", DirectionLongOnly, IntentLong, true},
		{"SELL", DirectionLongOnly, IntentClose, true},
		{"SELL", DirectionLongShort, IntentShort, true},
		{"short", DirectionLongShort, IntentShort, true},
		{"CLOSE", DirectionLongOnly, IntentClose, true},
		{"HOLD", DirectionLongOnly, IntentHold, true},
		{"MOON", DirectionLongOnly, IntentHold, false},
		{"", DirectionLongOnly, IntentHold, false},
	}
	for _, tt := range tests {
		got, ok := ParseIntent(tt.raw, tt.dir)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestIntentText(t *testing.T) {
	b, err := IntentShort.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "SHORT", string(b))
	assert.Equal(t, "HOLD", Intent(42).String())
}
