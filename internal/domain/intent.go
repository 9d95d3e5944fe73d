package domain

import (
	"fmt"
	"strings"
)

// Intent is the normalized decision a strategy makes for one bar.
type Intent uint8

const (
	IntentHold Intent = iota
	IntentLong
	IntentShort
	IntentClose
)

func (i Intent) String() string {
	switch i {
	case IntentLong:
		return "LONG"
	case IntentShort:
		return "SHORT"
	case IntentClose:
		return "CLOSE"
	default:
		return "HOLD"
	}
}

// MarshalText encodes the intent by name.
func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// ParseIntent normalizes a raw strategy output. BUY maps to LONG; SELL maps
// to CLOSE for long-only strategies and to SHORT otherwise. The returned
// bool is false for anything outside the accepted vocabulary.
func ParseIntent(raw string, dir Direction) (Intent, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY":
		return IntentLong, true
	case "SHORT":
		return IntentShort, true
	case "SELL":
		if dir == DirectionLongOnly {
			return IntentClose, true
		}
		return IntentShort, true
	case "CLOSE":
		return IntentClose, true
	case "HOLD":
		return IntentHold, true
	default:
		return IntentHold, false
	}
}

// MustParseIntent is ParseIntent for fixtures and constants.
func MustParseIntent(raw string) Intent {
	in, ok := ParseIntent(raw, DirectionLongShort)
	if !ok {
		panic(fmt.Sprintf("domain: unknown intent %q", raw))
	}
	return in
}
