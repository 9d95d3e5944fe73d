package sandbox

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"

	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/strategy"
)

// contextValue renders c as the frozen dict handed to generate_signal. The
// bar's OHLCV fields are also exposed at the top level for strategies that
// read ctx["close"] directly.
func contextValue(c *strategy.Context) *starlark.Dict {
	d := starlark.NewDict(16)
	set := func(k string, v starlark.Value) { _ = d.SetKey(starlark.String(k), v) }

	candle := candleValue(c.Candle)
	set("candle", candle)

	history := make(starlark.Tuple, len(c.History))
	for i, h := range c.History {
		history[i] = candleValue(h)
	}
	set("history", history)

	names := make([]string, 0, len(c.Indicators))
	for name := range c.Indicators {
		names = append(names, name)
	}
	sort.Strings(names)
	ind := starlark.NewDict(len(names))
	for _, name := range names {
		_ = ind.SetKey(starlark.String(name), optFloat(c.Indicators[name]))
	}
	set("indicators", ind)

	if c.Position != nil {
		set("position", positionValue(*c.Position))
	} else {
		set("position", starlark.None)
	}
	set("balance", starlark.Float(c.Balance))
	set("initial_balance", starlark.Float(c.InitialBalance))
	set("timeframe", starlark.String(c.Timeframe))
	set("index", starlark.MakeInt(c.Index))

	for _, k := range []string{"open", "high", "low", "close", "volume", "timestamp"} {
		v, _, _ := candle.Get(starlark.String(k))
		set(k, v)
	}

	d.Freeze()
	return d
}

func candleValue(c domain.Candle) *starlark.Dict {
	d := starlark.NewDict(6)
	_ = d.SetKey(starlark.String("open"), starlark.Float(c.Open))
	_ = d.SetKey(starlark.String("high"), starlark.Float(c.High))
	_ = d.SetKey(starlark.String("low"), starlark.Float(c.Low))
	_ = d.SetKey(starlark.String("close"), starlark.Float(c.Close))
	_ = d.SetKey(starlark.String("volume"), starlark.Float(c.Volume))
	_ = d.SetKey(starlark.String("timestamp"), starlark.MakeInt64(c.Timestamp))
	return d
}

func positionValue(p domain.Position) *starlark.Dict {
	d := starlark.NewDict(6)
	_ = d.SetKey(starlark.String("side"), starlark.String(p.Side))
	_ = d.SetKey(starlark.String("entry_price"), starlark.Float(p.EntryPrice))
	_ = d.SetKey(starlark.String("quantity"), starlark.Float(p.Quantity))
	_ = d.SetKey(starlark.String("opened_at"), starlark.MakeInt64(p.OpenedAt))
	_ = d.SetKey(starlark.String("max_price"), starlark.Float(p.MaxPrice))
	_ = d.SetKey(starlark.String("min_price"), starlark.Float(p.MinPrice))
	return d
}

// optFloat maps a not-ready (NaN) indicator to None.
func optFloat(v float64) starlark.Value {
	if math.IsNaN(v) {
		return starlark.None
	}
	return starlark.Float(v)
}

// goValue converts a CONFIG literal to a plain Go scalar.
func goValue(v starlark.Value) (any, error) {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.Int:
		n, ok := v.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", v)
		}
		return n, nil
	case starlark.Float:
		return float64(v), nil
	case starlark.String:
		return string(v), nil
	default:
		return nil, fmt.Errorf("unsupported value of type %s", v.Type())
	}
}

// configMap extracts the CONFIG global, if declared.
func configMap(globals starlark.StringDict) (map[string]any, error) {
	raw, ok := globals["CONFIG"]
	if !ok || raw == starlark.None {
		return map[string]any{}, nil
	}
	dict, ok := raw.(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("CONFIG must be a dict")
	}
	out := make(map[string]any, dict.Len())
	for _, item := range dict.Items() {
		key, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("CONFIG keys must be strings")
		}
		v, err := goValue(item[1])
		if err != nil {
			return nil, fmt.Errorf("CONFIG[%q]: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}
