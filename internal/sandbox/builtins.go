package sandbox

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// predeclared is the namespace every strategy runs in, on top of the core
// Starlark builtins. It is frozen once and shared by all programs.
var predeclared = func() starlark.StringDict {
	d := starlark.StringDict{
		"math": mathModule(),

		"sum":   fn("sum", sumFn),
		"round": fn("round", roundFn),

		"mean":         fn("mean", seriesFn(mean)),
		"stdev":        fn("stdev", seriesFn(stdev)),
		"variance":     fn("variance", seriesFn(variance)),
		"median":       fn("median", seriesFn(median)),
		"clamp":        fn("clamp", clampFn),
		"pct_change":   fn("pct_change", pctChangeFn),
		"zscore":       fn("zscore", zscoreFn),
		"rolling_mean": fn("rolling_mean", rollingFn(mean, 0)),
		"rolling_std":  fn("rolling_std", rollingFn(stdev, 1)),
		"percentile":   fn("percentile", percentileFn),
		"ewma":         fn("ewma", ewmaFn),
		"correlation":  fn("correlation", correlationFn),
	}
	d.Freeze()
	return d
}()

type builtinFunc func(args starlark.Tuple) (starlark.Value, error)

func fn(name string, f builtinFunc) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
		}
		v, err := f(args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return v, nil
	})
}

func arity(args starlark.Tuple, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return fmt.Errorf("got %d arguments, want %d", len(args), lo)
		}
		return fmt.Errorf("got %d arguments, want %d to %d", len(args), lo, hi)
	}
	return nil
}

func toFloat(v starlark.Value) (float64, error) {
	f, ok := starlark.AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("got %s, want number", v.Type())
	}
	return f, nil
}

func toFloats(v starlark.Value) ([]float64, error) {
	it, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("got %s, want list or tuple", v.Type())
	}
	iter := it.Iterate()
	defer iter.Done()

	var out []float64
	var x starlark.Value
	for iter.Next(&x) {
		f, err := toFloat(x)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// ---- math ----

func mathModule() *starlarkstruct.Module {
	m := &starlarkstruct.Module{
		Name: "math",
		Members: starlark.StringDict{
			"pi":  starlark.Float(math.Pi),
			"e":   starlark.Float(math.E),
			"tau": starlark.Float(2 * math.Pi),

			"isnan":    fn("isnan", isnanFn),
			"isfinite": fn("isfinite", isfiniteFn),
			"fabs":     fn("fabs", unary(math.Abs)),
			"sqrt":     fn("sqrt", unary(math.Sqrt)),
			"exp":      fn("exp", unary(math.Exp)),
			"log":      fn("log", logFn),
			"floor":    fn("floor", rounding(math.Floor)),
			"ceil":     fn("ceil", rounding(math.Ceil)),
			"pow":      fn("pow", powFn),
		},
	}
	m.Freeze()
	return m
}

// guard maps a non-finite result computed from finite inputs to NaN, the
// way a domain or overflow error would be reported.
func guard(result float64, inputs ...float64) starlark.Value {
	if math.IsInf(result, 0) || math.IsNaN(result) {
		for _, in := range inputs {
			if math.IsInf(in, 0) || math.IsNaN(in) {
				return starlark.Float(result)
			}
		}
		return starlark.Float(math.NaN())
	}
	return starlark.Float(result)
}

func nan() starlark.Value { return starlark.Float(math.NaN()) }

func unary(f func(float64) float64) builtinFunc {
	return func(args starlark.Tuple) (starlark.Value, error) {
		if err := arity(args, 1, 1); err != nil {
			return nil, err
		}
		x, err := toFloat(args[0])
		if err != nil {
			return nan(), nil
		}
		return guard(f(x), x), nil
	}
}

func isnanFn(args starlark.Tuple) (starlark.Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	x, err := toFloat(args[0])
	return starlark.Bool(err != nil || math.IsNaN(x)), nil
}

func isfiniteFn(args starlark.Tuple) (starlark.Value, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	x, err := toFloat(args[0])
	return starlark.Bool(err == nil && !math.IsNaN(x) && !math.IsInf(x, 0)), nil
}

func logFn(args starlark.Tuple) (starlark.Value, error) {
	if err := arity(args, 1, 2); err != nil {
		return nil, err
	}
	x, err := toFloat(args[0])
	if err != nil || x <= 0 {
		return nan(), nil
	}
	if len(args) == 1 || args[1] == starlark.None {
		return guard(math.Log(x), x), nil
	}
	base, err := toFloat(args[1])
	if err != nil || base <= 0 || base == 1 {
		return nan(), nil
	}
	return guard(math.Log(x)/math.Log(base), x, base), nil
}

func powFn(args starlark.Tuple) (starlark.Value, error) {
	if err := arity(args, 2, 2); err != nil {
		return nil, err
	}
	x, errX := toFloat(args[0])
	y, errY := toFloat(args[1])
	if errX != nil || errY != nil {
		return nan(), nil
	}
	return guard(math.Pow(x, y), x, y), nil
}

func rounding(f func(float64) float64) builtinFunc {
	return func(args starlark.Tuple) (starlark.Value, error) {
		if err := arity(args, 1, 1); err != nil {
			return nil, err
		}
		x, err := toFloat(args[0])
		if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
			return starlark.MakeInt(0), nil
		}
		return starlark.MakeInt64(int64(f(x))), nil
	}
}

// ---- builtins missing from core Starlark ----

func sumFn(args starlark.Tuple) (starlark.Value, error) {
	if err := arity(args, 1, 2); err != nil {
		return nil, err
	}
	it, ok := args[0].(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("got %s, want iterable", args[0].Type())
	}
	var acc starlark.Value = starlark.MakeInt(0)
	if len(args) == 2 {
		acc = args[1]
	}
	iter := it.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		v, err := starlark.Binary(syntax.PLUS, acc, x)
		if err != nil {
			return nil, err
		}
		acc = v
	}
	return acc, nil
}

func roundFn(args starlark.Tuple) (starlark.Value, error) {
	if err := arity(args, 1, 2); err != nil {
		return nil, err
	}
	if i, ok := args[0].(starlark.Int); ok && len(args) == 1 {
		return i, nil
	}
	x, err := toFloat(args[0])
	if err != nil {
		return nil, err
	}
	if len(args) == 1 || args[1] == starlark.None {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("cannot convert %v to integer", x)
		}
		return starlark.MakeInt64(int64(math.RoundToEven(x))), nil
	}
	nd, err := starlark.AsInt32(args[1])
	if err != nil {
		return nil, err
	}
	scale := math.Pow(10, float64(nd))
	return starlark.Float(math.RoundToEven(x*scale) / scale), nil
}

// ---- statistics toolkit ----

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var s float64
	for _, x := range xs {
		s += (x - m) * (x - m)
	}
	return s / float64(len(xs)-1)
}

func stdev(xs []float64) float64 { return math.Sqrt(variance(xs)) }

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

func clamp(x, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, x)) }

func seriesFn(f func([]float64) float64) builtinFunc {
	return func(args starlark.Tuple) (starlark.Value, error) {
		if err := arity(args, 1, 1); err != nil {
			return nil, err
		}
		xs, err := toFloats(args[0])
		if err != nil {
			return nil, err
		}
		return starlark.Float(f(xs)), nil
	}
}

func clampFn(args starlark.Tuple) (starlark.Value, error) {
	if err := arity(args, 3, 3); err != nil {
		return nil, err
	}
	var v [3]float64
	for i := range v {
		f, err := toFloat(args[i])
		if err != nil {
			return nil, err
		}
		v[i] = f
	}
	return starlark.Float(clamp(v[0], v[1], v[2])), nil
}

func pctChangeFn(args starlark.Tuple) (starlark.Value, error) {
	if err := arity(args, 2, 2); err != nil {
		return nil, err
	}
	if args[0] == starlark.None || args[1] == starlark.None {
		return starlark.Float(0), nil
	}
	cur, err := toFloat(args[0])
	if err != nil {
		return nil, err
	}
	prev, err := toFloat(args[1])
	if err != nil {
		return nil, err
	}
	if prev == 0 {
		return starlark.Float(0), nil
	}
	return starlark.Float((cur - prev) / prev * 100), nil
}

func zscoreFn(args starlark.Tuple) (starlark.Value, error) {
	if err := arity(args, 2, 2); err != nil {
		return nil, err
	}
	x, err := toFloat(args[0])
	if err != nil {
		return nil, err
	}
	xs, err := toFloats(args[1])
	if err != nil {
		return nil, err
	}
	s := stdev(xs)
	if len(xs) == 0 || s == 0 {
		return starlark.Float(0), nil
	}
	return starlark.Float((x - mean(xs)) / s), nil
}

// rollingFn applies f to the trailing window. Windows at or below minWindow
// and series shorter than the window yield None.
func rollingFn(f func([]float64) float64, minWindow int) builtinFunc {
	return func(args starlark.Tuple) (starlark.Value, error) {
		if err := arity(args, 2, 2); err != nil {
			return nil, err
		}
		xs, err := toFloats(args[0])
		if err != nil {
			return nil, err
		}
		w, err := starlark.AsInt32(args[1])
		if err != nil {
			return nil, err
		}
		if w <= minWindow || len(xs) < w {
			return starlark.None, nil
		}
		return starlark.Float(f(xs[len(xs)-w:])), nil
	}
}

func percentileFn(args starlark.Tuple) (starlark.Value, error) {
	if err := arity(args, 2, 2); err != nil {
		return nil, err
	}
	xs, err := toFloats(args[0])
	if err != nil {
		return nil, err
	}
	p, err := toFloat(args[1])
	if err != nil {
		return nil, err
	}
	if len(xs) == 0 {
		return starlark.Float(0), nil
	}
	sort.Float64s(xs)
	idx := int(math.RoundToEven(float64(len(xs)-1) * clamp(p, 0, 1)))
	idx = int(clamp(float64(idx), 0, float64(len(xs)-1)))
	return starlark.Float(xs[idx]), nil
}

func ewmaFn(args starlark.Tuple) (starlark.Value, error) {
	if err := arity(args, 2, 2); err != nil {
		return nil, err
	}
	xs, err := toFloats(args[0])
	if err != nil {
		return nil, err
	}
	alpha, err := toFloat(args[1])
	if err != nil {
		return nil, err
	}
	if len(xs) == 0 {
		return starlark.Float(0), nil
	}
	a := clamp(alpha, 0, 1)
	out := xs[0]
	for _, x := range xs[1:] {
		out = a*x + (1-a)*out
	}
	return starlark.Float(out), nil
}

func correlationFn(args starlark.Tuple) (starlark.Value, error) {
	if err := arity(args, 2, 2); err != nil {
		return nil, err
	}
	xs, err := toFloats(args[0])
	if err != nil {
		return nil, err
	}
	ys, err := toFloats(args[1])
	if err != nil {
		return nil, err
	}
	if len(xs) != len(ys) || len(xs) < 2 {
		return starlark.Float(0), nil
	}
	mx, my := mean(xs), mean(ys)
	var num float64
	for i := range xs {
		num += (xs[i] - mx) * (ys[i] - my)
	}
	den := float64(len(xs)-1) * stdev(xs) * stdev(ys)
	if den == 0 {
		return starlark.Float(0), nil
	}
	return starlark.Float(num / den), nil
}
