package sandbox

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// ValidationError rejects strategy source before any of it runs.
type ValidationError struct {
	Line int
	Msg  string
	Err  error // underlying cause, such as domain.ConfigErrors
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InvalidSignalError reports a generate_signal result outside the accepted
// vocabulary.
type InvalidSignalError struct {
	Value string
}

func (e *InvalidSignalError) Error() string {
	return fmt.Sprintf("generate_signal must return one of BUY, CLOSE, HOLD, LONG, SELL, SHORT (got %s)", e.Value)
}

// StrategyFault is a runtime failure inside one generate_signal call.
// Callers degrade it to HOLD unless strict mode is on.
type StrategyFault struct {
	Kind string
	Err  error
}

func (e *StrategyFault) Error() string {
	return fmt.Sprintf("strategy_error:%s:%s", e.Kind, firstLine(e.Err.Error()))
}

func (e *StrategyFault) Unwrap() error { return e.Err }

// Is matches domain.ErrStrategyFault so callers outside this package can
// recognise faults without importing it.
func (e *StrategyFault) Is(target error) bool { return target == domain.ErrStrategyFault }

// faultKind buckets a VM error message into a stable name.
func faultKind(msg string) string {
	switch {
	case strings.Contains(msg, "division by zero"), strings.Contains(msg, "modulo by zero"):
		return "ZeroDivisionError"
	case strings.Contains(msg, "not in dict"), strings.Contains(msg, "key "):
		return "KeyError"
	case strings.Contains(msg, "out of range"):
		return "IndexError"
	case strings.Contains(msg, "too many steps"):
		return "StepLimitExceeded"
	case strings.Contains(msg, "cancelled"):
		return "Cancelled"
	case strings.Contains(msg, "unsupported"), strings.Contains(msg, "not supported"), strings.Contains(msg, "got "):
		return "TypeError"
	case strings.Contains(msg, "invalid"):
		return "ValueError"
	default:
		return "EvalError"
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
