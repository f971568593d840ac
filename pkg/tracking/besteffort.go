package tracking

import (
	"fmt"
	"log/slog"
)

// Result is the outcome of a best-effort operation. Telemetry never
// propagates failures to the host page, so callers resolve it with Logged.
type Result[T any] struct {
	Value T
	Err   error
}

// Attempt runs fn, converting a panic inside a host-provided store into an
// error.
func Attempt[T any](fn func() (T, error)) (r Result[T]) {
	defer func() {
		if p := recover(); p != nil {
			r = Result[T]{Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	v, err := fn()
	return Result[T]{Value: v, Err: err}
}

// AttemptDo is Attempt for operations without a value.
func AttemptDo(fn func() error) Result[struct{}] {
	return Attempt(func() (struct{}, error) {
		return struct{}{}, fn()
	})
}

// Logged returns the value, or reports the failure on logger and returns
// fallback.
func (r Result[T]) Logged(logger *slog.Logger, op string, fallback T, attrs ...any) T {
	if r.Err == nil {
		return r.Value
	}
	logger.Error("tracking: "+op+" failed", append(attrs, "error", r.Err)...)
	return fallback
}
