package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error-returning callback to fsm.Callback by storing the
// error on the event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// IsRealError reports whether err from FSM.Event is a genuine failure rather
// than a guard cancellation or a self transition.
func IsRealError(err error) bool {
	if err == nil {
		return false
	}

	var noTransition fsm.NoTransitionError
	var canceled fsm.CanceledError

	if errors.As(err, &noTransition) || errors.As(err, &canceled) {
		return false
	}

	return true
}

// Arg returns event argument i as T, or the zero value when it is missing or
// of another type.
func Arg[T any](e *fsm.Event, i int) T {
	var zero T
	if i < 0 || i >= len(e.Args) {
		return zero
	}
	v, ok := e.Args[i].(T)
	if !ok {
		return zero
	}
	return v
}
