package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/jtlresearchit/leaf/pkg/errors"
)

// CallWithTimeout runs fn under a deadline derived from ctx and returns its
// value. Running out of time yields an error wrapping both ErrTimeout and
// context.DeadlineExceeded; fn keeps running in the background until it
// observes its context.
func CallWithTimeout[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(timeoutCtx)
		done <- outcome{v, err}
	}()

	var zero T
	select {
	case o := <-done:
		if o.err != nil && timeoutCtx.Err() != nil && ctx.Err() == nil {
			return zero, fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, o.err)
		}
		return o.value, o.err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
		}
		return zero, fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, context.DeadlineExceeded)
	}
}
