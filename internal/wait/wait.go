package wait

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a condition never produced a value within its bound.
var ErrTimeout = errors.New("wait timed out")

const DefaultInterval = 500 * time.Millisecond

// Condition is polled until it reports ok. A non-nil error aborts the wait.
// Conditions that only mean "not yet" should return ok=false and a nil error.
type Condition[T any] func(ctx context.Context) (value T, ok bool, err error)

// Until polls cond every interval until it yields a value, the timeout
// elapses or ctx is cancelled. The condition is always evaluated at least once.
func Until[T any](ctx context.Context, timeout, interval time.Duration, cond Condition[T]) (T, error) {
	var zero T
	if interval <= 0 {
		interval = DefaultInterval
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		value, ok, err := cond(ctx)
		if err != nil {
			return zero, err
		}
		if ok {
			return value, nil
		}

		if !time.Now().Before(deadline) {
			return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-ticker.C:
		}
	}
}
