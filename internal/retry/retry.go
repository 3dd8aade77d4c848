package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ErrExhausted is returned when every attempt reported not-ready.
var ErrExhausted = errors.New("retry: attempts exhausted")

var errNotReady = errors.New("not ready")

// Policy bounds a poll loop: at most MaxAttempts calls with a fixed Interval
// between consecutive calls.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
}

// Poll calls fn until it reports done, returns an error, or the policy is
// exhausted. A nil error with done=false means "try again".
func Poll[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, bool, error)) (T, error) {
	var (
		zero   T
		result T
	)
	if policy.MaxAttempts <= 0 {
		return zero, fmt.Errorf("retry: max attempts must be positive")
	}
	interval := policy.Interval
	if interval <= 0 {
		interval = time.Nanosecond
	}
	backoff := goretry.WithMaxRetries(uint64(policy.MaxAttempts-1), goretry.NewConstant(interval))

	attempts := 0
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		value, done, err := fn(ctx)
		if err != nil {
			return err
		}
		if !done {
			return goretry.RetryableError(errNotReady)
		}
		result = value
		return nil
	})
	if err != nil {
		if errors.Is(err, errNotReady) {
			return zero, fmt.Errorf("%w after %d attempts", ErrExhausted, attempts)
		}
		return zero, err
	}
	return result, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
