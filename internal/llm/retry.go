package llm

import (
	"context"
	"errors"
	"time"
)

// Policy bounds how a stage calls a Capability.
type Policy struct {
	// Attempts is the total number of tries, including the first. Values
	// below 1 are treated as 1.
	Attempts int
	// Backoff is the delay before the second attempt; it doubles after each
	// further failure.
	Backoff time.Duration
	// Timeout bounds each individual attempt. Zero means no per-call limit.
	Timeout time.Duration
}

// Retry runs fn until it succeeds, the attempts are used up or ctx is done.
// Each attempt gets its own context bounded by p.Timeout. The last error is
// returned; when ctx itself ends, ctx.Err() is returned instead.
func Retry[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := p.Backoff
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := attempt(ctx, p.Timeout, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if i == attempts-1 || delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return zero, lastErr
}

func attempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

// IsCancelled reports whether err is a context cancellation rather than a
// deadline or capability failure.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
