// Package retry provides a bounded, fixed-interval poll used to wait for
// bridge endpoints that come up some time after their process starts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Poll retries an operation every Interval, at most MaxAttempts times.
type Poll struct {
	Interval    time.Duration
	MaxAttempts int
}

// Run starts polling in its own goroutine and returns immediately.
// op is called with the 1-based attempt number until it returns nil.
// onGiveUp is called once with the last error when attempts run out; it is
// not called if ctx is cancelled first.
func (p Poll) Run(ctx context.Context, op func(attempt int) error, onGiveUp func(err error)) {
	go func() {
		if err := p.Do(ctx, op); err != nil && ctx.Err() == nil && onGiveUp != nil {
			onGiveUp(err)
		}
	}()
}

// Do polls synchronously and returns nil on success, the last operation
// error once attempts are exhausted, or ctx's error if cancelled.
func (p Poll) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Interval)
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	var lastErr error
	err := backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempt++
		lastErr = op(attempt)
		return lastErr
	}, b)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
