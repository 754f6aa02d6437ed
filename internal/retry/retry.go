// Package retry runs an operation under a bounded exponential backoff.
// Errors that apperr does not consider retryable stop the loop at once.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/markdave123-py/ragready/internal/apperr"
)

type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second}
}

// Notify is called before each wait with the error of the failed attempt.
type Notify func(attempt int, err error, wait time.Duration)

// Do calls op until it succeeds, returns a non-retryable error, or the
// attempts run out. The last error is returned unwrapped.
func Do[T any](ctx context.Context, p Policy, notify Notify, op func(ctx context.Context) (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		eb.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		eb.MaxInterval = p.MaxBackoff
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	opts := []backoff.RetryOption{
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, d time.Duration) {
			notify(attempt, err, d)
		}))
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && !apperr.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return res, err
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, notify Notify, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, notify, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
