package util

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often and how patiently a failing operation is
// attempted again. MaxAttempts counts the first call.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy allows three attempts with exponential backoff starting
// at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
	}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	return b
}

// RetryOptions customise RetryWithPolicy. Retryable decides whether an error
// is worth another attempt; nil retries everything except context errors.
// OnRetry is called before each wait.
type RetryOptions struct {
	Retryable func(error) bool
	OnRetry   func(attempt int, err error, wait time.Duration)
}

// RetryWithPolicy calls fn until it succeeds, returns a non-retryable error,
// the policy runs out of attempts or ctx is done. The last error is returned.
func RetryWithPolicy[T any](
	ctx context.Context,
	policy RetryPolicy,
	opts RetryOptions,
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	attempt := 0
	op := func() (T, error) {
		attempt++
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		// A deadline from fn's own backend is left to Retryable.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return res, backoff.Permanent(err)
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if opts.OnRetry != nil {
				opts.OnRetry(attempt, err, wait)
			}
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return res, err
}

// RetryErrWithPolicy is RetryWithPolicy for operations without a result.
func RetryErrWithPolicy(
	ctx context.Context,
	policy RetryPolicy,
	opts RetryOptions,
	fn func(context.Context) error,
) error {
	_, err := RetryWithPolicy(ctx, policy, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
