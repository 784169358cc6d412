package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff bounds for provider retries.
const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 60 * time.Second
)

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	// MaxRetries is the maximum number of invocations, the first one included.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Notify is called before every wait with the error that caused it.
	Notify func(err error, delay time.Duration)
}

// DefaultPolicy doubles from one second up to a minute.
func DefaultPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries: maxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

// Delay returns the wait before retry number attempt (1-based): BaseDelay doubled per
// attempt, clamped to MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	limit := p.MaxDelay
	if limit < base {
		limit = base
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	return delay
}

// CalculateBackoffTime is the default policy's delay for attempt.
func CalculateBackoffTime(attempt int) time.Duration {
	return DefaultPolicy(0).Delay(attempt)
}

// RetryWithBackoff invokes op until it succeeds, returns an error retryable rejects, or
// policy.MaxRetries invocations have been made. A nil retryable retries every error.
// The last error is returned unchanged on exhaustion.
func RetryWithBackoff[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error), retryable func(error) bool) (T, error) {
	tries := policy.MaxRetries
	if tries < 1 {
		tries = 1
	}

	attempt := func() (T, error) {
		v, err := op(ctx)
		if err != nil && retryable != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(&policyBackOff{policy: policy}),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithMaxElapsedTime(0),
	}
	if policy.Notify != nil {
		opts = append(opts, backoff.WithNotify(policy.Notify))
	}

	v, err := backoff.Retry(ctx, attempt, opts...)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return v, err
}

// policyBackOff adapts a Policy to backoff.BackOff.
type policyBackOff struct {
	policy  Policy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.policy.Delay(b.attempt)
}

func (b *policyBackOff) Reset() { b.attempt = 0 }
