package generic

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// =============================================================================
// RETRY - Bounded exponential backoff for transient failures
// =============================================================================

// RetryPolicy bounds how hard an operation is retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries a handful of times within about a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 25 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

// NoRetry runs an operation exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0 // attempts are bounded below, the deadline by ctx
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Retry runs op until it succeeds, fails with a non-retryable error, the
// policy's attempts are used up, or ctx is done. Exhausted transient
// failures come back as *UnavailableError; everything else is returned as-is.
func Retry(ctx context.Context, policy RetryPolicy, opName string, log *zap.Logger, op func() error) error {
	if log == nil {
		log = zap.NewNop()
	}

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op()
		if err == nil || IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy.backOff(ctx), func(err error, wait time.Duration) {
		log.Warn("retrying after transient failure",
			zap.String("op", opName),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	})

	if err != nil && IsRetryable(err) {
		return &UnavailableError{Op: opName, Attempts: attempts, Err: err}
	}
	return err
}
