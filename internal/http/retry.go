package http

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds how often an operation is attempted and how long to wait
// between attempts.
type RetryPolicy struct {
	// Attempts is the total number of attempts, including the first one.
	Attempts int

	// Backoff is the delay before the second attempt.
	Backoff time.Duration

	// MaxBackoff caps the delay. When it is not greater than Backoff the delay
	// stays fixed; otherwise it doubles per attempt up to MaxBackoff.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns three attempts with a fixed five second delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Backoff:  5 * time.Second,
	}
}

// ErrRetriesExhausted wraps the last error once every attempt has failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err must not be retried. Status errors are
// always permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	var se *StatusError
	return errors.As(err, &pe) || errors.As(err, &se)
}

// Do runs op until it succeeds, returns a permanent error, or the attempt
// budget is spent. attempt starts at 1. Cancellation of ctx is observed
// between attempts only; an attempt that has started runs to completion.
func (p RetryPolicy) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := p.wait(ctx, attempt); err != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

// Delay returns the wait before the given attempt (attempt >= 2).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 2 || p.Backoff <= 0 {
		return 0
	}
	if p.MaxBackoff <= p.Backoff {
		return p.Backoff
	}
	d := p.Backoff
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
