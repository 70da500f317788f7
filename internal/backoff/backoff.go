// Package backoff provides bounded retry with exponential backoff and jitter
// for calls against remote collaborators (embedding backend, object store).
package backoff

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// maxDelay caps the computed backoff regardless of attempt count.
const maxDelay = 30 * time.Second

// permanentError marks an error as not retryable.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do stops retrying and returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Delay returns the exponential backoff for the given attempt (1-based),
// with random jitter from -25% to +25%.
func Delay(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// Cap attempt to avoid overflow in the shift.
	if attempt > 30 {
		attempt = 30
	}
	d := base * time.Duration(1<<uint(attempt))
	if d > maxDelay {
		d = maxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2)) - d/4
	return d + jitter
}

// Do runs fn up to attempts times, sleeping Delay(base, n) between tries.
// It stops early on success, on a Permanent error, or when ctx is done.
//
// The returned error is the last error observed (unwrapped from Permanent).
func Do(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(Delay(base, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
