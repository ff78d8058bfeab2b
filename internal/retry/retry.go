// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"time"
)

// DefaultBase is the delay before the second attempt.
const DefaultBase = 500 * time.Millisecond

// Policy controls how often and how patiently Do retries.
type Policy struct {
	Attempts int
	Base     time.Duration
	// Retry decides whether err is worth another attempt. Nil retries
	// every error.
	Retry func(err error) bool
}

// Do calls fn until it succeeds, the policy gives up or ctx is done.
// Delays double after every attempt: 500ms, 1s, 2s, 4s...
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}

	var lastErr error
	for i := range attempts {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if p.Retry != nil && !p.Retry(err) {
			break
		}
		if i < attempts-1 {
			delay := time.Duration(1<<i) * base
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}
