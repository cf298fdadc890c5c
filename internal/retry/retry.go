// Package retry provides a small retry-with-backoff helper shared by the
// HTTP fetcher and the mirror engine's per-entry executor.
package retry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Policy describes a retry/backoff schedule.
type Policy struct {
	// Tries is the total number of attempts, including the first one.
	Tries int
	// Delay is the wait before the second attempt.
	Delay time.Duration
	// Backoff multiplies Delay after every failed attempt.
	Backoff float64
}

// Do runs op, retrying according to policy until it succeeds, the context is
// cancelled, or attempts are exhausted. The last error is returned wrapped
// with the attempt count.
func Do(ctx context.Context, policy Policy, op func() error) error {
	delay := policy.Delay
	var lastErr error

	for attempt := 1; attempt <= policy.Tries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if attempt == policy.Tries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * policy.Backoff)
	}

	return errors.Wrapf(lastErr, "failed after %d attempts", policy.Tries)
}
