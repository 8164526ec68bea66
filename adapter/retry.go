package adapter

import (
	"context"
	"fmt"
	"time"
)

// RetryBaseDelay is the wait before the first retry. Each later retry doubles it.
var RetryBaseDelay = 500 * time.Millisecond

// Permanent marks an error that must not be retried.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early on success, on a *Permanent error, or when ctx ends.
// name prefixes returned errors.
func Retry(ctx context.Context, name string, retries int, fn func(ctx context.Context) error) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		// No backoff before the first attempt
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * RetryBaseDelay
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if perm, ok := lastErr.(*Permanent); ok {
			return fmt.Errorf("%s: non-retriable error: %w", name, perm.Err)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
