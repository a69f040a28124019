package ledger

import (
	"context"
	"math/rand"
	"time"
)

const (
	retryAttempts     = 3
	defaultRetryDelay = time.Second
	maxRetryDelay     = 5 * time.Second
	retryJitter       = 200 * time.Millisecond
)

// withRetry runs op up to retryAttempts+1 times with exponential backoff and
// a little jitter, stopping early when ctx is cancelled. Used for the initial
// ledger fetch; debounced writes are deliberately never retried here.
func withRetry(ctx context.Context, initialDelay time.Duration, op func() error) error {
	if initialDelay <= 0 {
		initialDelay = defaultRetryDelay
	}

	var lastErr error
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		if lastErr = op(); lastErr == nil {
			return nil
		}
		if attempt == retryAttempts {
			break
		}

		delay := initialDelay << attempt
		delay += time.Duration(rand.Int63n(int64(retryJitter)))
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
