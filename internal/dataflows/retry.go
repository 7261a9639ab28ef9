package dataflows

import (
	"context"
	"fmt"
	"time"
)

const (
	retryAttempts  = 3
	retryBaseDelay = time.Second
	retryMaxDelay  = 30 * time.Second
)

// withRetry runs fn with exponential backoff. Used for providers that do
// not route through resty's built-in retry middleware.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := retryBaseDelay
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("retries exhausted: %w", lastErr)
}
