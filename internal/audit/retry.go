package audit

import (
	"context"
	"errors"
	"time"
)

const maxRetryDelay = 250 * time.Millisecond

// retryOn runs op up to attempts times while it fails with target, sleeping
// with exponential backoff between attempts. Other errors return immediately.
func retryOn(ctx context.Context, target error, attempts int, delay time.Duration, op func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil || !errors.Is(lastErr, target) {
			return lastErr
		}

		if attempt < attempts && delay > 0 {
			wait := delay << (attempt - 1)
			if wait > maxRetryDelay {
				wait = maxRetryDelay
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}
