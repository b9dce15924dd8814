package utils

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backoff returns the wait after a failed attempt. attempt is 1-based.
//
// EXPONENTIAL BACKOFF with base = 2s:
//
//	attempt 1 fails → wait 2s
//	attempt 2 fails → wait 4s
//	attempt 3 fails → wait 8s
//
// The shift is capped so a runaway attempt count cannot overflow.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return base * time.Duration(1<<uint(attempt-1))
}

// Retry runs fn up to maxRetries times, waiting Backoff(base, attempt)
// between attempts, and returns the last error once they are used up.
//
// It stops early when:
//   - fn succeeds
//   - retryable reports the error as permanent (nil retries everything)
//   - ctx is done, returning ctx.Err()
//
// WHY BACKOFF? A marketplace that is rate-limiting us only gets angrier if
// we hammer it again straight away.
//
// Usage:
//
//	err := utils.Retry(ctx, 3, time.Second, nil, func() error {
//	    return pool.Ping(ctx)
//	})
func Retry(ctx context.Context, maxRetries int, base time.Duration, retryable func(error) bool, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}

		if attempt < maxRetries {
			wait := Backoff(base, attempt)
			slog.Warn("attempt failed, retrying",
				"attempt", attempt, "max", maxRetries, "wait", wait, "err", lastErr)
			if err := Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", maxRetries, lastErr)
}
