package completion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
)

type RateLimiter struct {
	backoffDuration time.Duration
	maxRetries      int
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		backoffDuration: 1 * time.Second,
		maxRetries:      3,
	}
}

// ExecuteWithBackoff runs operation, retrying rate-limit failures with
// exponential backoff. Other errors are returned at once.
func (r *RateLimiter) ExecuteWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if !r.isRateLimitError(err) {
			return err
		}

		if attempt < r.maxRetries {
			timer := time.NewTimer(r.calculateBackoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (r *RateLimiter) isRateLimitError(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "quota exceeded") ||
		strings.Contains(errStr, "rate limit")
}

func (r *RateLimiter) calculateBackoff(attempt int) time.Duration {
	// 1s, 2s, 4s, ...
	backoff := r.backoffDuration * time.Duration(math.Pow(2, float64(attempt)))

	jitter := time.Duration(float64(backoff) * 0.1)

	return backoff + jitter
}
