package analysis

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// HTTPError is a non-2xx response from the inference service.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("analysis service HTTP %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth retrying (rate limit or
// transient server error).
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// RetryConfig bounds the retry loop around one logical request.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig retries twice with exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	}
}

// retryDo runs fn, retrying retryable HTTP errors with backoff. A
// Retry-After hint from the server overrides the computed delay.
func retryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		httpErr, ok := err.(*HTTPError)
		if !ok || !httpErr.Retryable() || attempt >= cfg.MaxRetries {
			return zero, err
		}

		delay := cfg.BaseDelay << attempt
		if httpErr.RetryAfter > 0 {
			delay = httpErr.RetryAfter
		}
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("retry aborted: %w (last: %v)", ctx.Err(), lastErr)
		case <-time.After(delay):
		}
	}
}

// parseRetryAfter reads a Retry-After header value in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
