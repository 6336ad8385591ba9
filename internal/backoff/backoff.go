// Package backoff provides retry with exponential backoff and retryable-error
// classification for calls to the external authorization service.
package backoff

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"net"
	"time"

	apperrors "cae-dispatcher/internal/common/errors"
)

// Config holds configuration for retry operations with exponential backoff.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries (caps exponential growth)
	MaxDelay time.Duration

	// Factor is the multiplier for exponential backoff (e.g. 2.0 doubles delay)
	Factor float64

	// JitterFactor adds randomness to delays (0.0-1.0, only ever added)
	JitterFactor float64
}

// DefaultConfig returns a sensible default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		JitterFactor: 0.3,
	}
}

// IsRetryable reports whether another attempt could plausibly succeed.
//
// Network resets, timeouts, DNS failures, HTTP 429 and HTTP 5xx are
// retryable. Validation rejections and other 4xx responses are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch apperrors.GetType(err) {
	case apperrors.ErrTypeTimeout, apperrors.ErrTypeConnection, apperrors.ErrTypeRateLimit:
		return true
	case apperrors.ErrTypeValidation, apperrors.ErrTypeConfig, apperrors.ErrTypeCancelled:
		return false
	case apperrors.ErrTypeService:
		status := apperrors.HTTPStatusOf(err)
		return status == 429 || status >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return false
}

// Delay computes the backoff delay for the given attempt (0-based).
//
// delay = InitialDelay * Factor^attempt, capped at MaxDelay, with up to
// JitterFactor of additive random jitter. Jitter is never subtracted, so
// the computed base delay is a lower bound.
func Delay(attempt int, config Config) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.Factor, float64(attempt)))
	if delay > config.MaxDelay || delay <= 0 {
		delay = config.MaxDelay
	}

	if config.JitterFactor > 0 {
		jitterCap := int64(float64(delay) * config.JitterFactor)
		delay += time.Duration(randomInt64n(jitterCap))
	}

	return delay
}

// Retry executes fn with exponential backoff.
//
// A terminal (non-retryable) error or retry exhaustion returns the last
// error unchanged. Context cancellation aborts the wait between attempts.
func Retry(ctx context.Context, config Config, fn func() error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err

			if !IsRetryable(err) {
				return err
			}
			if attempt >= config.MaxRetries {
				return lastErr
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Delay(attempt, config)):
		}
	}
}

// randomInt64n returns a random int64 in [0, n), 0 when n <= 0.
// Uses crypto/rand with a time-based fallback.
func randomInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}

	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return time.Now().UnixNano() % n
	}

	val := int64(bytes[0])<<56 | int64(bytes[1])<<48 | int64(bytes[2])<<40 | int64(bytes[3])<<32 |
		int64(bytes[4])<<24 | int64(bytes[5])<<16 | int64(bytes[6])<<8 | int64(bytes[7])

	if val < 0 {
		val = -val
	}

	return val % n
}
