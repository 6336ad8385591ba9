package backoff

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "cae-dispatcher/internal/common/errors"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"timeout", apperrors.TimeoutError("authorization call"), true},
		{"connection", apperrors.ConnectionError("reset by peer", nil), true},
		{"rate limit", apperrors.RateLimitError("tenant-a"), true},
		{"http 429", apperrors.ServiceError("too many requests", 429), true},
		{"http 500", apperrors.ServiceError("internal error", 500), true},
		{"http 503", apperrors.ServiceError("unavailable", 503), true},
		{"http 400", apperrors.ServiceError("bad request", 400), false},
		{"http 403", apperrors.ServiceError("forbidden", 403), false},
		{"validation", apperrors.ValidationError("invalid invoice"), false},
		{"config", apperrors.ConfigError("missing credentials"), false},
		{"cancelled", apperrors.CancelledError("job cancelled"), false},
		{"deadline", context.DeadlineExceeded, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "wsfe.example"}, true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestDelayGrowsExponentially(t *testing.T) {
	config := Config{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Factor:       2.0,
		JitterFactor: 0,
	}

	assert.Equal(t, time.Second, Delay(0, config))
	assert.Equal(t, 2*time.Second, Delay(1, config))
	assert.Equal(t, 4*time.Second, Delay(2, config))
	assert.Equal(t, 8*time.Second, Delay(3, config))
}

func TestDelayCappedAtMax(t *testing.T) {
	config := Config{
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Factor:       2.0,
		JitterFactor: 0,
	}

	assert.Equal(t, 5*time.Second, Delay(10, config))
}

func TestDelayJitterOnlyAdds(t *testing.T) {
	config := Config{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Factor:       2.0,
		JitterFactor: 0.3,
	}

	for i := 0; i < 50; i++ {
		d := Delay(2, config)
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.Less(t, d, 4*time.Second+1200*time.Millisecond+time.Millisecond)
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	config := Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
	}

	attempts := 0
	err := Retry(context.Background(), config, func() error {
		attempts++
		if attempts < 3 {
			return apperrors.TimeoutError("authorization call")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnTerminalError(t *testing.T) {
	config := Config{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
	}

	terminal := apperrors.ValidationError("invalid invoice")
	attempts := 0
	err := Retry(context.Background(), config, func() error {
		attempts++
		return terminal
	})

	assert.Equal(t, 1, attempts)
	// The terminal error comes back unchanged
	assert.Same(t, terminal, err)
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	config := Config{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
	}

	last := apperrors.ServiceError("unavailable", 503)
	attempts := 0
	err := Retry(context.Background(), config, func() error {
		attempts++
		return last
	})

	assert.Equal(t, 3, attempts)
	assert.Same(t, last, err)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	config := Config{
		MaxRetries:   10,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		Factor:       2.0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, config, func() error {
		return apperrors.TimeoutError("authorization call")
	})

	assert.ErrorIs(t, err, context.Canceled)
}
