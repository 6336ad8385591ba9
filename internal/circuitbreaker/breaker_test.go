package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errCall = errors.New("authorization call failed")

func newTestBreaker(t *testing.T, config Config) (*Breaker, *time.Time) {
	t.Helper()

	b, err := New(config, nil)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func defaultTestConfig() Config {
	return Config{
		FailureThreshold: 3,
		OpenDuration:     time.Minute,
		HalfOpenRequests: 2,
		SuccessThreshold: 2,
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, defaultTestConfig())

	for i := 0; i < 2; i++ {
		b.RecordFailure("tenant-a", errCall)
		assert.True(t, b.CanRequest("tenant-a"), "still closed after %d failures", i+1)
	}

	b.RecordFailure("tenant-a", errCall)
	assert.False(t, b.CanRequest("tenant-a"))
	assert.Equal(t, StateOpen, b.CurrentState("tenant-a"))
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t, defaultTestConfig())

	b.RecordFailure("tenant-a", errCall)
	b.RecordFailure("tenant-a", errCall)
	b.RecordSuccess("tenant-a")

	// Two more failures do not reach the threshold of three consecutive
	b.RecordFailure("tenant-a", errCall)
	b.RecordFailure("tenant-a", errCall)
	assert.Equal(t, StateClosed, b.CurrentState("tenant-a"))
}

func TestBreakerRecoveryTiming(t *testing.T) {
	b, now := newTestBreaker(t, defaultTestConfig())

	for i := 0; i < 3; i++ {
		b.RecordFailure("tenant-a", errCall)
	}
	require.Equal(t, StateOpen, b.CurrentState("tenant-a"))

	*now = now.Add(59 * time.Second)
	assert.False(t, b.CanRequest("tenant-a"))

	*now = now.Add(time.Second)
	assert.True(t, b.CanRequest("tenant-a"))
	assert.Equal(t, StateHalfOpen, b.CurrentState("tenant-a"))
}

func TestBreakerHalfOpenProbeCap(t *testing.T) {
	b, now := newTestBreaker(t, defaultTestConfig())

	for i := 0; i < 3; i++ {
		b.RecordFailure("tenant-a", errCall)
	}
	*now = now.Add(time.Minute)

	// HalfOpenRequests=2 probes admitted, the rest denied
	assert.True(t, b.CanRequest("tenant-a"))
	assert.True(t, b.CanRequest("tenant-a"))
	assert.False(t, b.CanRequest("tenant-a"))
	assert.False(t, b.CanRequest("tenant-a"))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t, defaultTestConfig())

	for i := 0; i < 3; i++ {
		b.RecordFailure("tenant-a", errCall)
	}
	*now = now.Add(time.Minute)
	require.True(t, b.CanRequest("tenant-a"))

	b.RecordFailure("tenant-a", errCall)
	assert.Equal(t, StateOpen, b.CurrentState("tenant-a"))

	status := b.Status("tenant-a")
	require.NotNil(t, status.OpenedAt)
	assert.Equal(t, *now, *status.OpenedAt)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(t, defaultTestConfig())

	for i := 0; i < 3; i++ {
		b.RecordFailure("tenant-a", errCall)
	}
	*now = now.Add(time.Minute)

	require.True(t, b.CanRequest("tenant-a"))
	b.RecordSuccess("tenant-a")
	assert.Equal(t, StateHalfOpen, b.CurrentState("tenant-a"))

	require.True(t, b.CanRequest("tenant-a"))
	b.RecordSuccess("tenant-a")
	assert.Equal(t, StateClosed, b.CurrentState("tenant-a"))

	// Counters were reset on the transition
	status := b.Status("tenant-a")
	assert.Equal(t, 0, status.Failures)
	assert.Equal(t, 0, status.Successes)
	assert.Nil(t, status.OpenedAt)
}

func TestBreakerFailureWhileOpenIsNoOp(t *testing.T) {
	b, _ := newTestBreaker(t, defaultTestConfig())

	for i := 0; i < 3; i++ {
		b.RecordFailure("tenant-a", errCall)
	}
	openedStatus := b.Status("tenant-a")
	require.NotNil(t, openedStatus.OpenedAt)

	b.RecordFailure("tenant-a", errCall)
	status := b.Status("tenant-a")
	assert.Equal(t, 0, status.Failures)
	assert.Equal(t, *openedStatus.OpenedAt, *status.OpenedAt)
}

func TestBreakerStatusNextRetryAt(t *testing.T) {
	b, now := newTestBreaker(t, defaultTestConfig())

	for i := 0; i < 3; i++ {
		b.RecordFailure("tenant-a", errCall)
	}

	status := b.Status("tenant-a")
	require.NotNil(t, status.NextRetryAt)
	assert.Equal(t, now.Add(time.Minute), *status.NextRetryAt)
	require.NotNil(t, status.LastFailure)
	assert.Nil(t, status.LastSuccess)
}

func TestBreakerForceState(t *testing.T) {
	b, _ := newTestBreaker(t, defaultTestConfig())

	b.ForceState("tenant-a", StateOpen)
	assert.False(t, b.CanRequest("tenant-a"))

	b.ForceState("tenant-a", StateClosed)
	assert.True(t, b.CanRequest("tenant-a"))
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(t, defaultTestConfig())

	for i := 0; i < 3; i++ {
		b.RecordFailure("tenant-a", errCall)
	}
	require.False(t, b.CanRequest("tenant-a"))

	b.Reset("tenant-a")
	assert.True(t, b.CanRequest("tenant-a"))
	assert.Equal(t, StateClosed, b.CurrentState("tenant-a"))
}

func TestBreakerScopeIndependence(t *testing.T) {
	b, _ := newTestBreaker(t, defaultTestConfig())

	for i := 0; i < 3; i++ {
		b.RecordFailure("tenant-a", errCall)
	}

	assert.False(t, b.CanRequest("tenant-a"))
	assert.True(t, b.CanRequest("tenant-b"))
}

func TestParseState(t *testing.T) {
	state, err := ParseState("half-open")
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, state)

	_, err = ParseState("ajar")
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.FailureThreshold = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.OpenDuration = 0
	assert.Error(t, bad.Validate())
}
