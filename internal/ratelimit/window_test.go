package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWindow(t *testing.T, maxRequests, burst int, window time.Duration) (*SlidingWindow, *time.Time) {
	t.Helper()

	w, err := NewSlidingWindow(Config{
		MaxRequests:    maxRequests,
		Window:         window,
		BurstAllowance: burst,
	})
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	return w, &now
}

func TestSlidingWindowCapacity(t *testing.T) {
	w, _ := newTestWindow(t, 3, 2, time.Minute)
	ctx := context.Background()

	// Exactly MaxRequests + BurstAllowance admissions succeed
	for i := 0; i < 5; i++ {
		acq := w.TryAcquire(ctx, "tenant-a")
		assert.True(t, acq.Acquired, "acquisition %d should succeed", i)
	}

	acq := w.TryAcquire(ctx, "tenant-a")
	assert.False(t, acq.Acquired)
	assert.Greater(t, acq.Wait, time.Duration(0))
}

func TestSlidingWindowCountMatchesRecords(t *testing.T) {
	w, now := newTestWindow(t, 10, 0, time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		w.Record(ctx, "tenant-a")
		*now = now.Add(10 * time.Second)
	}

	state := w.State(ctx, "tenant-a")
	assert.Equal(t, 4, state.CurrentCount)
	assert.Equal(t, 6, state.Remaining)
	assert.False(t, state.Limited)
}

func TestSlidingWindowPurgesExpired(t *testing.T) {
	w, now := newTestWindow(t, 3, 0, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, w.TryAcquire(ctx, "tenant-a").Acquired)
	}
	require.False(t, w.TryAcquire(ctx, "tenant-a").Acquired)

	// Advance past the window; old stamps must no longer count
	*now = now.Add(61 * time.Second)

	state := w.State(ctx, "tenant-a")
	assert.Equal(t, 0, state.CurrentCount)
	assert.True(t, w.TryAcquire(ctx, "tenant-a").Acquired)
}

func TestSlidingWindowPartialRoll(t *testing.T) {
	w, now := newTestWindow(t, 2, 0, time.Minute)
	ctx := context.Background()

	require.True(t, w.TryAcquire(ctx, "tenant-a").Acquired)
	*now = now.Add(30 * time.Second)
	require.True(t, w.TryAcquire(ctx, "tenant-a").Acquired)
	require.False(t, w.TryAcquire(ctx, "tenant-a").Acquired)

	// First stamp rolls out, second remains
	*now = now.Add(31 * time.Second)
	assert.Equal(t, 1, w.State(ctx, "tenant-a").CurrentCount)
	assert.True(t, w.TryAcquire(ctx, "tenant-a").Acquired)
	assert.False(t, w.TryAcquire(ctx, "tenant-a").Acquired)
}

func TestSlidingWindowDenialWait(t *testing.T) {
	w, now := newTestWindow(t, 1, 0, time.Minute)
	ctx := context.Background()

	require.True(t, w.TryAcquire(ctx, "tenant-a").Acquired)
	*now = now.Add(20 * time.Second)

	acq := w.TryAcquire(ctx, "tenant-a")
	require.False(t, acq.Acquired)
	// 40s until the oldest stamp expires, plus the fixed buffer
	assert.Equal(t, 40*time.Second+denialBuffer, acq.Wait)
}

func TestSlidingWindowScopeIndependence(t *testing.T) {
	w, _ := newTestWindow(t, 1, 0, time.Minute)
	ctx := context.Background()

	require.True(t, w.TryAcquire(ctx, "tenant-a").Acquired)
	require.False(t, w.TryAcquire(ctx, "tenant-a").Acquired)

	assert.True(t, w.TryAcquire(ctx, "tenant-b").Acquired)
}

func TestSlidingWindowReset(t *testing.T) {
	w, _ := newTestWindow(t, 1, 0, time.Minute)
	ctx := context.Background()

	require.True(t, w.TryAcquire(ctx, "tenant-a").Acquired)
	require.False(t, w.CanProceed(ctx, "tenant-a"))

	w.Reset(ctx, "tenant-a")
	assert.True(t, w.CanProceed(ctx, "tenant-a"))
}

func TestSlidingWindowSweep(t *testing.T) {
	w, now := newTestWindow(t, 5, 0, time.Minute)
	ctx := context.Background()

	w.Record(ctx, "tenant-a")
	w.Record(ctx, "tenant-b")
	require.Equal(t, 2, w.ActiveScopes())

	*now = now.Add(2 * time.Minute)
	w.Record(ctx, "tenant-b")

	removed := w.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, w.ActiveScopes())
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{MaxRequests: 0, Window: time.Minute}
	assert.Error(t, cfg.Validate())

	cfg = Config{MaxRequests: 10, Window: 0}
	assert.Error(t, cfg.Validate())

	cfg = Config{MaxRequests: 10, Window: time.Minute, BurstAllowance: -1}
	assert.Error(t, cfg.Validate())

	cfg = Config{MaxRequests: 10, Window: time.Minute, Backend: "memcached"}
	assert.Error(t, cfg.Validate())

	cfg = Config{MaxRequests: 10, Window: time.Minute}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendLocal, cfg.Backend)
	assert.Equal(t, 10000, cfg.MaxScopes)

	cfg = Config{MaxRequests: 10, Window: time.Minute, Backend: BackendRedis}
	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.KeyPrefix)

	cfg = Config{MaxRequests: 10, Window: time.Minute, BurstAllowance: 5}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15, cfg.capacity())
}
