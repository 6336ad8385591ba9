package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisWindow(t *testing.T, maxRequests int, window time.Duration) (*RedisWindow, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rw, err := NewRedisWindow(rdb, Config{
		MaxRequests: maxRequests,
		Window:      window,
	}, nil)
	require.NoError(t, err)

	return rw, mr
}

func TestRedisWindowCapacity(t *testing.T) {
	rw, _ := setupRedisWindow(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		acq := rw.TryAcquire(ctx, "tenant-a")
		assert.True(t, acq.Acquired, "acquisition %d should succeed", i)
	}

	acq := rw.TryAcquire(ctx, "tenant-a")
	assert.False(t, acq.Acquired)
	assert.Greater(t, acq.Wait, time.Duration(0))

	// The denied attempt must not linger in the window
	state := rw.State(ctx, "tenant-a")
	assert.Equal(t, 3, state.CurrentCount)
	assert.True(t, state.Limited)
}

func TestRedisWindowScopeIndependence(t *testing.T) {
	rw, _ := setupRedisWindow(t, 1, time.Minute)
	ctx := context.Background()

	require.True(t, rw.TryAcquire(ctx, "tenant-a").Acquired)
	require.False(t, rw.TryAcquire(ctx, "tenant-a").Acquired)

	assert.True(t, rw.TryAcquire(ctx, "tenant-b").Acquired)
}

func TestRedisWindowReset(t *testing.T) {
	rw, _ := setupRedisWindow(t, 1, time.Minute)
	ctx := context.Background()

	require.True(t, rw.TryAcquire(ctx, "tenant-a").Acquired)
	require.False(t, rw.CanProceed(ctx, "tenant-a"))

	rw.Reset(ctx, "tenant-a")
	assert.True(t, rw.CanProceed(ctx, "tenant-a"))
}

func TestRedisWindowFailsOpen(t *testing.T) {
	rw, mr := setupRedisWindow(t, 1, time.Minute)
	ctx := context.Background()

	mr.Close()

	// A broken Redis must not block dispatch
	assert.True(t, rw.TryAcquire(ctx, "tenant-a").Acquired)
	assert.True(t, rw.CanProceed(ctx, "tenant-a"))
	assert.Error(t, rw.Health(ctx))
}

func TestRedisWindowHealth(t *testing.T) {
	rw, _ := setupRedisWindow(t, 1, time.Minute)
	assert.NoError(t, rw.Health(context.Background()))
}
