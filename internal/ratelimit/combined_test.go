package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCombined(t *testing.T, globalMax, tenantMax int) *Combined {
	t.Helper()

	c, err := NewCombinedLocal(
		Config{MaxRequests: globalMax, Window: time.Minute},
		Config{MaxRequests: tenantMax, Window: time.Minute},
		nil,
	)
	require.NoError(t, err)
	return c
}

func TestCombinedAdmitsWhenBothHaveCapacity(t *testing.T) {
	c := newTestCombined(t, 10, 2)
	ctx := context.Background()

	assert.True(t, c.TryAcquire(ctx, "tenant-a").Acquired)
	assert.True(t, c.TryAcquire(ctx, "tenant-a").Acquired)
	assert.False(t, c.TryAcquire(ctx, "tenant-a").Acquired)
}

func TestCombinedTenantIsolation(t *testing.T) {
	c := newTestCombined(t, 10, 1)
	ctx := context.Background()

	require.True(t, c.TryAcquire(ctx, "tenant-a").Acquired)
	require.False(t, c.TryAcquire(ctx, "tenant-a").Acquired)

	// Tenant B is unaffected by tenant A's exhaustion
	assert.True(t, c.TryAcquire(ctx, "tenant-b").Acquired)
}

func TestCombinedGlobalShortCircuit(t *testing.T) {
	c := newTestCombined(t, 2, 10)
	ctx := context.Background()

	require.True(t, c.TryAcquire(ctx, "tenant-a").Acquired)
	require.True(t, c.TryAcquire(ctx, "tenant-b").Acquired)

	// Global capacity exhausted: every tenant is denied, and the tenant
	// window is not consulted (its count stays untouched)
	acq := c.TryAcquire(ctx, "tenant-c")
	assert.False(t, acq.Acquired)
	assert.Equal(t, 0, c.TenantState(ctx, "tenant-c").CurrentCount)

	allowed, scope, wait := c.Check(ctx, "tenant-c")
	assert.False(t, allowed)
	assert.Equal(t, GlobalScope, scope)
	assert.Greater(t, wait, time.Duration(0))
}

func TestCombinedDenialDoesNotConsumeGlobal(t *testing.T) {
	c := newTestCombined(t, 10, 1)
	ctx := context.Background()

	require.True(t, c.TryAcquire(ctx, "tenant-a").Acquired)
	require.False(t, c.TryAcquire(ctx, "tenant-a").Acquired)

	// A tenant denial must not burn global capacity
	assert.Equal(t, 1, c.GlobalState(ctx).CurrentCount)
}

func TestCombinedCheckReportsTenantScope(t *testing.T) {
	c := newTestCombined(t, 10, 1)
	ctx := context.Background()

	require.True(t, c.TryAcquire(ctx, "tenant-a").Acquired)

	allowed, scope, wait := c.Check(ctx, "tenant-a")
	assert.False(t, allowed)
	assert.Equal(t, "tenant-a", scope)
	assert.Greater(t, wait, time.Duration(0))
}

func TestCombinedReset(t *testing.T) {
	c := newTestCombined(t, 10, 1)
	ctx := context.Background()

	require.True(t, c.TryAcquire(ctx, "tenant-a").Acquired)
	require.False(t, c.CanProceed(ctx, "tenant-a"))

	c.Reset(ctx, "tenant-a")
	assert.True(t, c.CanProceed(ctx, "tenant-a"))
}
