package ratelimit

import (
	"context"
	"sync"
	"time"

	"cae-dispatcher/internal/common/logging"
)

// Combined composes the service-wide global limiter with per-tenant
// limiters. A request is admitted only when both admit it; the global check
// short-circuits before the tenant limiter is touched.
//
// The combined mutex makes the global check-then-record atomic relative to
// other tenants' acquisitions in this process.
type Combined struct {
	global  Limiter
	tenants Limiter
	logger  logging.Logger
	mu      sync.Mutex
}

// NewCombined builds a combined limiter from a global and a per-tenant
// limiter. Both must be non-nil.
func NewCombined(global, tenants Limiter, logger logging.Logger) *Combined {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Combined{
		global:  global,
		tenants: tenants,
		logger:  logger.WithFields(logging.Field{Key: "component", Value: "ratelimit"}),
	}
}

// NewCombinedLocal builds a combined limiter with in-memory windows for both
// the global scope and the tenants.
func NewCombinedLocal(globalCfg, tenantCfg Config, logger logging.Logger) (*Combined, error) {
	global, err := NewSlidingWindow(globalCfg)
	if err != nil {
		return nil, err
	}
	tenants, err := NewSlidingWindow(tenantCfg)
	if err != nil {
		return nil, err
	}
	return NewCombined(global, tenants, logger), nil
}

// TryAcquire admits a tenant request only when the global and the tenant
// windows both have capacity, consuming one slot from each.
func (c *Combined) TryAcquire(ctx context.Context, tenant string) Acquisition {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.global.CanProceed(ctx, GlobalScope) {
		return Acquisition{Acquired: false, Wait: stateWait(c.global.State(ctx, GlobalScope))}
	}
	if !c.tenants.CanProceed(ctx, tenant) {
		return Acquisition{Acquired: false, Wait: stateWait(c.tenants.State(ctx, tenant))}
	}

	c.global.Record(ctx, GlobalScope)
	c.tenants.Record(ctx, tenant)
	return Acquisition{Acquired: true}
}

// CanProceed reports whether both gates currently admit the tenant.
func (c *Combined) CanProceed(ctx context.Context, tenant string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global.CanProceed(ctx, GlobalScope) && c.tenants.CanProceed(ctx, tenant)
}

// Check is CanProceed plus the denial detail for pre-flight reporting.
// The returned scope names the gate that denied.
func (c *Combined) Check(ctx context.Context, tenant string) (bool, string, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.global.CanProceed(ctx, GlobalScope) {
		return false, GlobalScope, stateWait(c.global.State(ctx, GlobalScope))
	}
	if !c.tenants.CanProceed(ctx, tenant) {
		return false, tenant, stateWait(c.tenants.State(ctx, tenant))
	}
	return true, "", 0
}

// TenantState returns the snapshot of one tenant's window.
func (c *Combined) TenantState(ctx context.Context, tenant string) ScopeState {
	return c.tenants.State(ctx, tenant)
}

// GlobalState returns the snapshot of the global window.
func (c *Combined) GlobalState(ctx context.Context) ScopeState {
	return c.global.State(ctx, GlobalScope)
}

// Reset clears one tenant's window.
func (c *Combined) Reset(ctx context.Context, tenant string) {
	c.tenants.Reset(ctx, tenant)
}

// ResetAll clears the global window and one tenant's window.
func (c *Combined) ResetAll(ctx context.Context, tenant string) {
	c.global.Reset(ctx, GlobalScope)
	c.tenants.Reset(ctx, tenant)
}

// Sweep garbage-collects idle tenant windows on local backends.
func (c *Combined) Sweep() int {
	sw, ok := c.tenants.(*SlidingWindow)
	if !ok {
		return 0
	}

	removed := sw.Sweep()
	if removed > 0 {
		c.logger.Debug("Swept idle tenant rate limiters",
			logging.Field{Key: "removed", Value: removed},
		)
	}
	return removed
}

// stateWait derives the denial wait from a window snapshot.
func stateWait(state ScopeState) time.Duration {
	wait := time.Until(state.ResetAt) + denialBuffer
	if wait < denialBuffer {
		wait = denialBuffer
	}
	return wait
}
