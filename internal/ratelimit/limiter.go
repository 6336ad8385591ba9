// Package ratelimit implements sliding-window rate limiting for the
// authorization dispatcher. Windows are tracked per scope: one scope per
// tenant plus the special global scope shared by all tenants.
//
// Denial is a first-class return value, never an error. Callers ask
// TryAcquire and receive either an admission or the time to wait before
// the next slot opens.
package ratelimit

import (
	"context"
	"time"
)

// denialBuffer pads the reported wait so an immediate retry does not get
// denied again because of clock skew.
const denialBuffer = 100 * time.Millisecond

// Acquisition is the outcome of a TryAcquire call.
type Acquisition struct {
	Acquired bool          `json:"acquired"`
	Wait     time.Duration `json:"wait,omitempty"`
}

// ScopeState is a point-in-time snapshot of one scope's window.
type ScopeState struct {
	Scope        string    `json:"scope"`
	CurrentCount int       `json:"current_count"`
	Remaining    int       `json:"remaining"`
	ResetAt      time.Time `json:"reset_at"`
	Limited      bool      `json:"limited"`
}

// Limiter is the sliding-window rate limiter contract.
type Limiter interface {
	// CanProceed reports whether the scope has capacity right now,
	// without consuming it.
	CanProceed(ctx context.Context, scope string) bool

	// Record consumes one slot for the scope unconditionally.
	Record(ctx context.Context, scope string)

	// TryAcquire atomically checks capacity and, if available, consumes
	// one slot. When denied, Wait is the time until the oldest entry
	// leaves the window.
	TryAcquire(ctx context.Context, scope string) Acquisition

	// State returns a snapshot of the scope's window.
	State(ctx context.Context, scope string) ScopeState

	// Reset discards all tracked requests for the scope.
	Reset(ctx context.Context, scope string)
}
