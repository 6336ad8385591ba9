package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow tracks request timestamps per scope in memory.
//
// Timestamps older than the configured window are purged before every read
// or write, so a scope's state is never stale beyond one cleanup cycle.
type SlidingWindow struct {
	mu     sync.Mutex
	config Config
	scopes map[string]*scopeWindow

	// now is swapped out in tests
	now func() time.Time
}

type scopeWindow struct {
	stamps []time.Time
}

// NewSlidingWindow creates an in-memory sliding-window limiter.
func NewSlidingWindow(config Config) (*SlidingWindow, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &SlidingWindow{
		config: config,
		scopes: make(map[string]*scopeWindow),
		now:    time.Now,
	}, nil
}

// CanProceed reports whether the scope has capacity without consuming it.
func (w *SlidingWindow) CanProceed(_ context.Context, scope string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	sw := w.window(scope)
	w.purge(sw)
	return len(sw.stamps) < w.config.capacity()
}

// Record consumes one slot for the scope unconditionally.
func (w *SlidingWindow) Record(_ context.Context, scope string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sw := w.window(scope)
	w.purge(sw)
	sw.stamps = append(sw.stamps, w.now())
}

// TryAcquire cleans up, checks capacity and appends the new timestamp in one
// step, so there is no gap between check and record.
func (w *SlidingWindow) TryAcquire(_ context.Context, scope string) Acquisition {
	w.mu.Lock()
	defer w.mu.Unlock()

	sw := w.window(scope)
	w.purge(sw)

	if len(sw.stamps) < w.config.capacity() {
		sw.stamps = append(sw.stamps, w.now())
		return Acquisition{Acquired: true}
	}

	return Acquisition{Acquired: false, Wait: w.waitTime(sw)}
}

// State returns a snapshot of the scope's window.
func (w *SlidingWindow) State(_ context.Context, scope string) ScopeState {
	w.mu.Lock()
	defer w.mu.Unlock()

	sw := w.window(scope)
	w.purge(sw)

	count := len(sw.stamps)
	remaining := w.config.capacity() - count
	if remaining < 0 {
		remaining = 0
	}

	resetAt := w.now()
	if count > 0 {
		resetAt = sw.stamps[0].Add(w.config.Window)
	}

	return ScopeState{
		Scope:        scope,
		CurrentCount: count,
		Remaining:    remaining,
		ResetAt:      resetAt,
		Limited:      remaining == 0,
	}
}

// Reset discards all tracked requests for the scope.
func (w *SlidingWindow) Reset(_ context.Context, scope string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.scopes, scope)
}

// Sweep removes scopes with no requests left in the current window and
// returns how many were dropped. Called periodically to bound memory with a
// growing tenant set.
func (w *SlidingWindow) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for scope, sw := range w.scopes {
		w.purge(sw)
		if len(sw.stamps) == 0 {
			delete(w.scopes, scope)
			removed++
		}
	}
	return removed
}

// ActiveScopes returns the number of scopes currently tracked.
func (w *SlidingWindow) ActiveScopes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.scopes)
}

func (w *SlidingWindow) window(scope string) *scopeWindow {
	sw, ok := w.scopes[scope]
	if !ok {
		// Hard cap on tracked scopes; an inline sweep frees idle ones
		if len(w.scopes) >= w.config.MaxScopes {
			for s, existing := range w.scopes {
				w.purge(existing)
				if len(existing.stamps) == 0 {
					delete(w.scopes, s)
				}
			}
		}
		sw = &scopeWindow{}
		w.scopes[scope] = sw
	}
	return sw
}

// purge drops timestamps that have left the window. Caller holds the lock.
func (w *SlidingWindow) purge(sw *scopeWindow) {
	cutoff := w.now().Add(-w.config.Window)

	i := 0
	for i < len(sw.stamps) && !sw.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		sw.stamps = append(sw.stamps[:0], sw.stamps[i:]...)
	}
}

// waitTime is how long until the oldest stamp expires, plus a small buffer.
// Caller holds the lock and has already purged.
func (w *SlidingWindow) waitTime(sw *scopeWindow) time.Duration {
	if len(sw.stamps) == 0 {
		return denialBuffer
	}

	wait := sw.stamps[0].Add(w.config.Window).Sub(w.now()) + denialBuffer
	if wait < denialBuffer {
		wait = denialBuffer
	}
	return wait
}

var _ Limiter = (*SlidingWindow)(nil)
