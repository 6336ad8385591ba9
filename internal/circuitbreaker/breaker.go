// Package circuitbreaker protects calls to the external authorization
// service with a per-scope closed/open/half-open state machine. Scopes are
// tenants plus the special global scope tracking aggregate service health.
//
// Recovery is checked lazily on every state read as a pure function of the
// opening time, so no background timer is required.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"cae-dispatcher/internal/common/logging"
)

// GlobalScope is the scope key tracking aggregate service health.
const GlobalScope = "global"

// State represents the current state of a circuit breaker scope
type State int

const (
	// StateClosed means requests flow through normally
	StateClosed State = iota
	// StateOpen means requests fail fast
	StateOpen
	// StateHalfOpen means a limited number of probes test recovery
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ParseState converts a string to a State.
func ParseState(s string) (State, error) {
	switch s {
	case "closed":
		return StateClosed, nil
	case "open":
		return StateOpen, nil
	case "half-open":
		return StateHalfOpen, nil
	default:
		return StateClosed, fmt.Errorf("unknown circuit state: %q", s)
	}
}

// Config holds the configuration for a circuit breaker
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// OpenDuration is how long the circuit stays open before probing recovery
	OpenDuration time.Duration
	// HalfOpenRequests caps concurrent probe admissions while half-open
	HalfOpenRequests int
	// SuccessThreshold is the number of consecutive successes that closes the circuit
	SuccessThreshold int
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenDuration:     60 * time.Second,
		HalfOpenRequests: 1,
		SuccessThreshold: 2,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("FailureThreshold must be positive, got %d", c.FailureThreshold)
	}
	if c.OpenDuration <= 0 {
		return fmt.Errorf("OpenDuration must be positive, got %v", c.OpenDuration)
	}
	if c.HalfOpenRequests <= 0 {
		return fmt.Errorf("HalfOpenRequests must be positive, got %d", c.HalfOpenRequests)
	}
	if c.SuccessThreshold <= 0 {
		return fmt.Errorf("SuccessThreshold must be positive, got %d", c.SuccessThreshold)
	}
	return nil
}

// Status is a point-in-time snapshot of one scope.
type Status struct {
	Scope       string     `json:"scope"`
	State       string     `json:"state"`
	Failures    int        `json:"failures"`
	Successes   int        `json:"successes"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	OpenedAt    *time.Time `json:"opened_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// Breaker tracks circuit state per scope.
type Breaker struct {
	mu     sync.Mutex
	config Config
	scopes map[string]*scopeBreaker
	logger logging.Logger

	// Hook for monitoring and logging
	onStateChange func(scope string, from, to State)

	// now is swapped out in tests
	now func() time.Time
}

type scopeBreaker struct {
	state     State
	failures  int
	successes int

	lastFailure time.Time
	lastSuccess time.Time
	openedAt    time.Time

	halfOpenInFlight int
}

// New creates a breaker with the given configuration.
func New(config Config, logger logging.Logger) (*Breaker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Breaker{
		config: config,
		scopes: make(map[string]*scopeBreaker),
		logger: logger.WithFields(logging.Field{Key: "component", Value: "circuitbreaker"}),
		now:    time.Now,
	}, nil
}

// OnStateChange sets a callback fired on every state transition.
func (b *Breaker) OnStateChange(fn func(scope string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// CanRequest reports whether a request for the scope should be attempted.
// In half-open it also claims one of the limited probe slots.
func (b *Breaker) CanRequest(scope string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb := b.scope(scope)
	b.checkTransition(scope, sb)

	switch sb.state {
	case StateClosed:
		return true
	case StateOpen:
		return false
	case StateHalfOpen:
		if sb.halfOpenInFlight < b.config.HalfOpenRequests {
			sb.halfOpenInFlight++
			return true
		}
		return false
	}

	return false
}

// RecordSuccess registers a successful call for the scope.
func (b *Breaker) RecordSuccess(scope string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb := b.scope(scope)
	b.checkTransition(scope, sb)
	sb.lastSuccess = b.now()

	switch sb.state {
	case StateClosed:
		sb.failures = 0
	case StateHalfOpen:
		if sb.halfOpenInFlight > 0 {
			sb.halfOpenInFlight--
		}
		sb.successes++
		if sb.successes >= b.config.SuccessThreshold {
			b.setState(scope, sb, StateClosed)
		}
	}
}

// RecordFailure registers a failed call for the scope. While open this is a
// no-op aside from logging: the scope is already failing fast.
func (b *Breaker) RecordFailure(scope string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb := b.scope(scope)
	b.checkTransition(scope, sb)

	if sb.state == StateOpen {
		b.logger.Debug("Failure recorded while circuit already open",
			logging.Field{Key: "scope", Value: scope},
			logging.Field{Key: "error", Value: errString(err)},
		)
		return
	}

	sb.lastFailure = b.now()

	switch sb.state {
	case StateClosed:
		sb.failures++
		if sb.failures >= b.config.FailureThreshold {
			b.setState(scope, sb, StateOpen)
		}
	case StateHalfOpen:
		if sb.halfOpenInFlight > 0 {
			sb.halfOpenInFlight--
		}
		b.setState(scope, sb, StateOpen)
	}
}

// Status returns a snapshot of one scope.
func (b *Breaker) Status(scope string) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb := b.scope(scope)
	b.checkTransition(scope, sb)

	status := Status{
		Scope:     scope,
		State:     sb.state.String(),
		Failures:  sb.failures,
		Successes: sb.successes,
	}

	if !sb.lastFailure.IsZero() {
		t := sb.lastFailure
		status.LastFailure = &t
	}
	if !sb.lastSuccess.IsZero() {
		t := sb.lastSuccess
		status.LastSuccess = &t
	}
	if !sb.openedAt.IsZero() {
		t := sb.openedAt
		status.OpenedAt = &t
		retry := sb.openedAt.Add(b.config.OpenDuration)
		status.NextRetryAt = &retry
	}

	return status
}

// CurrentState returns the scope's state after the lazy recovery check.
func (b *Breaker) CurrentState(scope string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb := b.scope(scope)
	b.checkTransition(scope, sb)
	return sb.state
}

// ForceState moves the scope to the given state, for operator override.
func (b *Breaker) ForceState(scope string, state State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb := b.scope(scope)
	b.setState(scope, sb, state)
}

// Reset returns the scope to closed with zeroed counters.
func (b *Breaker) Reset(scope string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.scopes, scope)
}

// AllStatuses returns snapshots for every tracked scope.
func (b *Breaker) AllStatuses() []Status {
	b.mu.Lock()
	scopes := make([]string, 0, len(b.scopes))
	for scope := range b.scopes {
		scopes = append(scopes, scope)
	}
	b.mu.Unlock()

	statuses := make([]Status, 0, len(scopes))
	for _, scope := range scopes {
		statuses = append(statuses, b.Status(scope))
	}
	return statuses
}

// releaseProbe gives back a half-open probe slot that was claimed but whose
// request was never attempted.
func (b *Breaker) releaseProbe(scope string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb := b.scope(scope)
	if sb.state == StateHalfOpen && sb.halfOpenInFlight > 0 {
		sb.halfOpenInFlight--
	}
}

func (b *Breaker) scope(scope string) *scopeBreaker {
	sb, ok := b.scopes[scope]
	if !ok {
		sb = &scopeBreaker{state: StateClosed}
		b.scopes[scope] = sb
	}
	return sb
}

// checkTransition performs the lazy open -> half-open move once the open
// duration has elapsed. Caller holds the lock.
func (b *Breaker) checkTransition(scope string, sb *scopeBreaker) {
	if sb.state == StateOpen && b.now().Sub(sb.openedAt) >= b.config.OpenDuration {
		b.setState(scope, sb, StateHalfOpen)
	}
}

// setState transitions the scope, resetting counters. Caller holds the lock.
func (b *Breaker) setState(scope string, sb *scopeBreaker, newState State) {
	oldState := sb.state
	if oldState == newState {
		return
	}

	sb.state = newState
	sb.failures = 0
	sb.successes = 0
	sb.halfOpenInFlight = 0

	if newState == StateOpen {
		sb.openedAt = b.now()
	} else {
		sb.openedAt = time.Time{}
	}

	if b.onStateChange != nil {
		// Fire outside the lock to avoid deadlock
		go b.onStateChange(scope, oldState, newState)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
