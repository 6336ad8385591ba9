// Package dispatch composes the rate limiter, circuit breaker, batch
// processor, credential registry and health tracker into the client that
// callers use to obtain CAE authorizations.
package dispatch

import (
	"context"
	"time"

	"cae-dispatcher/internal/audit"
	"cae-dispatcher/internal/authorization"
	"cae-dispatcher/internal/circuitbreaker"
	apperrors "cae-dispatcher/internal/common/errors"
	"cae-dispatcher/internal/common/logging"
	"cae-dispatcher/internal/processor"
	"cae-dispatcher/internal/ratelimit"
)

// ResultSink receives every terminal job result, e.g. for publication or
// persistence downstream.
type ResultSink interface {
	PublishResult(ctx context.Context, result processor.Result) error
}

// Config holds the orchestrator configuration.
type Config struct {
	// CallTimeout bounds each external call
	CallTimeout time.Duration
	// HealthWindow is the rolling outcome window for classification
	HealthWindow time.Duration
	// Health configures the classification boundaries
	Health HealthThresholds
	// Processor configures the batch scheduler
	Processor processor.Config
}

// DefaultConfig returns the standard orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		CallTimeout:  30 * time.Second,
		HealthWindow: 5 * time.Minute,
		Health:       DefaultHealthThresholds(),
		Processor:    processor.DefaultConfig(),
	}
}

// Admission is the answer to a non-consuming pre-flight check.
type Admission struct {
	Allowed bool          `json:"allowed"`
	Reason  string        `json:"reason,omitempty"`
	Wait    time.Duration `json:"wait,omitempty"`
}

// SystemStatus aggregates the dispatcher's observable state.
type SystemStatus struct {
	Health        HealthStatus          `json:"health"`
	Queue         processor.Status      `json:"queue"`
	GlobalLimit   ratelimit.ScopeState  `json:"global_limit"`
	GlobalCircuit circuitbreaker.Status `json:"global_circuit"`

	// Tenant-specific sections, present when a tenant was named
	TenantLimit   *ratelimit.ScopeState  `json:"tenant_limit,omitempty"`
	TenantCircuit *circuitbreaker.Status `json:"tenant_circuit,omitempty"`
}

// Client is the dispatch orchestrator. All dependencies are injected; the
// client owns only the processor lifecycle.
type Client struct {
	config  Config
	limiter *ratelimit.Combined
	breaker *circuitbreaker.Combined
	creds   *CredentialRegistry
	call    authorization.CallFunc
	proc    *processor.Processor
	health  *HealthTracker
	trail   *audit.Trail
	sink    ResultSink
	logger  logging.Logger
}

// New wires the orchestrator. trail and sink may be nil.
func New(
	config Config,
	limiter *ratelimit.Combined,
	breaker *circuitbreaker.Combined,
	creds *CredentialRegistry,
	call authorization.CallFunc,
	trail *audit.Trail,
	sink ResultSink,
	logger logging.Logger,
) (*Client, error) {
	if limiter == nil || breaker == nil || creds == nil || call == nil {
		return nil, apperrors.ConfigError("dispatch client requires limiter, breaker, credentials and a call function")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}
	config.Processor.CallTimeout = config.CallTimeout

	c := &Client{
		config:  config,
		limiter: limiter,
		breaker: breaker,
		creds:   creds,
		call:    call,
		health:  NewHealthTracker(config.HealthWindow, config.Health),
		trail:   trail,
		sink:    sink,
		logger:  logger.WithFields(logging.Field{Key: "component", Value: "dispatch"}),
	}

	proc, err := processor.New(config.Processor, limiter, breaker, c.performCall, logger)
	if err != nil {
		return nil, err
	}
	proc.OnResult(c.onResult)
	c.proc = proc

	return c, nil
}

// Credentials exposes the registry for operator management.
func (c *Client) Credentials() *CredentialRegistry {
	return c.creds
}

// Start launches background processing.
func (c *Client) Start() {
	c.proc.Start()
}

// Stop halts processing and waits for in-flight calls.
func (c *Client) Stop() {
	c.proc.Stop()
}

// RequestAuthorization enqueues one authorization for background dispatch.
// Unregistered tenants fail here and are never enqueued.
func (c *Client) RequestAuthorization(_ context.Context, workRef, tenantID string, priority processor.Priority) (*processor.Future, error) {
	if workRef == "" {
		return nil, apperrors.ValidationError("work reference is required")
	}
	if !c.creds.Has(tenantID) {
		return nil, apperrors.ConfigError("no credentials registered for tenant " + tenantID)
	}
	return c.proc.Enqueue(workRef, tenantID, priority), nil
}

// RequestAuthorizationBatch enqueues several authorizations as one batch.
// The whole batch is rejected when any tenant is unregistered.
func (c *Client) RequestAuthorizationBatch(_ context.Context, items []processor.BatchItem) (*processor.BatchFuture, error) {
	if len(items) == 0 {
		return nil, apperrors.ValidationError("batch is empty")
	}
	for _, item := range items {
		if item.WorkRef == "" {
			return nil, apperrors.ValidationError("work reference is required")
		}
		if !c.creds.Has(item.TenantID) {
			return nil, apperrors.ConfigError("no credentials registered for tenant " + item.TenantID)
		}
	}
	return c.proc.EnqueueBatch(items), nil
}

// RequestAuthorizationImmediate performs one gated synchronous attempt with
// no retries. Gate denials come back as typed errors.
func (c *Client) RequestAuthorizationImmediate(ctx context.Context, workRef, tenantID string) (*authorization.Payload, error) {
	if workRef == "" {
		return nil, apperrors.ValidationError("work reference is required")
	}
	if !c.creds.Has(tenantID) {
		return nil, apperrors.ConfigError("no credentials registered for tenant " + tenantID)
	}

	if !c.breaker.CanRequest(tenantID) {
		return nil, apperrors.CircuitOpenError(tenantID)
	}
	if !c.limiter.TryAcquire(ctx, tenantID).Acquired {
		c.breaker.Release(tenantID)
		return nil, apperrors.RateLimitError(tenantID)
	}

	start := time.Now()
	payload, err := c.performCall(ctx, workRef, tenantID)
	latency := time.Since(start)

	if err != nil {
		c.breaker.RecordFailure(tenantID, err)
		c.health.RecordOutcome(false, latency)
		return nil, err
	}

	c.breaker.RecordSuccess(tenantID)
	c.health.RecordOutcome(true, latency)
	return payload, nil
}

// CanProceed is a non-consuming pre-flight check: would a request for the
// tenant be admitted right now, and if not, why and for how long.
func (c *Client) CanProceed(ctx context.Context, tenantID string) Admission {
	if !c.creds.Has(tenantID) {
		return Admission{Allowed: false, Reason: "credentials not registered"}
	}

	if allowed, scope, wait := c.limiter.Check(ctx, tenantID); !allowed {
		reason := "tenant rate limit reached"
		if scope == ratelimit.GlobalScope {
			reason = "global rate limit reached"
		}
		return Admission{Allowed: false, Reason: reason, Wait: wait}
	}

	if status := c.breaker.GlobalStatus(); status.State == circuitbreaker.StateOpen.String() {
		return Admission{Allowed: false, Reason: "global circuit open", Wait: retryWait(status)}
	}
	if status := c.breaker.TenantStatus(tenantID); status.State == circuitbreaker.StateOpen.String() {
		return Admission{Allowed: false, Reason: "tenant circuit open", Wait: retryWait(status)}
	}

	return Admission{Allowed: true}
}

// SystemStatus snapshots the dispatcher. An empty tenant omits the
// tenant-specific sections.
func (c *Client) SystemStatus(ctx context.Context, tenantID string) SystemStatus {
	queue := c.proc.Status()

	status := SystemStatus{
		Health:        c.health.Snapshot(queue.QueueLength),
		Queue:         queue,
		GlobalLimit:   c.limiter.GlobalState(ctx),
		GlobalCircuit: c.breaker.GlobalStatus(),
	}

	if tenantID != "" {
		limit := c.limiter.TenantState(ctx, tenantID)
		circuit := c.breaker.TenantStatus(tenantID)
		status.TenantLimit = &limit
		status.TenantCircuit = &circuit
	}
	return status
}

// CancelJob cancels a pending job.
func (c *Client) CancelJob(jobID string) bool {
	return c.proc.Cancel(jobID)
}

// ForceCircuitOpen manually trips a breaker scope. Audited.
func (c *Client) ForceCircuitOpen(ctx context.Context, scope, actor, reason string) error {
	if err := c.recordOverride(ctx, actor, audit.ActionCircuitOpen, scope, reason); err != nil {
		return err
	}
	c.breaker.ForceState(scope, circuitbreaker.StateOpen)
	return nil
}

// ForceCircuitClose manually closes a breaker scope. Audited.
func (c *Client) ForceCircuitClose(ctx context.Context, scope, actor, reason string) error {
	if err := c.recordOverride(ctx, actor, audit.ActionCircuitClose, scope, reason); err != nil {
		return err
	}
	c.breaker.ForceState(scope, circuitbreaker.StateClosed)
	return nil
}

// PauseProcessing suspends the scheduler. Audited.
func (c *Client) PauseProcessing(ctx context.Context, actor, reason string) error {
	if err := c.recordOverride(ctx, actor, audit.ActionProcessingPause, "", reason); err != nil {
		return err
	}
	c.proc.Pause()
	return nil
}

// ResumeProcessing lifts a pause. Audited.
func (c *Client) ResumeProcessing(ctx context.Context, actor, reason string) error {
	if err := c.recordOverride(ctx, actor, audit.ActionProcessingResume, "", reason); err != nil {
		return err
	}
	c.proc.Resume()
	return nil
}

// SweepIdleScopes drops idle per-tenant limiter state.
func (c *Client) SweepIdleScopes() int {
	return c.limiter.Sweep()
}

// performCall resolves credentials and runs the collaborator under the
// configured timeout. This is the processor's call function.
func (c *Client) performCall(ctx context.Context, workRef, tenantID string) (*authorization.Payload, error) {
	creds, err := c.creds.Get(tenantID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	payload, err := c.call(callCtx, workRef, creds)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.TimeoutError("authorization call")
		}
		return nil, err
	}
	return payload, nil
}

// onResult feeds terminal outcomes to the health window and the sink.
func (c *Client) onResult(result processor.Result) {
	c.health.RecordOutcome(result.Success, result.Duration)

	if c.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.sink.PublishResult(ctx, result); err != nil {
		c.logger.Warn("Failed to publish job result",
			logging.Err(err),
			logging.Field{Key: "job_id", Value: result.JobID},
		)
	}
}

func (c *Client) recordOverride(ctx context.Context, actor string, action audit.Action, scope, reason string) error {
	if c.trail == nil {
		if actor == "" || reason == "" {
			return apperrors.ValidationError("override requires an actor and a reason")
		}
		return nil
	}
	return c.trail.Record(ctx, audit.Entry{
		Actor:  actor,
		Action: action,
		Scope:  scope,
		Reason: reason,
	})
}

func retryWait(status circuitbreaker.Status) time.Duration {
	if status.NextRetryAt == nil {
		return 0
	}
	wait := time.Until(*status.NextRetryAt)
	if wait < 0 {
		return 0
	}
	return wait
}
