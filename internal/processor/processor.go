package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cae-dispatcher/internal/authorization"
	"cae-dispatcher/internal/backoff"
	"cae-dispatcher/internal/common/logging"
	"cae-dispatcher/internal/ratelimit"
)

// RateGate is the rate-limiter view the processor needs.
type RateGate interface {
	CanProceed(ctx context.Context, tenant string) bool
	TryAcquire(ctx context.Context, tenant string) ratelimit.Acquisition
}

// CircuitGate is the circuit-breaker view the processor needs.
type CircuitGate interface {
	CanRequest(tenant string) bool
	Release(tenant string)
	RecordSuccess(tenant string)
	RecordFailure(tenant string, err error)
}

// CallFunc performs one authorization attempt for a job. Credential lookup
// happens upstream; the processor only schedules.
type CallFunc func(ctx context.Context, workRef, tenantID string) (*authorization.Payload, error)

// Config holds the batch processor configuration.
type Config struct {
	// MaxConcurrency bounds jobs in flight at once
	MaxConcurrency int
	// MaxBatchSize bounds jobs claimed per scheduling tick
	MaxBatchSize int
	// MaxAttempts caps real call attempts per job
	MaxAttempts int
	// CallTimeout bounds each external call
	CallTimeout time.Duration
	// IdleInterval is the sleep when the queue is empty
	IdleInterval time.Duration
	// SaturatedInterval is the sleep when concurrency is saturated
	SaturatedInterval time.Duration
	// MaxQueueResidency terminates jobs stuck non-terminal too long.
	// Zero disables the check.
	MaxQueueResidency time.Duration
	// RetryBackoff shapes the delay between real attempts
	RetryBackoff backoff.Config
}

// DefaultConfig returns a sensible default processor configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:    5,
		MaxBatchSize:      10,
		MaxAttempts:       3,
		CallTimeout:       30 * time.Second,
		IdleInterval:      time.Second,
		SaturatedInterval: 100 * time.Millisecond,
		MaxQueueResidency: 0,
		RetryBackoff:      backoff.DefaultConfig(),
	}
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("MaxConcurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("MaxBatchSize must be positive, got %d", c.MaxBatchSize)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("MaxAttempts must be positive, got %d", c.MaxAttempts)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("CallTimeout must be positive, got %v", c.CallTimeout)
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = time.Second
	}
	if c.SaturatedInterval <= 0 {
		c.SaturatedInterval = 100 * time.Millisecond
	}
	return nil
}

// Status is a snapshot of the processor's load.
type Status struct {
	QueueLength int            `json:"queue_length"`
	Processing  int            `json:"processing"`
	ByPriority  map[string]int `json:"by_priority"`
	Paused      bool           `json:"paused"`
}

// Processor schedules jobs through the rate limiter and circuit breaker
// gates, a bounded number concurrently.
//
// Scheduling decisions are serialized under one mutex; only the external
// calls themselves run concurrently. Neither queue state nor job records
// survive a process restart: callers needing durability must re-enqueue
// from their own source of truth on startup.
type Processor struct {
	config  Config
	rate    RateGate
	circuit CircuitGate
	call    CallFunc
	logger  logging.Logger

	mu         sync.Mutex
	queue      *jobQueue
	processing map[string]*Job
	paused     bool
	running    bool

	// onResult fires after every terminal transition
	onResult func(Result)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a batch processor. The gates and the call function must be
// non-nil.
func New(config Config, rate RateGate, circuit CircuitGate, call CallFunc, logger logging.Logger) (*Processor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Processor{
		config:     config,
		rate:       rate,
		circuit:    circuit,
		call:       call,
		logger:     logger.WithFields(logging.Field{Key: "component", Value: "processor"}),
		queue:      newJobQueue(),
		processing: make(map[string]*Job),
		stopCh:     make(chan struct{}),
	}, nil
}

// OnResult registers a hook fired once per job at its terminal transition.
// Must be called before Start.
func (p *Processor) OnResult(fn func(Result)) {
	p.onResult = fn
}

// Enqueue adds one job and returns its future.
func (p *Processor) Enqueue(workRef, tenantID string, priority Priority) *Future {
	jobID := newJobID()
	job := &Job{
		ID:        jobID,
		WorkRef:   workRef,
		TenantID:  tenantID,
		Priority:  priority,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		future:    newFuture(jobID),
	}

	p.mu.Lock()
	p.queue.push(job)
	queueLen := p.queue.len()
	p.mu.Unlock()

	p.logger.Debug("Job enqueued",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "work_ref", Value: workRef},
		logging.Field{Key: "tenant_id", Value: tenantID},
		logging.Field{Key: "priority", Value: priority.String()},
		logging.Field{Key: "queue_length", Value: queueLen},
	)

	return job.future
}

// BatchItem is one entry of an EnqueueBatch call.
type BatchItem struct {
	WorkRef  string   `json:"work_ref"`
	TenantID string   `json:"tenant_id"`
	Priority Priority `json:"priority"`
}

// EnqueueBatch adds several jobs and returns a future that resolves once
// every item has a result, successes and failures mixed.
func (p *Processor) EnqueueBatch(items []BatchItem) *BatchFuture {
	futures := make([]*Future, len(items))
	for i, item := range items {
		futures[i] = p.Enqueue(item.WorkRef, item.TenantID, item.Priority)
	}
	return collectBatch(futures)
}

// Start launches the scheduling loop. Calling Start twice is a no-op.
func (p *Processor) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run()

	p.logger.Info("Batch processor started",
		logging.Field{Key: "max_concurrency", Value: p.config.MaxConcurrency},
		logging.Field{Key: "max_batch_size", Value: p.config.MaxBatchSize},
	)
}

// Stop halts scheduling and waits for in-flight jobs to finish. Queued jobs
// stay queued and are lost with the process.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Batch processor stopped")
}

// Pause suspends claiming new jobs; in-flight jobs run to completion.
func (p *Processor) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	p.logger.Info("Batch processing paused")
}

// Resume lifts a pause.
func (p *Processor) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.logger.Info("Batch processing resumed")
}

// Cancel removes a pending job, resolving its future with a cancellation
// error. Jobs already processing cannot be cancelled.
func (p *Processor) Cancel(jobID string) bool {
	p.mu.Lock()
	job := p.queue.remove(jobID)
	p.mu.Unlock()

	if job == nil {
		return false
	}

	job.Status = StatusFailed
	job.future.resolve(Result{
		JobID:    job.ID,
		WorkRef:  job.WorkRef,
		TenantID: job.TenantID,
		Success:  false,
		Error:    "job cancelled",
		Attempts: job.Attempts,
	})

	p.logger.Info("Job cancelled",
		logging.Field{Key: "job_id", Value: jobID},
	)
	return true
}

// ClearQueue cancels every pending job and returns how many were dropped.
func (p *Processor) ClearQueue() int {
	p.mu.Lock()
	dropped := p.queue.drain()
	p.mu.Unlock()

	for _, job := range dropped {
		job.Status = StatusFailed
		job.future.resolve(Result{
			JobID:    job.ID,
			WorkRef:  job.WorkRef,
			TenantID: job.TenantID,
			Success:  false,
			Error:    "queue cleared",
			Attempts: job.Attempts,
		})
	}

	if len(dropped) > 0 {
		p.logger.Warn("Queue cleared",
			logging.Field{Key: "dropped", Value: len(dropped)},
		)
	}
	return len(dropped)
}

// Status returns a snapshot of queue depth and in-flight work.
func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Status{
		QueueLength: p.queue.len(),
		Processing:  len(p.processing),
		ByPriority:  p.queue.byPriority(),
		Paused:      p.paused,
	}
}

// run is the scheduling loop.
func (p *Processor) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		batch, wait := p.claimBatch()

		if len(batch) == 0 {
			select {
			case <-p.stopCh:
				return
			case <-time.After(wait):
			}
			continue
		}

		for _, job := range batch {
			p.wg.Add(1)
			go p.execute(job)
		}
	}
}

// claimBatch selects eligible pending jobs under the lock and marks them
// processing. When nothing is claimable it returns the sleep interval for
// the caller: short when saturated, longer when the queue is idle.
func (p *Processor) claimBatch() ([]*Job, time.Duration) {
	ctx := context.Background()
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused || p.queue.len() == 0 {
		return nil, p.config.IdleInterval
	}

	capacity := p.config.MaxConcurrency - len(p.processing)
	if capacity <= 0 {
		return nil, p.config.SaturatedInterval
	}
	if capacity > p.config.MaxBatchSize {
		capacity = p.config.MaxBatchSize
	}

	if p.config.MaxQueueResidency > 0 {
		p.expireResidents(now)
	}

	batch := p.queue.takeWhere(capacity, func(job *Job) bool {
		if now.Before(job.nextAttemptAt) {
			return false
		}
		// Cheap non-consuming check first: a throttled tenant is
		// skipped this tick without burning a breaker probe
		if !p.rate.CanProceed(ctx, job.TenantID) {
			job.Status = StatusRetrying
			return false
		}
		if !p.circuit.CanRequest(job.TenantID) {
			job.Status = StatusRetrying
			return false
		}
		if !p.rate.TryAcquire(ctx, job.TenantID).Acquired {
			// Lost the slot to a concurrent immediate dispatch
			p.circuit.Release(job.TenantID)
			job.Status = StatusRetrying
			return false
		}
		return true
	})

	for _, job := range batch {
		job.Status = StatusProcessing
		p.processing[job.ID] = job
	}

	if len(batch) == 0 {
		return nil, p.config.SaturatedInterval
	}
	return batch, 0
}

// expireResidents terminates jobs that exceeded the queue residency cap.
// Caller holds the lock.
func (p *Processor) expireResidents(now time.Time) {
	expired := p.queue.takeWhere(p.queue.len(), func(job *Job) bool {
		return now.Sub(job.CreatedAt) > p.config.MaxQueueResidency
	})

	for _, job := range expired {
		job.Status = StatusFailed
		job.future.resolve(Result{
			JobID:    job.ID,
			WorkRef:  job.WorkRef,
			TenantID: job.TenantID,
			Success:  false,
			Error:    fmt.Sprintf("job exceeded queue residency of %v", p.config.MaxQueueResidency),
			Attempts: job.Attempts,
		})
		p.logger.Warn("Job expired in queue",
			logging.Field{Key: "job_id", Value: job.ID},
			logging.Field{Key: "tenant_id", Value: job.TenantID},
			logging.Field{Key: "age", Value: now.Sub(job.CreatedAt)},
		)
		p.notifyResult(job)
	}
}

// execute runs one claimed job to success, requeue or terminal failure.
func (p *Processor) execute(job *Job) {
	defer p.wg.Done()

	job.Attempts++
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), p.config.CallTimeout)
	payload, err := p.call(ctx, job.WorkRef, job.TenantID)
	cancel()

	duration := time.Since(start)

	if err == nil {
		p.circuit.RecordSuccess(job.TenantID)
		p.finish(job, Result{
			JobID:    job.ID,
			WorkRef:  job.WorkRef,
			TenantID: job.TenantID,
			Success:  true,
			Payload:  payload,
			Attempts: job.Attempts,
			Duration: duration,
		})
		return
	}

	p.circuit.RecordFailure(job.TenantID, err)

	if backoff.IsRetryable(err) && job.Attempts < p.config.MaxAttempts {
		p.requeue(job, err)
		return
	}

	p.finish(job, Result{
		JobID:    job.ID,
		WorkRef:  job.WorkRef,
		TenantID: job.TenantID,
		Success:  false,
		Error:    err.Error(),
		Attempts: job.Attempts,
		Duration: duration,
	})
}

// requeue puts a failed job back at the tail of its priority tier.
func (p *Processor) requeue(job *Job, err error) {
	job.LastError = err.Error()
	job.Status = StatusRetrying
	job.nextAttemptAt = time.Now().Add(backoff.Delay(job.Attempts-1, p.config.RetryBackoff))

	p.mu.Lock()
	delete(p.processing, job.ID)
	p.queue.push(job)
	p.mu.Unlock()

	p.logger.Debug("Job requeued after failure",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "tenant_id", Value: job.TenantID},
		logging.Field{Key: "attempts", Value: job.Attempts},
		logging.Field{Key: "error", Value: err.Error()},
	)
}

// finish records the terminal transition and resolves the future.
func (p *Processor) finish(job *Job, result Result) {
	if result.Success {
		job.Status = StatusCompleted
	} else {
		job.Status = StatusFailed
		job.LastError = result.Error
	}

	p.mu.Lock()
	delete(p.processing, job.ID)
	p.mu.Unlock()

	job.future.resolve(result)
	p.notifyResult(job)

	if result.Success {
		p.logger.Info("Job completed",
			logging.Field{Key: "job_id", Value: job.ID},
			logging.Field{Key: "tenant_id", Value: job.TenantID},
			logging.Field{Key: "attempts", Value: result.Attempts},
			logging.Field{Key: "duration", Value: result.Duration},
		)
	} else {
		p.logger.Warn("Job failed terminally",
			logging.Field{Key: "job_id", Value: job.ID},
			logging.Field{Key: "tenant_id", Value: job.TenantID},
			logging.Field{Key: "attempts", Value: result.Attempts},
			logging.Field{Key: "error", Value: result.Error},
		)
	}
}

func (p *Processor) notifyResult(job *Job) {
	if p.onResult == nil {
		return
	}
	if result, ok := job.future.TryResult(); ok {
		p.onResult(result)
	}
}
