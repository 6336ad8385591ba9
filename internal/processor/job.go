// Package processor implements the priority batch processor that schedules
// authorization work through the rate limiter and circuit breaker gates.
package processor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"cae-dispatcher/internal/authorization"
)

// Priority orders jobs in the queue. Lower values are picked first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow

	priorityCount
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority converts a string to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusRetrying   JobStatus = "retrying"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job is one unit of authorization work. The processor exclusively owns the
// lifecycle; callers only ever hold the job's Future.
type Job struct {
	ID        string    `json:"id"`
	WorkRef   string    `json:"work_ref"`
	TenantID  string    `json:"tenant_id"`
	Priority  Priority  `json:"priority"`
	Attempts  int       `json:"attempts"`
	Status    JobStatus `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// nextAttemptAt delays eligibility after a failed attempt
	nextAttemptAt time.Time

	future *Future
}

// Result is produced exactly once per job, at the terminal transition.
type Result struct {
	JobID    string                 `json:"job_id"`
	WorkRef  string                 `json:"work_ref"`
	TenantID string                 `json:"tenant_id"`
	Success  bool                   `json:"success"`
	Payload  *authorization.Payload `json:"payload,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Attempts int                    `json:"attempts"`
	Duration time.Duration          `json:"duration"`
}

// Future is the caller's handle on a job's outcome, resolved exactly once.
type Future struct {
	jobID  string
	once   sync.Once
	done   chan struct{}
	result Result
}

func newFuture(jobID string) *Future {
	return &Future{jobID: jobID, done: make(chan struct{})}
}

// JobID identifies the job this future belongs to, usable for cancellation
// before the result is available.
func (f *Future) JobID() string {
	return f.jobID
}

func (f *Future) resolve(result Result) {
	f.once.Do(func() {
		f.result = result
		close(f.done)
	})
}

// Done returns a channel closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the job terminates or ctx is cancelled.
func (f *Future) Result(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// TryResult returns the result if the job already terminated.
func (f *Future) TryResult() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}

// BatchResult aggregates the outcomes of one EnqueueBatch call. Successes
// and failures are mixed; the batch future resolves once every individual
// item has a result.
type BatchResult struct {
	Results   []Result `json:"results"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
}

// BatchFuture resolves when all jobs of a batch have terminated.
type BatchFuture struct {
	once   sync.Once
	done   chan struct{}
	result BatchResult
}

// Done returns a channel closed when every item has a result.
func (f *BatchFuture) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the whole batch terminates or ctx is cancelled.
func (f *BatchFuture) Result(ctx context.Context) (BatchResult, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return BatchResult{}, ctx.Err()
	}
}

func collectBatch(futures []*Future) *BatchFuture {
	bf := &BatchFuture{done: make(chan struct{})}

	go func() {
		batch := BatchResult{Results: make([]Result, 0, len(futures))}
		for _, f := range futures {
			<-f.Done()
			result, _ := f.TryResult()
			batch.Results = append(batch.Results, result)
			if result.Success {
				batch.Succeeded++
			} else {
				batch.Failed++
			}
		}
		bf.once.Do(func() {
			bf.result = batch
			close(bf.done)
		})
	}()

	return bf
}

// newJobID generates a random job identifier.
func newJobID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("job-%d", time.Now().UnixNano())
	}
	return "job-" + hex.EncodeToString(bytes)
}
