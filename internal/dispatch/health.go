package dispatch

import (
	"sync"
	"time"
)

// HealthState classifies the dispatcher's recent behavior.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthCritical HealthState = "critical"
)

// HealthThresholds configures the classification boundaries.
type HealthThresholds struct {
	// DegradedSuccessRate marks degraded below this rate
	DegradedSuccessRate float64
	// CriticalSuccessRate marks critical below this rate
	CriticalSuccessRate float64
	// DegradedQueueDepth marks degraded above this depth
	DegradedQueueDepth int
	// CriticalQueueDepth marks critical above this depth
	CriticalQueueDepth int
}

// DefaultHealthThresholds returns the standard boundaries.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		DegradedSuccessRate: 0.90,
		CriticalSuccessRate: 0.50,
		DegradedQueueDepth:  50,
		CriticalQueueDepth:  100,
	}
}

// HealthStatus is one classification snapshot.
type HealthStatus struct {
	State       HealthState   `json:"state"`
	SuccessRate float64       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
	SampleCount int           `json:"sample_count"`
	QueueLength int           `json:"queue_length"`
}

type outcomeSample struct {
	at      time.Time
	success bool
	latency time.Duration
}

// HealthTracker keeps a rolling window of call outcomes and classifies the
// dispatcher from recent success rate plus current queue depth. With no
// samples in the window the success rate counts as perfect; queue depth can
// still degrade the classification.
type HealthTracker struct {
	mu         sync.Mutex
	window     time.Duration
	thresholds HealthThresholds
	samples    []outcomeSample

	now func() time.Time
}

// NewHealthTracker creates a tracker over the given window.
func NewHealthTracker(window time.Duration, thresholds HealthThresholds) *HealthTracker {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if thresholds.DegradedSuccessRate <= 0 {
		thresholds = DefaultHealthThresholds()
	}
	return &HealthTracker{
		window:     window,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// RecordOutcome adds one call outcome to the window.
func (h *HealthTracker) RecordOutcome(success bool, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.prune(h.now())
	h.samples = append(h.samples, outcomeSample{at: h.now(), success: success, latency: latency})
}

// Snapshot classifies the current state given the queue depth.
func (h *HealthTracker) Snapshot(queueLength int) HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.prune(h.now())

	rate := 1.0
	var avgLatency time.Duration
	if len(h.samples) > 0 {
		succeeded := 0
		var total time.Duration
		for _, s := range h.samples {
			if s.success {
				succeeded++
			}
			total += s.latency
		}
		rate = float64(succeeded) / float64(len(h.samples))
		avgLatency = total / time.Duration(len(h.samples))
	}

	state := HealthHealthy
	switch {
	case rate < h.thresholds.CriticalSuccessRate || queueLength > h.thresholds.CriticalQueueDepth:
		state = HealthCritical
	case rate < h.thresholds.DegradedSuccessRate || queueLength > h.thresholds.DegradedQueueDepth:
		state = HealthDegraded
	}

	return HealthStatus{
		State:       state,
		SuccessRate: rate,
		AvgLatency:  avgLatency,
		SampleCount: len(h.samples),
		QueueLength: queueLength,
	}
}

// prune drops samples older than the window. Caller holds the lock.
func (h *HealthTracker) prune(now time.Time) {
	cutoff := now.Add(-h.window)
	kept := h.samples[:0]
	for _, s := range h.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(h.samples); i++ {
		h.samples[i] = outcomeSample{}
	}
	h.samples = kept
}
