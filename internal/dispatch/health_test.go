package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestTracker(window time.Duration) (*HealthTracker, *time.Time) {
	h := NewHealthTracker(window, DefaultHealthThresholds())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	return h, &now
}

func TestHealthHealthyWithNoSamples(t *testing.T) {
	h, _ := newTestTracker(time.Minute)

	status := h.Snapshot(0)
	assert.Equal(t, HealthHealthy, status.State)
	assert.Equal(t, 1.0, status.SuccessRate)
	assert.Equal(t, 0, status.SampleCount)
}

func TestHealthDegradedOnSuccessRate(t *testing.T) {
	h, _ := newTestTracker(time.Minute)

	// 8/10 success is below the 90% degraded boundary
	for i := 0; i < 8; i++ {
		h.RecordOutcome(true, 100*time.Millisecond)
	}
	h.RecordOutcome(false, 100*time.Millisecond)
	h.RecordOutcome(false, 100*time.Millisecond)

	status := h.Snapshot(0)
	assert.Equal(t, HealthDegraded, status.State)
	assert.InDelta(t, 0.8, status.SuccessRate, 0.001)
}

func TestHealthCriticalOnSuccessRate(t *testing.T) {
	h, _ := newTestTracker(time.Minute)

	for i := 0; i < 4; i++ {
		h.RecordOutcome(true, time.Millisecond)
	}
	for i := 0; i < 6; i++ {
		h.RecordOutcome(false, time.Millisecond)
	}

	status := h.Snapshot(0)
	assert.Equal(t, HealthCritical, status.State)
}

func TestHealthQueueDepthAloneDegrades(t *testing.T) {
	h, _ := newTestTracker(time.Minute)

	assert.Equal(t, HealthDegraded, h.Snapshot(51).State)
	assert.Equal(t, HealthCritical, h.Snapshot(101).State)
	assert.Equal(t, HealthHealthy, h.Snapshot(50).State)
}

func TestHealthWindowPrunesOldSamples(t *testing.T) {
	h, now := newTestTracker(time.Minute)

	for i := 0; i < 10; i++ {
		h.RecordOutcome(false, time.Millisecond)
	}
	assert.Equal(t, HealthCritical, h.Snapshot(0).State)

	*now = now.Add(61 * time.Second)
	status := h.Snapshot(0)
	assert.Equal(t, HealthHealthy, status.State)
	assert.Equal(t, 0, status.SampleCount)
}

func TestHealthAverageLatency(t *testing.T) {
	h, _ := newTestTracker(time.Minute)

	h.RecordOutcome(true, 100*time.Millisecond)
	h.RecordOutcome(true, 300*time.Millisecond)

	status := h.Snapshot(0)
	assert.Equal(t, 200*time.Millisecond, status.AvgLatency)
}
