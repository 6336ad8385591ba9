package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePersister struct {
	entries []Entry
	failWith error
}

func (p *capturePersister) SaveAudit(_ context.Context, entry Entry) error {
	if p.failWith != nil {
		return p.failWith
	}
	p.entries = append(p.entries, entry)
	return nil
}

func TestTrailRecordsAndPersists(t *testing.T) {
	p := &capturePersister{}
	trail := NewTrail(p, nil)

	err := trail.Record(context.Background(), Entry{
		Actor:  "operator",
		Action: ActionCircuitOpen,
		Scope:  "tenant-a",
		Reason: "provider incident",
	})
	require.NoError(t, err)

	require.Len(t, p.entries, 1)
	assert.Equal(t, "operator", p.entries[0].Actor)
	assert.False(t, p.entries[0].At.IsZero(), "timestamp filled in when missing")
}

func TestTrailKeepsGivenTimestamp(t *testing.T) {
	p := &capturePersister{}
	trail := NewTrail(p, nil)

	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, trail.Record(context.Background(), Entry{
		Actor: "operator", Action: ActionProcessingPause, Reason: "deploy", At: at,
	}))
	assert.Equal(t, at, p.entries[0].At)
}

func TestTrailValidation(t *testing.T) {
	trail := NewTrail(nil, nil)

	assert.Error(t, trail.Record(context.Background(), Entry{Reason: "no actor"}))
	assert.Error(t, trail.Record(context.Background(), Entry{Actor: "operator"}))
}

func TestTrailPersistFailureDoesNotFailOverride(t *testing.T) {
	p := &capturePersister{failWith: errors.New("db down")}
	trail := NewTrail(p, nil)

	err := trail.Record(context.Background(), Entry{
		Actor: "operator", Action: ActionCircuitClose, Reason: "recovered",
	})
	assert.NoError(t, err)
}

func TestTrailWithoutPersister(t *testing.T) {
	trail := NewTrail(nil, nil)
	assert.NoError(t, trail.Record(context.Background(), Entry{
		Actor: "operator", Action: ActionQueueClear, Reason: "stuck jobs",
	}))
}
