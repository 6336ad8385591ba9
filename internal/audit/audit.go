// Package audit records operator overrides. Every manual intervention on
// the dispatcher carries who did it and why, is logged, and is handed to a
// persister when one is configured.
package audit

import (
	"context"
	"time"

	apperrors "cae-dispatcher/internal/common/errors"
	"cae-dispatcher/internal/common/logging"
)

// Action identifies the kind of override.
type Action string

const (
	ActionCircuitOpen      Action = "circuit_open"
	ActionCircuitClose     Action = "circuit_close"
	ActionProcessingPause  Action = "processing_pause"
	ActionProcessingResume Action = "processing_resume"
	ActionQueueClear       Action = "queue_clear"
)

// Entry is one recorded override.
type Entry struct {
	Actor  string    `json:"actor"`
	Action Action    `json:"action"`
	Scope  string    `json:"scope,omitempty"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Persister stores entries durably.
type Persister interface {
	SaveAudit(ctx context.Context, entry Entry) error
}

// Trail logs overrides and forwards them to an optional persister. A nil
// persister means log-only.
type Trail struct {
	persister Persister
	logger    logging.Logger
}

// NewTrail creates a trail. persister may be nil.
func NewTrail(persister Persister, logger logging.Logger) *Trail {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Trail{
		persister: persister,
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "audit"}),
	}
}

// Record validates and records one override. Persistence failures are
// logged but do not fail the override itself.
func (t *Trail) Record(ctx context.Context, entry Entry) error {
	if entry.Actor == "" {
		return apperrors.ValidationError("audit entry requires an actor")
	}
	if entry.Reason == "" {
		return apperrors.ValidationError("audit entry requires a reason")
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}

	t.logger.Info("Operator override",
		logging.Field{Key: "actor", Value: entry.Actor},
		logging.Field{Key: "action", Value: string(entry.Action)},
		logging.Field{Key: "scope", Value: entry.Scope},
		logging.Field{Key: "reason", Value: entry.Reason},
	)

	if t.persister != nil {
		if err := t.persister.SaveAudit(ctx, entry); err != nil {
			t.logger.Error("Failed to persist audit entry", err,
				logging.Field{Key: "action", Value: string(entry.Action)},
			)
		}
	}
	return nil
}
