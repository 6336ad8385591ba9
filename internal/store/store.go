// Package store persists terminal authorization outcomes and operator
// audit records. The dispatcher itself stays stateless; the store is the
// downstream sink a restart rebuilds from.
package store

import (
	"context"
	"fmt"
	"time"

	"cae-dispatcher/internal/audit"
	apperrors "cae-dispatcher/internal/common/errors"
	"cae-dispatcher/internal/processor"
)

// ResultRecord is one persisted terminal outcome.
type ResultRecord struct {
	JobID      string    `json:"job_id"`
	WorkRef    string    `json:"work_ref"`
	TenantID   string    `json:"tenant_id"`
	Success    bool      `json:"success"`
	CAE        string    `json:"cae,omitempty"`
	CAEExpiry  time.Time `json:"cae_expiry,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecordFromResult converts a processor result for persistence.
func RecordFromResult(result processor.Result) ResultRecord {
	record := ResultRecord{
		JobID:      result.JobID,
		WorkRef:    result.WorkRef,
		TenantID:   result.TenantID,
		Success:    result.Success,
		Error:      result.Error,
		Attempts:   result.Attempts,
		DurationMS: result.Duration.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if result.Payload != nil {
		record.CAE = result.Payload.CAE
		record.CAEExpiry = result.Payload.CAEExpiry
	}
	return record
}

// Store is the outcome/audit persistence contract.
type Store interface {
	SaveResult(ctx context.Context, record ResultRecord) error
	SaveAudit(ctx context.Context, entry audit.Entry) error
	ListResults(ctx context.Context, tenantID string, limit int) ([]ResultRecord, error)
	ListAudit(ctx context.Context, limit int) ([]audit.Entry, error)
	Health() error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is sqlite or postgres
	Backend string
	// Path is the sqlite database file
	Path string
	// DSN is the postgres connection string
	DSN string
}

// New creates the configured store backend.
func New(config Config) (Store, error) {
	switch config.Backend {
	case "sqlite":
		return NewSQLite(config.Path)
	case "postgres":
		return NewPostgres(config.DSN)
	default:
		return nil, apperrors.ConfigError(fmt.Sprintf("unsupported store backend: %s", config.Backend))
	}
}
