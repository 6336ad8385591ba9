package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"cae-dispatcher/internal/audit"
	apperrors "cae-dispatcher/internal/common/errors"
)

// Postgres persists records in PostgreSQL through the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens and migrates a Postgres store using the given DSN.
func NewPostgres(dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, apperrors.ConfigError("postgres store requires a DSN")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return p, nil
}

func (p *Postgres) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS authorization_results (
			id BIGSERIAL PRIMARY KEY,
			job_id TEXT NOT NULL,
			work_ref TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			cae TEXT,
			cae_expiry TIMESTAMPTZ,
			error TEXT,
			attempts INTEGER NOT NULL,
			duration_ms BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_tenant ON authorization_results(tenant_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id BIGSERIAL PRIMARY KEY,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			scope TEXT,
			reason TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := p.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) SaveResult(ctx context.Context, record ResultRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO authorization_results
		 (job_id, work_ref, tenant_id, success, cae, cae_expiry, error, attempts, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.JobID, record.WorkRef, record.TenantID, record.Success,
		record.CAE, record.CAEExpiry, record.Error, record.Attempts,
		record.DurationMS, record.CreatedAt,
	)
	return err
}

func (p *Postgres) SaveAudit(ctx context.Context, entry audit.Entry) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO audit_entries (actor, action, scope, reason, at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.Actor, string(entry.Action), entry.Scope, entry.Reason, entry.At,
	)
	return err
}

func (p *Postgres) ListResults(ctx context.Context, tenantID string, limit int) ([]ResultRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if tenantID != "" {
		rows, err = p.db.QueryContext(ctx,
			`SELECT job_id, work_ref, tenant_id, success, cae, cae_expiry, error, attempts, duration_ms, created_at
			 FROM authorization_results WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`,
			tenantID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx,
			`SELECT job_id, work_ref, tenant_id, success, cae, cae_expiry, error, attempts, duration_ms, created_at
			 FROM authorization_results ORDER BY created_at DESC LIMIT $1`,
			limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanResults(rows)
}

func (p *Postgres) ListAudit(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT actor, action, scope, reason, at FROM audit_entries ORDER BY at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAudit(rows)
}

func (p *Postgres) Health() error {
	return p.db.Ping()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
