package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"cae-dispatcher/internal/audit"
)

// SQLite persists records in a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens and migrates a SQLite store at the given path.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "dispatcher.db"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS authorization_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			work_ref TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			success INTEGER NOT NULL,
			cae TEXT,
			cae_expiry TIMESTAMP,
			error TEXT,
			attempts INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_tenant ON authorization_results(tenant_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			scope TEXT,
			reason TEXT NOT NULL,
			at TIMESTAMP NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) SaveResult(ctx context.Context, record ResultRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO authorization_results
		 (job_id, work_ref, tenant_id, success, cae, cae_expiry, error, attempts, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.JobID, record.WorkRef, record.TenantID, record.Success,
		record.CAE, record.CAEExpiry, record.Error, record.Attempts,
		record.DurationMS, record.CreatedAt,
	)
	return err
}

func (s *SQLite) SaveAudit(ctx context.Context, entry audit.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (actor, action, scope, reason, at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Actor, string(entry.Action), entry.Scope, entry.Reason, entry.At,
	)
	return err
}

func (s *SQLite) ListResults(ctx context.Context, tenantID string, limit int) ([]ResultRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT job_id, work_ref, tenant_id, success, cae, cae_expiry, error, attempts, duration_ms, created_at
		  FROM authorization_results`
	args := []interface{}{}
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanResults(rows)
}

func (s *SQLite) ListAudit(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT actor, action, scope, reason, at FROM audit_entries ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAudit(rows)
}

func (s *SQLite) Health() error {
	return s.db.Ping()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func scanResults(rows *sql.Rows) ([]ResultRecord, error) {
	var records []ResultRecord
	for rows.Next() {
		var record ResultRecord
		var cae, errMsg sql.NullString
		var expiry sql.NullTime
		if err := rows.Scan(
			&record.JobID, &record.WorkRef, &record.TenantID, &record.Success,
			&cae, &expiry, &errMsg, &record.Attempts, &record.DurationMS, &record.CreatedAt,
		); err != nil {
			return nil, err
		}
		record.CAE = cae.String
		record.Error = errMsg.String
		if expiry.Valid {
			record.CAEExpiry = expiry.Time
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanAudit(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var entry audit.Entry
		var action string
		var scope sql.NullString
		if err := rows.Scan(&entry.Actor, &action, &scope, &entry.Reason, &entry.At); err != nil {
			return nil, err
		}
		entry.Action = audit.Action(action)
		entry.Scope = scope.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
