package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS operation_audit (
    id          UUID PRIMARY KEY,
    container   TEXT NOT NULL,
    op          TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    detail      TEXT NOT NULL DEFAULT '',
    duration_ms BIGINT NOT NULL,
    at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS operation_audit_container_at
    ON operation_audit (container, at DESC);
`

// PostgresAudit implements AuditLog backed by a pgxpool connection.
type PostgresAudit struct {
	pool *pgxpool.Pool
}

// NewPostgresAudit connects to the database, verifies connectivity,
// and ensures the audit table exists.
func NewPostgresAudit(ctx context.Context, databaseURL string) (*PostgresAudit, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, auditSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	return &PostgresAudit{pool: pool}, nil
}

// Record inserts one operation entry.
func (s *PostgresAudit) Record(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO operation_audit (id, container, op, outcome, detail, duration_ms, at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q,
		e.ID, e.Container, e.Op, e.Outcome, e.Detail, e.Duration.Milliseconds(), e.At)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresAudit) Close() {
	s.pool.Close()
}
