package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends to audit_events. The table carries no UPDATE or
// DELETE path in this service.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const createTable = `
CREATE TABLE IF NOT EXISTS audit_events (
  id            TEXT PRIMARY KEY,
  tenant_id     TEXT NOT NULL,
  type          TEXT NOT NULL,
  actor_user_id TEXT NOT NULL DEFAULT '',
  actor_role    TEXT NOT NULL DEFAULT '',
  ip_address    TEXT NOT NULL DEFAULT '',
  resource      TEXT NOT NULL DEFAULT '',
  resource_id   TEXT NOT NULL DEFAULT '',
  call_id       TEXT NOT NULL DEFAULT '',
  message       TEXT NOT NULL DEFAULT '',
  metadata      JSONB,
  created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_tenant_time ON audit_events (tenant_id, created_at);
`

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, tenant_id, type, actor_user_id, actor_role, ip_address,
  resource, resource_id, call_id, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	var metadata any
	if e.Metadata != "" {
		metadata = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.TenantID,
		e.Type,
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.Resource,
		e.ResourceID,
		e.CallID,
		e.Message,
		metadata,
		e.CreatedAt,
	)
	return err
}
