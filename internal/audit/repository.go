package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultAuditTable = "audit_logs"

// Schema creates the default audit table.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id             TEXT        PRIMARY KEY,
	actor          TEXT        NOT NULL,
	action         TEXT        NOT NULL,
	resource_type  TEXT        NOT NULL,
	resource_id    TEXT        NOT NULL,
	zone_id        BIGINT,
	metadata       JSONB,
	payload_digest TEXT        NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_logs_resource_idx ON audit_logs (resource_type, resource_id, created_at)`

// Repository writes audit logs to Postgres.
type Repository struct {
	db    *sql.DB
	table string
}

// Option configures the repository.
type Option func(*Repository)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(r *Repository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB, opts ...Option) *Repository {
	if db == nil {
		return nil
	}
	r := &Repository{db: db, table: defaultAuditTable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureSchema creates the default table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, Schema)
	return err
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry.normalize(time.Now())

	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = []byte(entry.Metadata)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, actor, action, resource_type, resource_id, zone_id,
	metadata, payload_digest, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, r.table)
	_, err := r.db.ExecContext(ctx, query, entry.ID, entry.Actor, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.ZoneID, metadata, entry.PayloadDigest, entry.CreatedAt)
	return err
}
