package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "greenhouse-cloud/internal/telemetry/domain"
)

const defaultTelemetryTable = "telemetry_updates"

// Schema creates the default telemetry table.
const Schema = `
CREATE TABLE IF NOT EXISTS telemetry_updates (
	zone_id     BIGINT           NOT NULL,
	node_id     BIGINT           NOT NULL,
	channel     TEXT             NOT NULL DEFAULT '',
	metric_type TEXT             NOT NULL,
	value       DOUBLE PRECISION NOT NULL,
	ts          TIMESTAMPTZ      NOT NULL,
	received_at TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
	PRIMARY KEY (zone_id, node_id, channel, metric_type, ts)
)`

// Sink writes admitted telemetry batches to Postgres.
type Sink struct {
	db    *sql.DB
	table string
}

// SinkOption configures the sink.
type SinkOption func(*Sink)

// WithTable overrides the default table name.
func WithTable(table string) SinkOption {
	return func(s *Sink) {
		if table != "" {
			s.table = table
		}
	}
}

// NewSink constructs a sink with the default table name.
func NewSink(db *sql.DB, opts ...SinkOption) *Sink {
	s := &Sink{db: db, table: defaultTelemetryTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the default table when missing.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("telemetry sink: nil db")
	}
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

// WriteBatch upserts the whole batch in one transaction.
func (s *Sink) WriteBatch(ctx context.Context, batch telemetry.Batch) error {
	if s == nil || s.db == nil {
		return errors.New("telemetry sink: nil db")
	}
	if len(batch) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	zone_id,
	node_id,
	channel,
	metric_type,
	value,
	ts
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (zone_id, node_id, channel, metric_type, ts)
DO UPDATE SET
	value = EXCLUDED.value,
	received_at = NOW()`, s.table)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, u := range batch {
		if _, err := stmt.ExecContext(
			ctx,
			u.ZoneID,
			u.NodeID,
			u.Channel,
			u.MetricType,
			u.Value,
			time.Unix(u.Timestamp, 0).UTC(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}
