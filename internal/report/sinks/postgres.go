package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/report"
)

const defaultRunsTable = "mirror_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresSink appends one row per run to a history table.
type PostgresSink struct {
	pool  execCloser
	table string
}

var _ report.Sink = (*PostgresSink)(nil)

// NewPostgresSink opens a pool for dsn and creates the table if needed.
func NewPostgresSink(ctx context.Context, dsn, table string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("report.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sink, err := NewPostgresSinkWithPool(pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := sink.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return sink, nil
}

// NewPostgresSinkWithPool constructs a sink from an existing pool (primarily for testing).
func NewPostgresSinkWithPool(pool execCloser, table string) (*PostgresSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultRunsTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresSink{pool: pool, table: table}, nil
}

// Migrate creates the history table when it does not exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id          TEXT PRIMARY KEY,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ NOT NULL,
	status          TEXT NOT NULL,
	dry_run         BOOLEAN NOT NULL,
	prefix          TEXT NOT NULL,
	uploaded        INTEGER NOT NULL,
	skipped         INTEGER NOT NULL,
	deleted         INTEGER NOT NULL,
	failed          INTEGER NOT NULL,
	bytes_uploaded  BIGINT NOT NULL,
	error_message   TEXT,
	summary         JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Consume inserts the summary row.
func (s *PostgresSink) Consume(ctx context.Context, summary report.Summary) error {
	if summary.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	var errMsg *string
	if summary.Error != "" {
		errMsg = &summary.Error
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	started_at,
	finished_at,
	status,
	dry_run,
	prefix,
	uploaded,
	skipped,
	deleted,
	failed,
	bytes_uploaded,
	error_message,
	summary
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`, s.table)

	args := []any{
		summary.RunID,
		summary.StartedAt,
		summary.FinishedAt,
		string(summary.Status),
		summary.DryRun,
		summary.Prefix,
		summary.Uploaded,
		summary.Skipped,
		summary.Deleted,
		summary.FailedCount(),
		summary.BytesUploaded,
		errMsg,
		payload,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PostgresSink) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
