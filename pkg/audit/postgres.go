package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	retry "github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/types"
)

const auditTable = "audit_events"

const createTableSQL = `
create table if not exists audit_events (
	id           bigserial primary key,
	actor        text not null,
	actor_type   text not null,
	event        text not null,
	subject_type text not null default '',
	subject_id   text not null default '',
	ip           text not null default '',
	metadata     jsonb not null default '{}',
	created_at   timestamptz not null
);
create index if not exists audit_events_subject_idx on audit_events (subject_type, subject_id);
`

// execer is the part of *pgxpool.Pool the sink uses
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresSink mirrors audit events into a Postgres table for querying
// outside the control plane
type PostgresSink struct {
	db       execer
	pool     *pgxpool.Pool
	attempts uint
	delay    time.Duration
}

// NewPostgresSink connects to databaseURL, verifies the connection and
// creates the audit table if needed
func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}

	sink := newPostgresSink(pool)
	sink.pool = pool
	return sink, nil
}

func newPostgresSink(db execer) *PostgresSink {
	return &PostgresSink{
		db:       db,
		attempts: 3,
		delay:    100 * time.Millisecond,
	}
}

func (s *PostgresSink) Record(ctx context.Context, event *types.AuditEvent) error {
	sql, args, err := insertQuery(event)
	if err != nil {
		return err
	}

	err = retry.Do(
		func() error {
			_, err := s.db.Exec(ctx, sql, args...)
			return err
		},
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		metrics.AuditWriteFailures.WithLabelValues("postgres").Inc()
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (s *PostgresSink) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func insertQuery(event *types.AuditEvent) (string, []interface{}, error) {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode audit metadata: %w", err)
	}

	sql, args, err := squirrel.Insert(auditTable).
		Columns("actor", "actor_type", "event", "subject_type", "subject_id", "ip", "metadata", "created_at").
		Values(
			event.Actor,
			string(event.ActorType),
			event.Event,
			event.SubjectType,
			event.SubjectID,
			event.IP,
			string(metadataJSON),
			event.Timestamp,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to create db request: %w", err)
	}
	return sql, args, nil
}
