// Package store implements RelationalStore (spec.md §4.1): a connection
// pool over PostgreSQL with scoped acquisition, four query shapes, a health
// probe, and pool metrics. Grounded on the teacher's pgxpool-backed
// repositories (internal/auth/adapters/postgres_store.go).
package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"alex/internal/apperr"
	"alex/internal/config"
	"alex/internal/logging"
)

// tracer emits spans around scoped transaction acquisition, mirroring the
// teacher's instrumentation around its own pooled-connection repositories.
var tracer = otel.Tracer("alex/internal/store")

// Status is the RelationalStore connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "DISCONNECTED"
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
)

// PoolMetrics is the health-probe snapshot of current pool occupancy.
type PoolMetrics struct {
	Size    int32
	Idle    int32
	MinSize int32
	MaxSize int32
}

// Store is a scoped-acquisition connection pool. The zero value is not
// usable; construct with Open.
type Store struct {
	pool   *pgxpool.Pool
	cfg    config.Database
	logger logging.Logger
	status Status
}

// Open connects to the database described by cfg. The TLS mode controls
// whether pgx negotiates TLS at all (disable), tries and falls back
// (prefer), or requires it (require).
func Open(ctx context.Context, cfg config.Database, logger logging.Logger) (*Store, error) {
	logger = logging.OrNop(logger)
	s := &Store{cfg: cfg, logger: logger, status: StatusConnecting}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, apperr.NewFatalDB(fmt.Errorf("parse dsn: %w", err))
	}
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns
	if cfg.ConnTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnTimeout
	}
	applyTLSMode(poolCfg.ConnConfig, cfg.TLSMode)

	connectCtx := ctx
	var cancel context.CancelFunc
	if cfg.ConnTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		s.status = StatusDisconnected
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.NewTransientDB(err)
		}
		return nil, apperr.NewFatalDB(err)
	}
	s.pool = pool
	s.status = StatusConnected
	logger.Info("relational store connected: min=%d max=%d tls=%s", cfg.MinConns, cfg.MaxConns, cfg.TLSMode)
	return s, nil
}

func applyTLSMode(cc *pgx.ConnConfig, mode config.TLSMode) {
	switch mode {
	case config.TLSDisable:
		cc.TLSConfig = nil
	case config.TLSRequire:
		if cc.TLSConfig == nil {
			cc.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		fallbacks := cc.Fallbacks[:0]
		for _, fb := range cc.Fallbacks {
			if fb.TLSConfig != nil {
				fallbacks = append(fallbacks, fb)
			}
		}
		cc.Fallbacks = fallbacks
	case config.TLSPrefer:
		// pgx's default behavior (attempt TLS, fall back to plaintext) is
		// preserved by leaving TLSConfig untouched when one was already
		// derived from the DSN.
	}
}

// schemaDDL creates the tables TaskStore and EventLog depend on, the
// minimal bootstrapping contract every other RelationalStore consumer
// needs (spec.md's one-shot migration utility itself is out of scope, but
// something has to create these tables — SPEC_FULL §4, grounded on the
// teacher's idempotent task.Store.EnsureSchema convention).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	repository   TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	priority     TEXT NOT NULL,
	assignee     TEXT NOT NULL DEFAULT '',
	tags         TEXT[] NOT NULL DEFAULT '{}',
	metadata     JSONB NOT NULL DEFAULT '{}',
	due_date     TIMESTAMPTZ,
	external_id  TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	created_by   TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS tasks_external_id_idx ON tasks (external_id) WHERE external_id IS NOT NULL AND external_id != '';
CREATE INDEX IF NOT EXISTS tasks_repository_idx ON tasks (repository);
CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks (status);

CREATE TABLE IF NOT EXISTS task_events (
	id              TEXT PRIMARY KEY,
	task_id         TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	event_data      JSONB NOT NULL DEFAULT '{}',
	actor           TEXT NOT NULL DEFAULT '',
	occurred_at     TIMESTAMPTZ NOT NULL,
	correlation_id  TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS task_events_idempotency_key_idx ON task_events (idempotency_key) WHERE idempotency_key IS NOT NULL AND idempotency_key != '';
CREATE INDEX IF NOT EXISTS task_events_task_id_idx ON task_events (task_id);
CREATE INDEX IF NOT EXISTS task_events_correlation_id_idx ON task_events (correlation_id);
`

// EnsureSchema applies schemaDDL. It is idempotent and safe to call on
// every process start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return apperr.NewFatalDB(err)
	}
	return nil
}

// Status reports the current connection lifecycle state.
func (s *Store) Status() Status { return s.status }

// Close releases the pool and transitions to DISCONNECTED.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	s.status = StatusDisconnected
}

// HealthProbe runs a trivial round-trip and returns current pool metrics.
func (s *Store) HealthProbe(ctx context.Context) (PoolMetrics, error) {
	if err := s.pool.Ping(ctx); err != nil {
		s.status = StatusDisconnected
		return PoolMetrics{}, classify(err)
	}
	stat := s.pool.Stat()
	return PoolMetrics{
		Size:    stat.TotalConns(),
		Idle:    stat.IdleConns(),
		MinSize: s.cfg.MinConns,
		MaxSize: s.cfg.MaxConns,
	}, nil
}

// Queryer is the subset of pgx's query surface a scoped acquisition or
// transaction exposes. TaskStore and EventLog depend on this, not *Store
// directly, so tests can substitute a fake without a real database.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Execute runs a statement where only the status matters.
func (s *Store) Execute(ctx context.Context, sql string, args ...any) error {
	_, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return classify(err)
	}
	return nil
}

// Fetch runs a statement returning zero or more rows into scan.
func (s *Store) Fetch(ctx context.Context, sql string, args []any, scan func(pgx.Rows) error) error {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()
	if err := scan(rows); err != nil {
		return err
	}
	return classify(rows.Err())
}

// FetchOne runs a statement expected to return zero or one row.
// Returns apperr NOT_FOUND when no row matched.
func (s *Store) FetchOne(ctx context.Context, sql string, args []any, scan func(pgx.Row) error) error {
	row := s.pool.QueryRow(ctx, sql, args...)
	err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NewNotFound("no matching row")
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

// FetchScalar runs a statement returning a single scalar value.
func (s *Store) FetchScalar(ctx context.Context, sql string, args []any, dest any) error {
	return s.FetchOne(ctx, sql, args, func(row pgx.Row) error {
		return row.Scan(dest)
	})
}

// TxFunc receives a Queryer bound to one connection for the scope's
// lifetime. Returning an error rolls back; returning nil commits.
type TxFunc func(ctx context.Context, q Queryer) error

// WithTransaction acquires one connection and wraps fn in a transaction
// that commits on success and rolls back on error or panic. Nested scopes
// are not supported — calling WithTransaction again with a Queryer
// obtained from an outer scope is a caller bug, not guarded against here,
// matching spec.md §4.1.
func (s *Store) WithTransaction(ctx context.Context, timeout time.Duration, fn TxFunc) (err error) {
	ctx, span := tracer.Start(ctx, "store.WithTransaction")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	scopeCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		scopeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, acqErr := s.pool.Acquire(scopeCtx)
	if acqErr != nil {
		return classify(acqErr)
	}
	defer conn.Release()

	tx, txErr := conn.Begin(scopeCtx)
	if txErr != nil {
		return classify(txErr)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(scopeCtx)
			panic(p)
		}
	}()

	if err = fn(scopeCtx, tx); err != nil {
		_ = tx.Rollback(scopeCtx)
		return err
	}
	if cErr := tx.Commit(scopeCtx); cErr != nil {
		err = classify(cErr)
		return err
	}
	return nil
}

// classify maps a pgx/driver error onto the engine's error taxonomy:
// deadline/cancellation errors and SQLSTATE 57014, 53300, 08006, 08001 and
// 08004 become TRANSIENT_DB, everything else FATAL_DB, both carrying the
// original message, per spec.md §4.1.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.NewTransientDB(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57014", "53300", "08006", "08001", "08004":
			// query_canceled, too_many_connections, connection failures
			return apperr.NewTransientDB(err)
		}
	}
	return apperr.NewFatalDB(err)
}

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (SQLSTATE 23505), the signal TaskStore/EventLog use to turn a
// duplicate insert into a CONFLICT or an idempotent no-op.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
