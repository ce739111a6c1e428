// Package eventlog implements EventLog (spec.md §4.2): an append-only log
// of typed task events with idempotency-key dedup and ordered reads.
// Grounded on the teacher's domain/task event shape and on the
// sequence-ordered, restartable scan pattern of the pack's
// matgreaves-rig EventLog (Subscribe/Since/sliceSince).
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"alex/internal/apperr"
	"alex/internal/logging"
	"alex/internal/store"
	"alex/internal/task"
)

// Log is the EventLog component. It has no state of its own beyond the
// store handle: every operation either runs inside a caller-supplied
// transaction (Append) or issues its own read against the pool (the Read
// operations).
type Log struct {
	db     *store.Store
	logger logging.Logger
}

func New(db *store.Store, logger logging.Logger) *Log {
	return &Log{db: db, logger: logging.OrNop(logger)}
}

// Append constructs an event with a new id and the current UTC timestamp
// and writes one row inside the caller's transaction scope q. If the event
// carries an idempotency key that's already present, the existing row is
// returned unchanged and no insert is attempted. On a race between two
// concurrent appends sharing a key, the losing writer's unique-constraint
// violation is caught and the winner's row is read back and returned —
// this is not surfaced as an error (spec.md §4.2/§8).
func (l *Log) Append(ctx context.Context, q store.Queryer, ev task.Event) (task.Event, error) {
	if ev.IdempotencyKey != "" {
		existing, found, err := l.findByKey(ctx, q, ev.IdempotencyKey)
		if err != nil {
			return task.Event{}, err
		}
		if found {
			return existing, nil
		}
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.OccurredAt = time.Now().UTC()

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return task.Event{}, apperr.NewInternal(err)
	}

	const insertSQL = `
INSERT INTO task_events (id, task_id, event_type, event_data, actor, occurred_at, correlation_id, idempotency_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = q.Exec(ctx, insertSQL,
		ev.ID, ev.TaskID, string(ev.EventType), data, ev.Actor, ev.OccurredAt,
		nullableString(ev.CorrelationID), nullableString(ev.IdempotencyKey))
	if err != nil {
		if store.IsUniqueViolation(err) && ev.IdempotencyKey != "" {
			existing, found, findErr := l.findByKey(ctx, q, ev.IdempotencyKey)
			if findErr != nil {
				return task.Event{}, findErr
			}
			if found {
				return existing, nil
			}
		}
		return task.Event{}, classifyExec(err)
	}
	return ev, nil
}

func (l *Log) findByKey(ctx context.Context, q store.Queryer, key string) (task.Event, bool, error) {
	const sql = `
SELECT id, task_id, event_type, event_data, actor, occurred_at, correlation_id, idempotency_key
FROM task_events WHERE idempotency_key = $1`
	row := q.QueryRow(ctx, sql, key)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return task.Event{}, false, nil
	}
	if err != nil {
		return task.Event{}, false, classifyExec(err)
	}
	return ev, true, nil
}

// EventsFor returns events for one task, ascending by occurred_at then id,
// optionally narrowed by a half-open [since,until) window, an event-type
// allow-list, and capped at limit (0 means no cap).
func (l *Log) EventsFor(ctx context.Context, taskID string, since, until *time.Time, types []task.EventType, limit int) ([]task.Event, error) {
	sql := `
SELECT id, task_id, event_type, event_data, actor, occurred_at, correlation_id, idempotency_key
FROM task_events WHERE task_id = $1`
	args := []any{taskID}
	if since != nil {
		args = append(args, *since)
		sql += " AND occurred_at >= $" + strconv.Itoa(len(args))
	}
	if until != nil {
		args = append(args, *until)
		sql += " AND occurred_at < $" + strconv.Itoa(len(args))
	}
	if len(types) > 0 {
		args = append(args, eventTypeStrings(types))
		sql += " AND event_type = ANY($" + strconv.Itoa(len(args)) + ")"
	}
	sql += " ORDER BY occurred_at ASC, id ASC"
	if limit > 0 {
		args = append(args, limit)
		sql += " LIMIT $" + strconv.Itoa(len(args))
	}
	return l.query(ctx, sql, args)
}

// EventsByCorrelation returns every event sharing correlation_id, ascending,
// across all tasks.
func (l *Log) EventsByCorrelation(ctx context.Context, correlationID string) ([]task.Event, error) {
	const sql = `
SELECT id, task_id, event_type, event_data, actor, occurred_at, correlation_id, idempotency_key
FROM task_events WHERE correlation_id = $1 ORDER BY occurred_at ASC, id ASC`
	return l.query(ctx, sql, []any{correlationID})
}

// EventsByType returns events of one type, most-recent-first, optionally
// since a point in time, capped at limit (0 means no cap).
func (l *Log) EventsByType(ctx context.Context, t task.EventType, since *time.Time, limit int) ([]task.Event, error) {
	sql := `
SELECT id, task_id, event_type, event_data, actor, occurred_at, correlation_id, idempotency_key
FROM task_events WHERE event_type = $1`
	args := []any{string(t)}
	if since != nil {
		args = append(args, *since)
		sql += " AND occurred_at >= $" + strconv.Itoa(len(args))
	}
	sql += " ORDER BY occurred_at DESC, id DESC"
	if limit > 0 {
		args = append(args, limit)
		sql += " LIMIT $" + strconv.Itoa(len(args))
	}
	return l.query(ctx, sql, args)
}

// Iterator is a lazy, restartable, chunked scan over the full log intended
// for exporters. Each call to Next returns up to batch events; the
// iterator signals completion (done=true) when a short batch is seen,
// matching spec.md §4.2. The cursor is the last id of the previous batch,
// not held open between calls — concurrent iterators never interfere.
type Iterator struct {
	l       *Log
	since   *time.Time
	cursor  string
	batch   int
}

// IterateAll returns a restartable iterator starting at since (nil means
// the beginning of the log).
func (l *Log) IterateAll(since *time.Time, batch int) *Iterator {
	if batch <= 0 {
		batch = 500
	}
	return &Iterator{l: l, since: since, batch: batch}
}

// Next returns the next batch of events (id ascending) and whether the
// scan is done (a short or empty batch was returned).
func (it *Iterator) Next(ctx context.Context) (events []task.Event, done bool, err error) {
	sql := `
SELECT id, task_id, event_type, event_data, actor, occurred_at, correlation_id, idempotency_key
FROM task_events WHERE 1=1`
	args := []any{}
	if it.since != nil {
		args = append(args, *it.since)
		sql += " AND occurred_at >= $" + strconv.Itoa(len(args))
	}
	if it.cursor != "" {
		args = append(args, it.cursor)
		sql += " AND id > $" + strconv.Itoa(len(args))
	}
	sql += " ORDER BY id ASC"
	args = append(args, it.batch)
	sql += " LIMIT $" + strconv.Itoa(len(args))

	events, err = it.l.query(ctx, sql, args)
	if err != nil {
		return nil, false, err
	}
	if len(events) > 0 {
		it.cursor = events[len(events)-1].ID
	}
	return events, len(events) < it.batch, nil
}

func (l *Log) query(ctx context.Context, sql string, args []any) ([]task.Event, error) {
	var out []task.Event
	err := l.db.Fetch(ctx, sql, args, func(rows pgx.Rows) error {
		for rows.Next() {
			ev, err := scanEvent(rows)
			if err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (task.Event, error) {
	var (
		ev            task.Event
		eventType     string
		data          []byte
		correlationID *string
		idempotency   *string
	)
	if err := row.Scan(&ev.ID, &ev.TaskID, &eventType, &data, &ev.Actor, &ev.OccurredAt, &correlationID, &idempotency); err != nil {
		return task.Event{}, err
	}
	ev.EventType = task.EventType(eventType)
	if correlationID != nil {
		ev.CorrelationID = *correlationID
	}
	if idempotency != nil {
		ev.IdempotencyKey = *idempotency
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ev.Data); err != nil {
			return task.Event{}, apperr.NewInternal(err)
		}
	}
	return ev, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func eventTypeStrings(types []task.EventType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func classifyExec(err error) error {
	if store.IsUniqueViolation(err) {
		return apperr.NewConflict("idempotency_key", "duplicate event")
	}
	return apperr.NewFatalDB(err)
}
