// Package taskstore implements TaskStore (spec.md §4.3): the task write
// path. Every mutation is a single transaction that writes the row change
// and appends the matching event in the same scope, grounded on the
// teacher's postgres repository style (internal/auth/adapters/postgres_store.go)
// and its domain/task.Store interface shape.
package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"alex/internal/apperr"
	"alex/internal/eventlog"
	"alex/internal/logging"
	"alex/internal/store"
	"alex/internal/task"
)

// DependencyGraph is the subset of DependencyGraph's public contract that
// TaskStore delegates its dependency helpers to (spec.md §4.3's
// AddDependency/RemoveDependency/Dependencies/Dependents). Defined locally
// to avoid a taskstore<->depgraph import cycle — depgraph.Graph satisfies
// this interface structurally.
type DependencyGraph interface {
	Create(ctx context.Context, source, target string, typ task.DependencyType) (task.Dependency, error)
	Remove(edgeID string) bool
	DependenciesFor(taskID string) []task.Dependency
	Dependents(taskID string) []task.Dependency
	UpdateAll(ctx context.Context, statuses map[string]task.Status) (int, error)
}

// Store is the TaskStore component.
type Store struct {
	db     *store.Store
	events *eventlog.Log
	logger logging.Logger
	graph  DependencyGraph
}

func New(db *store.Store, events *eventlog.Log, logger logging.Logger) *Store {
	return &Store{db: db, events: events, logger: logging.OrNop(logger)}
}

// SetGraph wires the DependencyGraph after construction, breaking the
// taskstore<->depgraph initialization cycle (depgraph.New needs a
// TaskLookup that is usually this very *Store).
func (s *Store) SetGraph(g DependencyGraph) { s.graph = g }

// Get satisfies depgraph.TaskLookup so a *Store can seed a DependencyGraph.
func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	const sql = `
SELECT id, title, repository, description, status, priority, assignee, tags,
       metadata, due_date, external_id, created_at, updated_at, completed_at, created_by
FROM tasks WHERE id = $1`
	var t task.Task
	err := s.db.FetchOne(ctx, sql, []any{id}, func(row pgx.Row) error {
		return scanTask(row, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByExternalID returns nil (no error) when no task carries that external id.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*task.Task, error) {
	const sql = `
SELECT id, title, repository, description, status, priority, assignee, tags,
       metadata, due_date, external_id, created_at, updated_at, completed_at, created_by
FROM tasks WHERE external_id = $1`
	var t task.Task
	err := s.db.FetchOne(ctx, sql, []any{externalID}, func(row pgx.Row) error {
		return scanTask(row, &t)
	})
	if apperr.KindOf(err) == apperr.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// List runs a dynamically built query against Filter (repository/status/
// priority/assignee equality, ALL-match tags, a trigram-friendly ILIKE
// search over title+description, and due/created range bounds), ordered
// descending by created_at with id as tiebreaker, paginated by
// limit/offset. Categorical status/priority ordering is the Filter
// projection's concern (internal/projection), not TaskStore's.
func (s *Store) List(ctx context.Context, f task.Filter) ([]*task.Task, error) {
	sql, args := buildFilterQuery(f, false)
	var out []*task.Task
	err := s.db.Fetch(ctx, sql, args, func(rows pgx.Rows) error {
		for rows.Next() {
			var t task.Task
			if err := scanTask(rows, &t); err != nil {
				return err
			}
			out = append(out, &t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count mirrors List's WHERE clause without pagination or ordering.
func (s *Store) Count(ctx context.Context, f task.Filter) (int, error) {
	sql, args := buildFilterQuery(f, true)
	var n int
	if err := s.db.FetchScalar(ctx, sql, args, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func buildFilterQuery(f task.Filter, countOnly bool) (string, []any) {
	cols := `id, title, repository, description, status, priority, assignee, tags,
       metadata, due_date, external_id, created_at, updated_at, completed_at, created_by`
	sql := "SELECT " + cols + " FROM tasks WHERE 1=1"
	if countOnly {
		sql = "SELECT count(*) FROM tasks WHERE 1=1"
	}
	var args []any
	add := func(clause string, val any) {
		args = append(args, val)
		sql += " AND " + clause + " $" + strconv.Itoa(len(args))
	}
	if f.Repository != "" {
		add("repository =", f.Repository)
	}
	if f.Status != "" {
		add("status =", string(f.Status))
	}
	if f.Priority != "" {
		add("priority =", string(f.Priority))
	}
	if f.Assignee != "" {
		add("assignee =", f.Assignee)
	}
	if len(f.Tags) > 0 {
		add("tags @>", f.Tags)
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		sql += " AND (title ILIKE $" + strconv.Itoa(len(args)) + " OR description ILIKE $" + strconv.Itoa(len(args)) + ")"
	}
	if f.DueBefore != nil {
		add("due_date <", *f.DueBefore)
	}
	if f.DueAfter != nil {
		add("due_date >", *f.DueAfter)
	}
	if f.CreatedAfter != nil {
		add("created_at >", *f.CreatedAfter)
	}
	if !countOnly {
		sql += ` ORDER BY created_at DESC, id DESC`
		if f.Limit > 0 {
			args = append(args, f.Limit)
			sql += " LIMIT $" + strconv.Itoa(len(args))
		}
		if f.Offset > 0 {
			args = append(args, f.Offset)
			sql += " OFFSET $" + strconv.Itoa(len(args))
		}
	}
	return sql, args
}

// Create validates the draft, assigns id/timestamps, defaults status to
// pending and priority to medium, writes the row and a CREATED event in one
// transaction.
func (s *Store) Create(ctx context.Context, d task.Draft) (*task.Task, error) {
	if err := task.ValidateDraft(d); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t := &task.Task{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(d.Title),
		Repository:  d.Repository,
		Description: d.Description,
		Status:      task.StatusPending,
		Priority:    d.Priority,
		Assignee:    d.Assignee,
		Tags:        d.Tags,
		Metadata:    d.Metadata,
		DueDate:     d.DueDate,
		ExternalID:  d.ExternalID,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   d.CreatedBy,
	}
	if t.Priority == "" {
		t.Priority = task.PriorityMedium
	}

	metadataJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}

	err = s.db.WithTransaction(ctx, 10*time.Second, func(ctx context.Context, q store.Queryer) error {
		const insertSQL = `
INSERT INTO tasks (id, title, repository, description, status, priority, assignee, tags,
                    metadata, due_date, external_id, created_at, updated_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
		_, err := q.Exec(ctx, insertSQL,
			t.ID, t.Title, t.Repository, t.Description, string(t.Status), string(t.Priority),
			nullableString(t.Assignee), t.Tags, metadataJSON, t.DueDate, nullableString(t.ExternalID),
			t.CreatedAt, t.UpdatedAt, nullableString(t.CreatedBy))
		if err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.NewConflict("external_id", "external_id already in use")
			}
			return apperr.NewFatalDB(err)
		}

		_, err = s.events.Append(ctx, q, task.Event{
			TaskID:    t.ID,
			EventType: task.EventCreated,
			Actor:     d.CreatedBy,
			Data: map[string]any{
				"title": t.Title, "repository": t.Repository, "status": string(t.Status),
				"priority": string(t.Priority),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Update applies a dynamic column list containing only the fields present
// in patch, writes an UPDATED event carrying only the changed fields plus
// logical hints (new_status/new_priority), and fixes completed_at when the
// status transitions to completed.
func (s *Store) Update(ctx context.Context, id string, patch task.Patch, actor string) (*task.Task, error) {
	var updated *task.Task
	err := s.db.WithTransaction(ctx, 10*time.Second, func(ctx context.Context, q store.Queryer) error {
		current, err := s.getForUpdate(ctx, q, id)
		if err != nil {
			return err
		}

		sets := []string{}
		args := []any{}
		changed := map[string]any{}
		addSet := func(col string, val any) {
			args = append(args, val)
			sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
		}

		if patch.Title != nil {
			current.Title = *patch.Title
			addSet("title", current.Title)
			changed["title"] = current.Title
		}
		if patch.Description != nil {
			current.Description = *patch.Description
			addSet("description", current.Description)
			changed["description"] = current.Description
		}
		if patch.Status != nil {
			current.Status = *patch.Status
			addSet("status", string(current.Status))
			changed["new_status"] = string(current.Status)
			if current.Status == task.StatusCompleted {
				now := time.Now().UTC()
				current.CompletedAt = &now
				addSet("completed_at", now)
				changed["completed_at"] = now
			}
		}
		if patch.Priority != nil {
			current.Priority = *patch.Priority
			addSet("priority", string(current.Priority))
			changed["new_priority"] = string(current.Priority)
		}
		if patch.Assignee != nil {
			current.Assignee = *patch.Assignee
			addSet("assignee", nullableString(current.Assignee))
			changed["assignee"] = current.Assignee
		}
		if patch.Tags != nil {
			current.Tags = *patch.Tags
			addSet("tags", current.Tags)
			changed["tags"] = current.Tags
		}
		if patch.Metadata != nil {
			current.Metadata = patch.Metadata
			data, mErr := json.Marshal(current.Metadata)
			if mErr != nil {
				return apperr.NewInternal(mErr)
			}
			addSet("metadata", data)
			changed["metadata"] = current.Metadata
		}
		if patch.DueDate != nil {
			current.DueDate = *patch.DueDate
			addSet("due_date", current.DueDate)
			changed["due_date"] = current.DueDate
		}
		if patch.ExternalID != nil {
			current.ExternalID = *patch.ExternalID
			addSet("external_id", nullableString(current.ExternalID))
			changed["external_id"] = current.ExternalID
		}

		if len(sets) == 0 {
			updated = current
			return nil
		}

		current.UpdatedAt = time.Now().UTC()
		addSet("updated_at", current.UpdatedAt)
		args = append(args, id)

		sql := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = $" + strconv.Itoa(len(args))
		tag, err := q.Exec(ctx, sql, args...)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.NewConflict("external_id", "external_id already in use")
			}
			return apperr.NewFatalDB(err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.NewNotFound("task %s not found", id)
		}

		_, err = s.events.Append(ctx, q, task.Event{
			TaskID: id, EventType: task.EventUpdated, Actor: actor, Data: changed,
		})
		if err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	if patch.Status != nil && s.graph != nil {
		if _, gErr := s.graph.UpdateAll(ctx, map[string]task.Status{id: *patch.Status}); gErr != nil {
			s.logger.Warn("dependency graph status propagation failed: %v", gErr)
		}
	}
	return updated, nil
}

// Delete appends a DELETED event then removes the row. The event is
// retained for history; subsequent Get calls return NOT_FOUND.
func (s *Store) Delete(ctx context.Context, id string, actor string) error {
	return s.db.WithTransaction(ctx, 10*time.Second, func(ctx context.Context, q store.Queryer) error {
		if _, err := s.getForUpdate(ctx, q, id); err != nil {
			return err
		}
		if _, err := s.events.Append(ctx, q, task.Event{
			TaskID: id, EventType: task.EventDeleted, Actor: actor,
		}); err != nil {
			return err
		}
		tag, err := q.Exec(ctx, "DELETE FROM tasks WHERE id = $1", id)
		if err != nil {
			return apperr.NewFatalDB(err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.NewNotFound("task %s not found", id)
		}
		return nil
	})
}

// CreateBatch runs every draft's insert inside one transaction; any
// validation failure aborts the whole batch.
func (s *Store) CreateBatch(ctx context.Context, drafts []task.Draft, actor string) ([]*task.Task, error) {
	for _, d := range drafts {
		if err := task.ValidateDraft(d); err != nil {
			return nil, err
		}
	}
	var created []*task.Task
	err := s.db.WithTransaction(ctx, 20*time.Second, func(ctx context.Context, q store.Queryer) error {
		now := time.Now().UTC()
		for _, d := range drafts {
			t := &task.Task{
				ID: uuid.NewString(), Title: strings.TrimSpace(d.Title), Repository: d.Repository,
				Description: d.Description, Status: task.StatusPending, Priority: d.Priority,
				Assignee: d.Assignee, Tags: d.Tags, Metadata: d.Metadata, DueDate: d.DueDate,
				ExternalID: d.ExternalID, CreatedAt: now, UpdatedAt: now, CreatedBy: d.CreatedBy,
			}
			if t.Priority == "" {
				t.Priority = task.PriorityMedium
			}
			metadataJSON, mErr := json.Marshal(t.Metadata)
			if mErr != nil {
				return apperr.NewInternal(mErr)
			}
			const insertSQL = `
INSERT INTO tasks (id, title, repository, description, status, priority, assignee, tags,
                    metadata, due_date, external_id, created_at, updated_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
			if _, err := q.Exec(ctx, insertSQL,
				t.ID, t.Title, t.Repository, t.Description, string(t.Status), string(t.Priority),
				nullableString(t.Assignee), t.Tags, metadataJSON, t.DueDate, nullableString(t.ExternalID),
				t.CreatedAt, t.UpdatedAt, nullableString(t.CreatedBy)); err != nil {
				if store.IsUniqueViolation(err) {
					return apperr.NewConflict("external_id", "external_id already in use")
				}
				return apperr.NewFatalDB(err)
			}
			if _, err := s.events.Append(ctx, q, task.Event{
				TaskID: t.ID, EventType: task.EventCreated, Actor: actor,
				Data: map[string]any{"title": t.Title, "repository": t.Repository},
			}); err != nil {
				return err
			}
			created = append(created, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateStatusBatch issues a single SQL update plus one STATUS_CHANGED
// event per id, in the same transaction. When the new status is
// completed, completed_at is set uniformly to the transaction's timestamp.
func (s *Store) UpdateStatusBatch(ctx context.Context, ids []string, status task.Status, actor string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithTransaction(ctx, 20*time.Second, func(ctx context.Context, q store.Queryer) error {
		now := time.Now().UTC()
		var tag pgconn.CommandTag
		var err error
		if status == task.StatusCompleted {
			tag, err = q.Exec(ctx, `UPDATE tasks SET status=$1, completed_at=$2, updated_at=$2 WHERE id = ANY($3)`,
				string(status), now, ids)
		} else {
			tag, err = q.Exec(ctx, `UPDATE tasks SET status=$1, updated_at=$2 WHERE id = ANY($3)`,
				string(status), now, ids)
		}
		if err != nil {
			return apperr.NewFatalDB(err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.NewNotFound("no tasks matched for status update")
		}
		for _, id := range ids {
			data := map[string]any{"new_status": string(status)}
			if status == task.StatusCompleted {
				data["completed_at"] = now
			}
			if _, err := s.events.Append(ctx, q, task.Event{
				TaskID: id, EventType: task.EventStatusChanged, Actor: actor, Data: data,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.graph != nil {
		statuses := make(map[string]task.Status, len(ids))
		for _, id := range ids {
			statuses[id] = status
		}
		if _, gErr := s.graph.UpdateAll(ctx, statuses); gErr != nil {
			s.logger.Warn("dependency graph status propagation failed: %v", gErr)
		}
	}
	return nil
}

// AddDependency rejects self-dependency then delegates to the wired
// DependencyGraph, emitting DEPENDENCY_ADDED on success. The graph itself
// enforces the no-duplicate-edge and acyclicity invariants (spec.md §4.4).
func (s *Store) AddDependency(ctx context.Context, source, targetID string, typ task.DependencyType, actor string) (task.Dependency, error) {
	if source == targetID {
		return task.Dependency{}, apperr.NewValidation("target", "a task cannot depend on itself")
	}
	if s.graph == nil {
		return task.Dependency{}, apperr.NewInternal(errors.New("taskstore: dependency graph not wired"))
	}
	dep, err := s.graph.Create(ctx, source, targetID, typ)
	if err != nil {
		return task.Dependency{}, err
	}
	err = s.db.WithTransaction(ctx, 10*time.Second, func(ctx context.Context, q store.Queryer) error {
		_, err := s.events.Append(ctx, q, task.Event{
			TaskID: source, EventType: task.EventDependencyAdded, Actor: actor,
			Data: map[string]any{"target_task_id": targetID, "type": string(typ), "edge_id": dep.ID},
		})
		return err
	})
	if err != nil {
		return task.Dependency{}, err
	}
	return dep, nil
}

// RemoveDependency removes the edge and emits DEPENDENCY_REMOVED.
func (s *Store) RemoveDependency(ctx context.Context, sourceTaskID, edgeID, actor string) error {
	if s.graph == nil {
		return apperr.NewInternal(errors.New("taskstore: dependency graph not wired"))
	}
	s.graph.Remove(edgeID)
	return s.db.WithTransaction(ctx, 10*time.Second, func(ctx context.Context, q store.Queryer) error {
		_, err := s.events.Append(ctx, q, task.Event{
			TaskID: sourceTaskID, EventType: task.EventDependencyRemoved, Actor: actor,
			Data: map[string]any{"edge_id": edgeID},
		})
		return err
	})
}

// Dependencies returns edges where taskID is the source.
func (s *Store) Dependencies(taskID string) []task.Dependency {
	if s.graph == nil {
		return nil
	}
	return s.graph.DependenciesFor(taskID)
}

// Dependents returns edges where taskID is the target.
func (s *Store) Dependents(taskID string) []task.Dependency {
	if s.graph == nil {
		return nil
	}
	return s.graph.Dependents(taskID)
}

func (s *Store) getForUpdate(ctx context.Context, q store.Queryer, id string) (*task.Task, error) {
	const sql = `
SELECT id, title, repository, description, status, priority, assignee, tags,
       metadata, due_date, external_id, created_at, updated_at, completed_at, created_by
FROM tasks WHERE id = $1 FOR UPDATE`
	row := q.QueryRow(ctx, sql, id)
	var t task.Task
	if err := scanTask(row, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner, t *task.Task) error {
	var (
		assignee, externalID, createdBy *string
		priority, status                string
		metadata                        []byte
	)
	err := row.Scan(&t.ID, &t.Title, &t.Repository, &t.Description, &status, &priority,
		&assignee, &t.Tags, &metadata, &t.DueDate, &externalID, &t.CreatedAt, &t.UpdatedAt,
		&t.CompletedAt, &createdBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NewNotFound("task not found")
	}
	if err != nil {
		return apperr.NewFatalDB(err)
	}
	t.Status = task.Status(status)
	t.Priority = task.Priority(priority)
	if assignee != nil {
		t.Assignee = *assignee
	}
	if externalID != nil {
		t.ExternalID = *externalID
	}
	if createdBy != nil {
		t.CreatedBy = *createdBy
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return apperr.NewInternal(err)
		}
	}
	return nil
}
