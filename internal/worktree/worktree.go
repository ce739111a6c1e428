// Package worktree implements WorktreeTracker (spec.md §4.11): an
// in-memory registry of per-task branch workspaces, delegating actual
// branch operations to an injected runner. Grounded on the teacher's
// in-memory registry shape in internal/taskstore/taskstore.go's predecessor
// (a single mutex-guarded map keyed by id, snapshot-copied on read) and the
// injected-collaborator pattern used throughout internal/di for swapping
// real implementations for fakes in tests.
package worktree

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"alex/internal/apperr"
	"alex/internal/logging"
)

// State is a Worktree's lifecycle state.
type State string

const (
	StateActive    State = "ACTIVE"
	StateCompleted State = "COMPLETED"
	StateAbandoned State = "ABANDONED"
	StateMerged    State = "MERGED"
)

// Worktree is one tracked branch workspace.
type Worktree struct {
	ID          string
	TaskID      string
	Path        string
	Branch      string
	BaseBranch  string
	State       State
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// BranchRunner performs the actual git operations a Worktree's lifecycle
// transitions require. spec.md §4.11 leaves the real implementation
// unspecified; this package ships only an in-memory no-op for tests.
type BranchRunner interface {
	CreateBranch(ctx context.Context, path, branch, baseBranch string) error
	Merge(ctx context.Context, path, branch string) error
	Remove(ctx context.Context, path string) error
	Sync(ctx context.Context, path string) error
}

// NoopRunner is a BranchRunner that performs no real git operations, for
// tests and environments where the tracker's state machine is exercised
// without a working tree.
type NoopRunner struct{}

func (NoopRunner) CreateBranch(context.Context, string, string, string) error { return nil }
func (NoopRunner) Merge(context.Context, string, string) error               { return nil }
func (NoopRunner) Remove(context.Context, string) error                      { return nil }
func (NoopRunner) Sync(context.Context, string) error                        { return nil }

// Summary is an aggregate view over the tracker's current worktrees.
type Summary struct {
	Total     int
	ByState   map[State]int
	StaleDays []string // worktree ids active longer than the prune threshold
}

// staleAfter is the age threshold PruneStale and Summary use to flag a
// long-running active worktree, mirroring the 14-day staleness window
// internal/projection's dashboard uses for stale tasks.
const staleAfter = 14 * 24 * time.Hour

// Tracker is the WorktreeTracker component.
type Tracker struct {
	mu        sync.RWMutex
	worktrees map[string]*Worktree
	byTask    map[string]string // task id -> worktree id, one active worktree per task
	runner    BranchRunner
	logger    logging.Logger
}

// New builds a Tracker delegating branch operations to runner.
func New(runner BranchRunner, logger logging.Logger) *Tracker {
	if runner == nil {
		runner = NoopRunner{}
	}
	return &Tracker{
		worktrees: make(map[string]*Worktree),
		byTask:    make(map[string]string),
		runner:    runner,
		logger:    logging.OrNop(logger).With("component", "worktree"),
	}
}

// Create registers a new ACTIVE worktree for taskID and asks the runner to
// create its branch. Refuses if taskID already has an active worktree.
func (t *Tracker) Create(ctx context.Context, taskID, path, branch, baseBranch string) (*Worktree, error) {
	t.mu.Lock()
	if existingID, ok := t.byTask[taskID]; ok {
		if existing := t.worktrees[existingID]; existing.State == StateActive {
			t.mu.Unlock()
			return nil, apperr.NewConflict("task_id", "task %s already has an active worktree", taskID)
		}
	}
	t.mu.Unlock()

	if err := t.runner.CreateBranch(ctx, path, branch, baseBranch); err != nil {
		return nil, apperr.NewInternal(err)
	}

	wt := &Worktree{
		ID: uuid.NewString(), TaskID: taskID, Path: path, Branch: branch,
		BaseBranch: baseBranch, State: StateActive, CreatedAt: time.Now().UTC(),
	}

	t.mu.Lock()
	t.worktrees[wt.ID] = wt
	t.byTask[taskID] = wt.ID
	t.mu.Unlock()
	return wt, nil
}

// List returns every tracked worktree, ordered by CreatedAt ascending.
func (t *Tracker) List() []*Worktree {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Worktree, 0, len(t.worktrees))
	for _, wt := range t.worktrees {
		out = append(out, wt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns the worktree by id, or false if not tracked.
func (t *Tracker) Get(id string) (*Worktree, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	wt, ok := t.worktrees[id]
	return wt, ok
}

// GetByTask returns the currently active worktree for taskID, if any.
func (t *Tracker) GetByTask(taskID string) (*Worktree, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byTask[taskID]
	if !ok {
		return nil, false
	}
	wt := t.worktrees[id]
	return wt, wt.State == StateActive
}

// Complete transitions a worktree to COMPLETED (or MERGED when merge is
// true). merge=true additionally asks the runner to merge the branch and is
// only allowed when repoPath is non-empty.
func (t *Tracker) Complete(ctx context.Context, id string, merge bool, repoPath string) error {
	if merge && repoPath == "" {
		return apperr.NewValidation("repo_path", "merge requires a repository path")
	}

	t.mu.Lock()
	wt, ok := t.worktrees[id]
	t.mu.Unlock()
	if !ok {
		return apperr.NewNotFound("worktree %s not found", id)
	}

	if merge {
		if err := t.runner.Merge(ctx, repoPath, wt.Branch); err != nil {
			return apperr.NewInternal(err)
		}
	}

	finished := time.Now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	wt.CompletedAt = &finished
	if merge {
		wt.State = StateMerged
	} else {
		wt.State = StateCompleted
	}
	return nil
}

// Abandon marks a worktree ABANDONED without merging.
func (t *Tracker) Abandon(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	wt, ok := t.worktrees[id]
	if !ok {
		return apperr.NewNotFound("worktree %s not found", id)
	}
	finished := time.Now().UTC()
	wt.State = StateAbandoned
	wt.CompletedAt = &finished
	return nil
}

// Cleanup removes id's physical path via the runner and deletes it from the
// registry. The worktree must already be in a terminal state.
func (t *Tracker) Cleanup(ctx context.Context, id string) error {
	t.mu.Lock()
	wt, ok := t.worktrees[id]
	t.mu.Unlock()
	if !ok {
		return apperr.NewNotFound("worktree %s not found", id)
	}
	if wt.State == StateActive {
		return apperr.NewConflict("state", "cannot clean up an active worktree")
	}
	if err := t.runner.Remove(ctx, wt.Path); err != nil {
		return apperr.NewInternal(err)
	}
	t.mu.Lock()
	delete(t.worktrees, id)
	if t.byTask[wt.TaskID] == id {
		delete(t.byTask, wt.TaskID)
	}
	t.mu.Unlock()
	return nil
}

// Sync asks the runner to sync id's working tree against its base branch.
func (t *Tracker) Sync(ctx context.Context, id string) error {
	t.mu.RLock()
	wt, ok := t.worktrees[id]
	t.mu.RUnlock()
	if !ok {
		return apperr.NewNotFound("worktree %s not found", id)
	}
	if err := t.runner.Sync(ctx, wt.Path); err != nil {
		return apperr.NewInternal(err)
	}
	return nil
}

// Status reports id's current State.
func (t *Tracker) Status(id string) (State, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	wt, ok := t.worktrees[id]
	if !ok {
		return "", apperr.NewNotFound("worktree %s not found", id)
	}
	return wt.State, nil
}

// PruneStale abandons every ACTIVE worktree older than staleAfter, returning
// the ids it abandoned.
func (t *Tracker) PruneStale(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var pruned []string
	for id, wt := range t.worktrees {
		if wt.State == StateActive && now.Sub(wt.CreatedAt) > staleAfter {
			finished := now
			wt.State = StateAbandoned
			wt.CompletedAt = &finished
			pruned = append(pruned, id)
		}
	}
	sort.Strings(pruned)
	return pruned
}

// Summarize reports aggregate counts by state and which active worktrees
// are already past the staleness threshold.
func (t *Tracker) Summarize(now time.Time) Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sum := Summary{ByState: map[State]int{}}
	for id, wt := range t.worktrees {
		sum.Total++
		sum.ByState[wt.State]++
		if wt.State == StateActive && now.Sub(wt.CreatedAt) > staleAfter {
			sum.StaleDays = append(sum.StaleDays, id)
		}
	}
	sort.Strings(sum.StaleDays)
	return sum
}
