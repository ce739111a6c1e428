// Package coordinator implements Coordinator (spec.md §4.7): builds
// topologically-ordered multi-step plans over a selected set of tasks and
// executes them sequentially, rolling back in reverse order on request.
// Grounded on the teacher's sequential workflow executor
// (internal/orchestrator/server_coordinator.go) adapted to Kahn's
// algorithm over the dependency graph instead of a static DAG definition.
package coordinator

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"alex/internal/apperr"
	"alex/internal/logging"
	"alex/internal/task"
)

// tracer emits spans around plan execution, mirroring the teacher's
// orchestrator instrumentation around step sequencing.
var tracer = otel.Tracer("alex/internal/coordinator")

// TaskStore is the subset of TaskStore the coordinator needs.
type TaskStore interface {
	Get(ctx context.Context, id string) (*task.Task, error)
	Update(ctx context.Context, id string, patch task.Patch, actor string) (*task.Task, error)
}

// DependencyGraph is the subset of DependencyGraph the coordinator needs.
type DependencyGraph interface {
	DependenciesFor(taskID string) []task.Dependency
	Dependents(taskID string) []task.Dependency
	UpdateAll(ctx context.Context, statuses map[string]task.Status) (int, error)
}

// StepStatus is a PlanStep's lifecycle state.
type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepCompleted  StepStatus = "COMPLETED"
	StepFailed     StepStatus = "FAILED"
	StepRolledBack StepStatus = "ROLLED_BACK"
)

// PlanStatus is a Plan's lifecycle state.
type PlanStatus string

const (
	PlanPending    PlanStatus = "PENDING"
	PlanRunning    PlanStatus = "RUNNING"
	PlanCompleted  PlanStatus = "COMPLETED"
	PlanFailed     PlanStatus = "FAILED"
	PlanRolledBack PlanStatus = "ROLLED_BACK"
)

// PlanStep is one task completion step within a Plan.
type PlanStep struct {
	StepID       string
	TaskID       string
	Repository   string
	Action       string
	Dependencies []string
	Status       StepStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Plan is the ordered, dependency-respecting execution plan for a goal.
type Plan struct {
	PlanID               string
	Goal                 string
	Steps                []*PlanStep
	RepositoriesInvolved []string
	Status               PlanStatus
	CreatedAt            time.Time
}

// Coordinator is the Coordinator component.
type Coordinator struct {
	tasks  TaskStore
	graph  DependencyGraph
	logger logging.Logger
}

func New(tasks TaskStore, graph DependencyGraph, logger logging.Logger) *Coordinator {
	return &Coordinator{tasks: tasks, graph: graph, logger: logging.OrNop(logger)}
}

// CreatePlan builds the BLOCKS subgraph induced by taskIDs (edges to or from
// a task outside the set are ignored), topologically orders it via Kahn's
// algorithm (deterministic id-order tiebreak among the zero-degree
// frontier), and appends any task the traversal didn't reach — which only a
// cycle inside the set causes — at the end in id order.
func (c *Coordinator) CreatePlan(ctx context.Context, goal string, taskIDs []string) (*Plan, error) {
	inSet := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		inSet[id] = true
	}

	// prerequisites[b] = set of a such that a->b BLOCKS edge exists within the set.
	prerequisites := make(map[string]map[string]bool, len(taskIDs))
	inDegree := make(map[string]int, len(taskIDs))
	for _, id := range taskIDs {
		prerequisites[id] = map[string]bool{}
		inDegree[id] = 0
	}
	for _, id := range taskIDs {
		for _, edge := range c.graph.DependenciesFor(id) {
			if edge.Type != task.DependencyBlocks {
				continue
			}
			if !inSet[edge.TargetTaskID] {
				continue
			}
			if !prerequisites[edge.TargetTaskID][id] {
				prerequisites[edge.TargetTaskID][id] = true
				inDegree[edge.TargetTaskID]++
			}
		}
	}

	var order []string
	reached := map[string]bool{}
	frontier := zeroDegreeFrontier(taskIDs, inDegree, reached)
	remaining := inDegree
	for len(frontier) > 0 {
		sort.Strings(frontier)
		next := frontier[0]
		frontier = frontier[1:]
		order = append(order, next)
		reached[next] = true
		for id := range prerequisites {
			if prerequisites[id][next] && !reached[id] {
				remaining[id]--
				if remaining[id] == 0 {
					frontier = append(frontier, id)
				}
			}
		}
	}

	var unreached []string
	for _, id := range taskIDs {
		if !reached[id] {
			unreached = append(unreached, id)
		}
	}
	sort.Strings(unreached)
	order = append(order, unreached...)

	steps := make([]*PlanStep, 0, len(order))
	repoSet := map[string]bool{}
	for _, id := range order {
		t, err := c.tasks.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		deps := make([]string, 0, len(prerequisites[id]))
		for prereq := range prerequisites[id] {
			deps = append(deps, prereq)
		}
		sort.Strings(deps)
		repoSet[t.Repository] = true
		steps = append(steps, &PlanStep{
			StepID: uuid.NewString(), TaskID: id, Repository: t.Repository,
			Action: "complete", Dependencies: deps, Status: StepPending,
		})
	}

	repos := make([]string, 0, len(repoSet))
	for r := range repoSet {
		repos = append(repos, r)
	}
	sort.Strings(repos)

	return &Plan{
		PlanID: uuid.NewString(), Goal: goal, Steps: steps,
		RepositoriesInvolved: repos, Status: PlanPending, CreatedAt: time.Now().UTC(),
	}, nil
}

func zeroDegreeFrontier(taskIDs []string, inDegree map[string]int, reached map[string]bool) []string {
	var out []string
	for _, id := range taskIDs {
		if inDegree[id] == 0 && !reached[id] {
			out = append(out, id)
		}
	}
	return out
}

// ExecuteStep refuses (returning false, nil) without mutating the task if
// any of the step's task's incoming edges is still PENDING — the
// prerequisite it names hasn't settled yet. Otherwise it completes the
// task, propagates edge statuses, and marks the step COMPLETED.
func (c *Coordinator) ExecuteStep(ctx context.Context, step *PlanStep) (bool, error) {
	for _, edge := range c.graph.Dependents(step.TaskID) {
		if edge.Status == task.DependencyPending {
			return false, nil
		}
	}

	if _, err := c.tasks.Get(ctx, step.TaskID); err != nil {
		step.Status = StepFailed
		return false, nil
	}

	started := time.Now().UTC()
	step.StartedAt = &started

	completed := task.StatusCompleted
	if _, err := c.tasks.Update(ctx, step.TaskID, task.Patch{Status: &completed}, "coordinator"); err != nil {
		step.Status = StepFailed
		return false, err
	}

	if _, err := c.graph.UpdateAll(ctx, map[string]task.Status{step.TaskID: task.StatusCompleted}); err != nil {
		c.logger.Warn("edge status propagation failed for task %s: %v", step.TaskID, err)
	}

	finished := time.Now().UTC()
	step.Status = StepCompleted
	step.CompletedAt = &finished
	return true, nil
}

// ExecutePlan runs every step in order, stopping at the first failure
// (marking the plan FAILED) without auto-rolling back. Returns the
// per-step boolean results gathered so far.
func (c *Coordinator) ExecutePlan(ctx context.Context, plan *Plan) ([]bool, error) {
	ctx, span := tracer.Start(ctx, "coordinator.ExecutePlan", trace.WithAttributes(
		attribute.String("plan.id", plan.PlanID),
		attribute.Int("plan.steps", len(plan.Steps)),
	))
	defer span.End()

	plan.Status = PlanRunning
	results := make([]bool, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		ok, err := c.ExecuteStep(ctx, step)
		results = append(results, ok)
		if err != nil || !ok {
			plan.Status = PlanFailed
			if err != nil {
				span.RecordError(err)
			}
			span.SetStatus(codes.Error, "plan execution stopped")
			return results, err
		}
	}
	plan.Status = PlanCompleted
	return results, nil
}

// RollbackPlan walks completed steps in reverse, reopening each task to
// pending. Each step transitions to ROLLED_BACK regardless of whether its
// own reopen call failed — failures are logged, not surfaced — and the
// plan's terminal state is always ROLLED_BACK.
func (c *Coordinator) RollbackPlan(ctx context.Context, plan *Plan) {
	pending := task.StatusPending
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		step := plan.Steps[i]
		if step.Status != StepCompleted {
			continue
		}
		if _, err := c.tasks.Update(ctx, step.TaskID, task.Patch{Status: &pending}, "coordinator"); err != nil {
			c.logger.Warn("rollback of task %s failed: %v", step.TaskID, err)
		}
		step.Status = StepRolledBack
	}
	plan.Status = PlanRolledBack
}

// Reconcile re-derives every edge's status from current task state across
// the whole graph, a maintenance pass for drift between TaskStore and
// DependencyGraph (e.g. after a crash mid-plan). Grounded on the
// original Python implementation's periodic sync pass
// (sync_coordinator.py), not present in spec.md's distilled DependencyGraph
// surface.
func (c *Coordinator) Reconcile(ctx context.Context, taskIDs []string, statusOf func(taskID string) (task.Status, bool)) (int, error) {
	statuses := make(map[string]task.Status, len(taskIDs))
	for _, id := range taskIDs {
		if st, ok := statusOf(id); ok {
			statuses[id] = st
		}
	}
	if len(statuses) == 0 {
		return 0, nil
	}
	changed, err := c.graph.UpdateAll(ctx, statuses)
	if err != nil {
		return 0, apperr.NewInternal(err)
	}
	return changed, nil
}
