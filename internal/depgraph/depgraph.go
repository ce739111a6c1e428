// Package depgraph implements DependencyGraph (spec.md §4.4): an in-memory
// directed graph of cross-repository task dependencies. Persistence of the
// graph itself is a non-goal (spec.md §1): edges live only in memory and
// nothing reloads them when the engine starts, so each process begins with
// an empty graph. The graph holds only edges, never task rows. Grounded on the teacher's adjacency-map graph shape in
// internal/infra/task (edge slices keyed by node id under one mutex).
package depgraph

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"alex/internal/apperr"
	"alex/internal/task"
)

// TaskLookup is the subset of TaskStore the graph needs to resolve a task's
// repository when stamping an edge's SourceRepo/TargetRepo/IsCrossRepo.
// Defined locally to avoid a depgraph<->taskstore import cycle.
type TaskLookup interface {
	Get(ctx context.Context, id string) (*task.Task, error)
}

// Graph is the DependencyGraph component: an adjacency map of edges keyed
// by task id in both directions, guarded by one mutex.
type Graph struct {
	mu      sync.RWMutex
	lookup  TaskLookup
	edges   map[string]task.Dependency   // edge id -> edge
	out     map[string]map[string]string // source task -> target task -> edge id
	in      map[string]map[string]string // target task -> source task -> edge id
}

func New(lookup TaskLookup) *Graph {
	return &Graph{
		lookup: lookup,
		edges:  make(map[string]task.Dependency),
		out:    make(map[string]map[string]string),
		in:     make(map[string]map[string]string),
	}
}

// Create adds a source->target edge of the given type. BLOCKS and REQUIRES
// edges are rejected if they would close a cycle in the BLOCKS∪REQUIRES
// subgraph (spec.md §4.4/§9); RELATED edges are exempt. A second edge for
// the same source->target pair is rejected as a conflict, whatever its type.
func (g *Graph) Create(ctx context.Context, sourceID, targetID string, typ task.DependencyType) (task.Dependency, error) {
	source, err := g.lookup.Get(ctx, sourceID)
	if err != nil {
		return task.Dependency{}, err
	}
	target, err := g.lookup.Get(ctx, targetID)
	if err != nil {
		return task.Dependency{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.out[sourceID][targetID]; exists {
		return task.Dependency{}, apperr.NewConflict("target", "dependency already exists")
	}

	if typ.HasCycleSemantics() {
		if g.hasPathLocked(targetID, sourceID) {
			return task.Dependency{}, apperr.NewConflict("target", "dependency would create a cycle")
		}
	}

	dep := task.Dependency{
		ID: uuid.NewString(), SourceTaskID: sourceID, TargetTaskID: targetID,
		SourceRepo: source.Repository, TargetRepo: target.Repository,
		Type: typ, Status: task.DependencyPending,
		IsCrossRepo: source.Repository != target.Repository,
	}
	g.edges[dep.ID] = dep
	if g.out[sourceID] == nil {
		g.out[sourceID] = map[string]string{}
	}
	g.out[sourceID][targetID] = dep.ID
	if g.in[targetID] == nil {
		g.in[targetID] = map[string]string{}
	}
	g.in[targetID][sourceID] = dep.ID
	return dep, nil
}

// Remove deletes an edge by id. Returns false if the edge was not found.
func (g *Graph) Remove(edgeID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	dep, ok := g.edges[edgeID]
	if !ok {
		return false
	}
	delete(g.edges, edgeID)
	delete(g.out[dep.SourceTaskID], dep.TargetTaskID)
	delete(g.in[dep.TargetTaskID], dep.SourceTaskID)
	return true
}

// DependenciesFor returns edges where taskID is the source (for BLOCKS, the
// tasks it blocks; for REQUIRES, the tasks it requires).
func (g *Graph) DependenciesFor(taskID string) []task.Dependency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []task.Dependency
	for _, edgeID := range g.out[taskID] {
		out = append(out, g.edges[edgeID])
	}
	return out
}

// Dependents returns edges where taskID is the target (for BLOCKS, the
// tasks blocking it; for REQUIRES, the tasks that require it).
func (g *Graph) Dependents(taskID string) []task.Dependency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []task.Dependency
	for _, edgeID := range g.in[taskID] {
		out = append(out, g.edges[edgeID])
	}
	return out
}

// Blocked returns taskID's outgoing BLOCKS edges — the tasks it blocks —
// whose status has not reached SATISFIED (spec.md §4.4). REQUIRES edges are
// out of scope here; see DependenciesFor for the full outgoing edge set.
func (g *Graph) Blocked(taskID string) []task.Dependency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []task.Dependency
	for _, edgeID := range g.out[taskID] {
		dep := g.edges[edgeID]
		if dep.Type == task.DependencyBlocks && dep.Status != task.DependencySatisfied {
			out = append(out, dep)
		}
	}
	return out
}

// BlockingChain walks backwards from taskID — visiting each node's
// incoming BLOCKS edges — via breadth-first search, so immediate blockers
// come first in the returned order (spec.md §4.4).
func (g *Graph) BlockingChain(taskID string) []task.Dependency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var chain []task.Dependency
	visited := map[string]bool{taskID: true}
	queue := []string{taskID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for source, edgeID := range g.in[cur] {
			dep := g.edges[edgeID]
			if dep.Type != task.DependencyBlocks {
				continue
			}
			if visited[source] {
				continue
			}
			visited[source] = true
			chain = append(chain, dep)
			queue = append(queue, source)
		}
	}
	return chain
}

// AllBlockers returns the set of source ids of every BLOCKS edge whose
// status is not SATISFIED (spec.md §4.5, invariant 5).
func (g *Graph) AllBlockers() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, dep := range g.edges {
		if dep.Type != task.DependencyBlocks || dep.Status == task.DependencySatisfied {
			continue
		}
		if !seen[dep.SourceTaskID] {
			seen[dep.SourceTaskID] = true
			out = append(out, dep.SourceTaskID)
		}
	}
	return out
}

// CrossRepoEdges returns every edge whose source and target belong to
// different repositories.
func (g *Graph) CrossRepoEdges() []task.Dependency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []task.Dependency
	for _, dep := range g.edges {
		if dep.IsCrossRepo {
			out = append(out, dep)
		}
	}
	return out
}

// EdgesByRepo returns every edge touching repo, as either source or target.
func (g *Graph) EdgesByRepo(repo string) []task.Dependency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []task.Dependency
	for _, dep := range g.edges {
		if dep.SourceRepo == repo || dep.TargetRepo == repo {
			out = append(out, dep)
		}
	}
	return out
}

// EdgeCounts summarizes edge totals by DependencyType.
func (g *Graph) EdgeCounts() map[task.DependencyType]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	counts := map[task.DependencyType]int{}
	for _, dep := range g.edges {
		counts[dep.Type]++
	}
	return counts
}

// UpdateStatus re-fetches both endpoints of one edge and recomputes its
// status: BLOCKS tracks the source task (completed->SATISFIED,
// failed->FAILED, blocked->BLOCKED), REQUIRES tracks the target task
// (completed->SATISFIED, failed->FAILED). Returns whether the status
// actually changed.
func (g *Graph) UpdateStatus(ctx context.Context, edgeID string) (bool, error) {
	g.mu.Lock()
	dep, ok := g.edges[edgeID]
	g.mu.Unlock()
	if !ok {
		return false, apperr.NewNotFound("dependency %s not found", edgeID)
	}

	source, err := g.lookup.Get(ctx, dep.SourceTaskID)
	if err != nil {
		return false, err
	}
	target, err := g.lookup.Get(ctx, dep.TargetTaskID)
	if err != nil {
		return false, err
	}

	newStatus := deriveEdgeStatus(dep.Type, source.Status, target.Status, dep.Status)

	g.mu.Lock()
	defer g.mu.Unlock()
	dep = g.edges[edgeID]
	if dep.Status == newStatus {
		return false, nil
	}
	dep.Status = newStatus
	g.edges[edgeID] = dep
	return true, nil
}

// UpdateAll applies the same rule as UpdateStatus to every edge touching a
// task named in statuses (the set of tasks whose own status just settled),
// using the supplied status for that side and re-fetching the other side
// when it isn't itself in statuses. Returns the count of edges whose
// status changed.
func (g *Graph) UpdateAll(ctx context.Context, statuses map[string]task.Status) (int, error) {
	resolve := func(id string) (task.Status, error) {
		if st, ok := statuses[id]; ok {
			return st, nil
		}
		t, err := g.lookup.Get(ctx, id)
		if err != nil {
			return "", err
		}
		return t.Status, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	changed := 0
	for edgeID, dep := range g.edges {
		if _, touched := statuses[dep.SourceTaskID]; !touched {
			if _, touched := statuses[dep.TargetTaskID]; !touched {
				continue
			}
		}
		sourceStatus, err := resolve(dep.SourceTaskID)
		if err != nil {
			return changed, err
		}
		targetStatus, err := resolve(dep.TargetTaskID)
		if err != nil {
			return changed, err
		}
		newStatus := deriveEdgeStatus(dep.Type, sourceStatus, targetStatus, dep.Status)
		if newStatus != dep.Status {
			dep.Status = newStatus
			g.edges[edgeID] = dep
			changed++
		}
	}
	return changed, nil
}

// deriveEdgeStatus is the pure status rule shared by UpdateStatus and
// UpdateAll.
func deriveEdgeStatus(typ task.DependencyType, sourceStatus, targetStatus task.Status, current task.DependencyStatus) task.DependencyStatus {
	switch typ {
	case task.DependencyBlocks:
		switch sourceStatus {
		case task.StatusCompleted:
			return task.DependencySatisfied
		case task.StatusFailed:
			return task.DependencyFailed
		case task.StatusBlocked:
			return task.DependencyBlocked
		default:
			return task.DependencyPending
		}
	case task.DependencyRequires:
		switch targetStatus {
		case task.StatusCompleted:
			return task.DependencySatisfied
		case task.StatusFailed:
			return task.DependencyFailed
		default:
			return task.DependencyPending
		}
	default:
		return current
	}
}

// hasPathLocked reports whether a path exists from -> to over
// BLOCKS/REQUIRES edges, via breadth-first search. Caller must hold mu.
func (g *Graph) hasPathLocked(from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for target, edgeID := range g.out[cur] {
			if !g.edges[edgeID].Type.HasCycleSemantics() {
				continue
			}
			if target == to {
				return true
			}
			if !visited[target] {
				visited[target] = true
				queue = append(queue, target)
			}
		}
	}
	return false
}
