package blocker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alex/internal/depgraph"
	"alex/internal/task"
)

type fakeLookup struct {
	tasks map[string]*task.Task
}

func (f *fakeLookup) Get(_ context.Context, id string) (*task.Task, error) {
	return f.tasks[id], nil
}

func newGraph() (*depgraph.Graph, *fakeLookup) {
	lookup := &fakeLookup{tasks: map[string]*task.Task{
		"A": {ID: "A", Repository: "svc-a"},
		"B": {ID: "B", Repository: "svc-b"},
		"C": {ID: "C", Repository: "svc-c"},
	}}
	return depgraph.New(lookup), lookup
}

func TestImpactOfCountsDirectAndIndirect(t *testing.T) {
	g, _ := newGraph()
	ctx := context.Background()
	_, err := g.Create(ctx, "A", "B", task.DependencyBlocks)
	require.NoError(t, err)
	_, err = g.Create(ctx, "B", "C", task.DependencyBlocks)
	require.NoError(t, err)

	a := New(g)
	impact := a.ImpactOf("A")
	require.Equal(t, 1, impact.DirectImpact)
	require.Equal(t, 1, impact.IndirectImpact)
	require.Equal(t, 2, impact.TotalImpact)
	require.ElementsMatch(t, []string{"svc-b", "svc-c"}, impact.AffectedRepositories)
}

func TestImpactOfIsCachedUntilInvalidated(t *testing.T) {
	g, _ := newGraph()
	ctx := context.Background()
	_, err := g.Create(ctx, "A", "B", task.DependencyBlocks)
	require.NoError(t, err)

	a := New(g)
	first := a.ImpactOf("A")
	require.Equal(t, 1, first.TotalImpact)

	_, err = g.Create(ctx, "A", "C", task.DependencyBlocks)
	require.NoError(t, err)

	stillCached := a.ImpactOf("A")
	require.Equal(t, 1, stillCached.TotalImpact)

	a.InvalidateAll()
	recomputed := a.ImpactOf("A")
	require.Equal(t, 2, recomputed.TotalImpact)
}

func TestBlockingChainOfReportsCrossRepo(t *testing.T) {
	g, _ := newGraph()
	ctx := context.Background()
	_, err := g.Create(ctx, "A", "B", task.DependencyBlocks)
	require.NoError(t, err)
	_, err = g.Create(ctx, "B", "C", task.DependencyBlocks)
	require.NoError(t, err)

	a := New(g)
	chain := a.BlockingChainOf("C")
	require.Len(t, chain.Edges, 2)
	require.Equal(t, "B", chain.Edges[0].SourceTaskID)
	require.Equal(t, "A", chain.Edges[1].SourceTaskID)
	require.True(t, chain.IsCrossRepo)
	require.ElementsMatch(t, []string{"svc-a", "svc-b", "svc-c"}, chain.Repositories)
}

func TestAllBlockersMatchesGraphInvariant(t *testing.T) {
	g, _ := newGraph()
	ctx := context.Background()
	_, err := g.Create(ctx, "A", "B", task.DependencyBlocks)
	require.NoError(t, err)

	a := New(g)
	require.ElementsMatch(t, []string{"A"}, a.AllBlockers())
}

func TestCriticalBlockersRanksByTotalImpactDescending(t *testing.T) {
	g, _ := newGraph()
	ctx := context.Background()
	_, err := g.Create(ctx, "A", "B", task.DependencyBlocks)
	require.NoError(t, err)
	_, err = g.Create(ctx, "A", "C", task.DependencyBlocks)
	require.NoError(t, err)
	_, err = g.Create(ctx, "B", "C", task.DependencyBlocks)
	require.NoError(t, err)

	a := New(g)
	critical := a.CriticalBlockers(1)
	require.True(t, len(critical) >= 2)
	require.GreaterOrEqual(t, critical[0].TotalImpact, critical[len(critical)-1].TotalImpact)
}

func TestEscalationCandidatesFiltersByAge(t *testing.T) {
	g, _ := newGraph()
	ctx := context.Background()
	_, err := g.Create(ctx, "A", "B", task.DependencyBlocks)
	require.NoError(t, err)

	a := New(g)
	now := time.Now()
	old := now.Add(-10 * 24 * time.Hour)
	recent := now.Add(-1 * time.Hour)

	createdAt := func(id string) (time.Time, bool) {
		if id == "A" {
			return old, true
		}
		return recent, true
	}

	candidates := a.EscalationCandidates(1, 5, now, createdAt)
	require.Len(t, candidates, 1)
	require.Equal(t, "A", candidates[0].TaskID)
}

func TestResolveMarksEdgesSatisfiedAndInvalidates(t *testing.T) {
	g, lookup := newGraph()
	ctx := context.Background()
	_, err := g.Create(ctx, "A", "B", task.DependencyBlocks)
	require.NoError(t, err)

	a := New(g)
	require.Equal(t, 1, a.ImpactOf("A").TotalImpact)

	lookup.tasks["A"].Status = task.StatusCompleted
	require.NoError(t, a.Resolve(ctx, "A"))

	require.Equal(t, 0, a.ImpactOf("A").TotalImpact)
	require.Empty(t, a.AllBlockers())
}
