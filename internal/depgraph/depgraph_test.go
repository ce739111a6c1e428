package depgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"alex/internal/task"
)

type fakeLookup struct {
	tasks map[string]*task.Task
}

func (f *fakeLookup) Get(_ context.Context, id string) (*task.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, errors.New("task not found")
	}
	return t, nil
}

func newFixture() *fakeLookup {
	return &fakeLookup{tasks: map[string]*task.Task{
		"A": {ID: "A", Repository: "svc-a"},
		"B": {ID: "B", Repository: "svc-a"},
		"C": {ID: "C", Repository: "svc-b"},
	}}
}

func TestCreateMarksCrossRepo(t *testing.T) {
	g := New(newFixture())
	dep, err := g.Create(context.Background(), "A", "C", task.DependencyBlocks)
	require.NoError(t, err)
	require.True(t, dep.IsCrossRepo)
	require.Equal(t, task.DependencyPending, dep.Status)
}

func TestCreateSameRepoIsNotCrossRepo(t *testing.T) {
	g := New(newFixture())
	dep, err := g.Create(context.Background(), "A", "B", task.DependencyBlocks)
	require.NoError(t, err)
	require.False(t, dep.IsCrossRepo)
}

func TestCreateRejectsCycle(t *testing.T) {
	g := New(newFixture())
	_, err := g.Create(context.Background(), "A", "B", task.DependencyBlocks)
	require.NoError(t, err)
	_, err = g.Create(context.Background(), "B", "A", task.DependencyRequires)
	require.Error(t, err)
}

func TestCreateAllowsRelatedCycle(t *testing.T) {
	g := New(newFixture())
	_, err := g.Create(context.Background(), "A", "B", task.DependencyBlocks)
	require.NoError(t, err)
	_, err = g.Create(context.Background(), "B", "A", task.DependencyRelated)
	require.NoError(t, err)
}

func TestCreateRejectsDuplicateSameType(t *testing.T) {
	g := New(newFixture())
	_, err := g.Create(context.Background(), "A", "B", task.DependencyBlocks)
	require.NoError(t, err)
	_, err = g.Create(context.Background(), "A", "B", task.DependencyBlocks)
	require.Error(t, err)
}

func TestRemoveUnknownEdgeReturnsFalse(t *testing.T) {
	g := New(newFixture())
	require.False(t, g.Remove("does-not-exist"))
}

func TestDependenciesForAndDependents(t *testing.T) {
	g := New(newFixture())
	dep, err := g.Create(context.Background(), "A", "B", task.DependencyBlocks)
	require.NoError(t, err)

	deps := g.DependenciesFor("A")
	require.Len(t, deps, 1)
	require.Equal(t, dep.ID, deps[0].ID)

	dependents := g.Dependents("B")
	require.Len(t, dependents, 1)
	require.Equal(t, dep.ID, dependents[0].ID)
}

func TestBlockedReturnsUnsatisfiedBlocksEdges(t *testing.T) {
	fixture := newFixture()
	g := New(fixture)
	dep, err := g.Create(context.Background(), "A", "B", task.DependencyBlocks)
	require.NoError(t, err)
	blocked := g.Blocked("A")
	require.Len(t, blocked, 1)
	require.Equal(t, dep.ID, blocked[0].ID)

	fixture.tasks["A"].Status = task.StatusCompleted
	changed, err := g.UpdateStatus(context.Background(), dep.ID)
	require.NoError(t, err)
	require.True(t, changed)
	require.Empty(t, g.Blocked("A"))
}

func TestBlockingChainWalksTransitively(t *testing.T) {
	g := New(newFixture())
	_, err := g.Create(context.Background(), "A", "B", task.DependencyBlocks)
	require.NoError(t, err)
	_, err = g.Create(context.Background(), "B", "C", task.DependencyBlocks)
	require.NoError(t, err)

	chain := g.BlockingChain("C")
	require.Len(t, chain, 2)
	require.Equal(t, "B", chain[0].SourceTaskID)
	require.Equal(t, "A", chain[1].SourceTaskID)
}

func TestUpdateAllTransitionsDependentEdges(t *testing.T) {
	g := New(newFixture())
	_, err := g.Create(context.Background(), "A", "C", task.DependencyBlocks)
	require.NoError(t, err)
	_, err = g.Create(context.Background(), "B", "C", task.DependencyRequires)
	require.NoError(t, err)

	changed, err := g.UpdateAll(context.Background(), map[string]task.Status{"C": task.StatusCompleted})
	require.NoError(t, err)
	require.Equal(t, 1, changed) // only the REQUIRES edge (B->C) is driven by C's status
}

func TestCrossRepoEdgesAndEdgeCounts(t *testing.T) {
	g := New(newFixture())
	_, err := g.Create(context.Background(), "A", "B", task.DependencyBlocks)
	require.NoError(t, err)
	_, err = g.Create(context.Background(), "A", "C", task.DependencyRequires)
	require.NoError(t, err)

	require.Len(t, g.CrossRepoEdges(), 1)
	counts := g.EdgeCounts()
	require.Equal(t, 1, counts[task.DependencyBlocks])
	require.Equal(t, 1, counts[task.DependencyRequires])
}
