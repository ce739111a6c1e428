package projection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"alex/internal/task"
)

type fakeLister struct {
	tasks []*task.Task
}

func (f *fakeLister) List(_ context.Context, filter task.Filter) ([]*task.Task, error) {
	if filter.Repository == "" {
		return f.tasks, nil
	}
	var out []*task.Task
	for _, t := range f.tasks {
		if t.Repository == filter.Repository {
			out = append(out, t)
		}
	}
	return out, nil
}

func fixtureTasks() []*task.Task {
	return []*task.Task{
		{ID: "1", Repository: "svc-a", Status: task.StatusBlocked, Priority: task.PriorityCritical, Tags: []string{"infra"}},
		{ID: "2", Repository: "svc-a", Status: task.StatusCompleted, Priority: task.PriorityLow},
		{ID: "3", Repository: "svc-b", Status: task.StatusInProgress, Priority: task.PriorityHigh, Tags: []string{"infra", "urgent"}},
	}
}

func TestAggregateByRepo(t *testing.T) {
	a := NewAggregator(&fakeLister{tasks: fixtureTasks()})
	byRepo, err := a.AggregateByRepo(context.Background())
	require.NoError(t, err)
	require.Len(t, byRepo["svc-a"], 2)
	require.Len(t, byRepo["svc-b"], 1)
}

func TestAggregateByTagFansOutMultiTag(t *testing.T) {
	a := NewAggregator(&fakeLister{tasks: fixtureTasks()})
	byTag, err := a.AggregateByTag(context.Background())
	require.NoError(t, err)
	require.Len(t, byTag["infra"], 2)
	require.Len(t, byTag["urgent"], 1)
}

func TestSummaryCountsCriticalTasks(t *testing.T) {
	a := NewAggregator(&fakeLister{tasks: fixtureTasks()})
	summary, err := a.Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 2, summary.CriticalCount) // task 1: critical + blocked; task 3: high + in_progress
}

func TestAggregateWithFilterIssuesOneQueryPerRepoName(t *testing.T) {
	a := NewAggregator(&fakeLister{tasks: fixtureTasks()})
	out, err := a.AggregateWithFilter(context.Background(), []string{"svc-a", "svc-b"}, task.Filter{})
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestReposNeedingAttentionRanksHigherBlockedRateFirst(t *testing.T) {
	a := NewAggregator(&fakeLister{tasks: fixtureTasks()})
	scores, err := a.ReposNeedingAttention(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, scores)
	require.Equal(t, "svc-a", scores[0].Repository) // 1 blocked of 2 -> 50% blocked rate
}
