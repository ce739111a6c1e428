package worktree

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateRegistersActiveWorktree(t *testing.T) {
	tr := New(NoopRunner{}, nil)
	wt, err := tr.Create(context.Background(), "T1", "/tmp/wt1", "feature/t1", "main")
	require.NoError(t, err)
	require.Equal(t, StateActive, wt.State)

	got, ok := tr.GetByTask("T1")
	require.True(t, ok)
	require.Equal(t, wt.ID, got.ID)
}

func TestCreateRefusesSecondActiveWorktreeForSameTask(t *testing.T) {
	tr := New(NoopRunner{}, nil)
	_, err := tr.Create(context.Background(), "T1", "/tmp/wt1", "feature/t1", "main")
	require.NoError(t, err)

	_, err = tr.Create(context.Background(), "T1", "/tmp/wt2", "feature/t1-b", "main")
	require.Error(t, err)
}

func TestCompleteWithoutMergeSetsCompleted(t *testing.T) {
	tr := New(NoopRunner{}, nil)
	wt, err := tr.Create(context.Background(), "T1", "/tmp/wt1", "feature/t1", "main")
	require.NoError(t, err)

	require.NoError(t, tr.Complete(context.Background(), wt.ID, false, ""))
	got, _ := tr.Get(wt.ID)
	require.Equal(t, StateCompleted, got.State)
	require.NotNil(t, got.CompletedAt)
}

func TestCompleteWithMergeRequiresRepoPath(t *testing.T) {
	tr := New(NoopRunner{}, nil)
	wt, err := tr.Create(context.Background(), "T1", "/tmp/wt1", "feature/t1", "main")
	require.NoError(t, err)

	err = tr.Complete(context.Background(), wt.ID, true, "")
	require.Error(t, err)

	require.NoError(t, tr.Complete(context.Background(), wt.ID, true, "/repo"))
	got, _ := tr.Get(wt.ID)
	require.Equal(t, StateMerged, got.State)
}

func TestAbandonMarksAbandoned(t *testing.T) {
	tr := New(NoopRunner{}, nil)
	wt, err := tr.Create(context.Background(), "T1", "/tmp/wt1", "feature/t1", "main")
	require.NoError(t, err)

	require.NoError(t, tr.Abandon(wt.ID))
	got, _ := tr.Get(wt.ID)
	require.Equal(t, StateAbandoned, got.State)
}

func TestCleanupRefusesActiveWorktree(t *testing.T) {
	tr := New(NoopRunner{}, nil)
	wt, err := tr.Create(context.Background(), "T1", "/tmp/wt1", "feature/t1", "main")
	require.NoError(t, err)

	err = tr.Cleanup(context.Background(), wt.ID)
	require.Error(t, err)
}

func TestCleanupRemovesCompletedWorktree(t *testing.T) {
	tr := New(NoopRunner{}, nil)
	wt, err := tr.Create(context.Background(), "T1", "/tmp/wt1", "feature/t1", "main")
	require.NoError(t, err)
	require.NoError(t, tr.Abandon(wt.ID))

	require.NoError(t, tr.Cleanup(context.Background(), wt.ID))
	_, ok := tr.Get(wt.ID)
	require.False(t, ok)
}

func TestPruneStaleAbandonsOldActiveWorktrees(t *testing.T) {
	tr := New(NoopRunner{}, nil)
	wt, err := tr.Create(context.Background(), "T1", "/tmp/wt1", "feature/t1", "main")
	require.NoError(t, err)

	future := wt.CreatedAt.Add(20 * 24 * time.Hour)
	pruned := tr.PruneStale(future)
	require.Equal(t, []string{wt.ID}, pruned)

	got, _ := tr.Get(wt.ID)
	require.Equal(t, StateAbandoned, got.State)
}

func TestSummarizeCountsByState(t *testing.T) {
	tr := New(NoopRunner{}, nil)
	a, err := tr.Create(context.Background(), "T1", "/tmp/wt1", "feature/t1", "main")
	require.NoError(t, err)
	_, err = tr.Create(context.Background(), "T2", "/tmp/wt2", "feature/t2", "main")
	require.NoError(t, err)
	require.NoError(t, tr.Abandon(a.ID))

	sum := tr.Summarize(time.Now())
	require.Equal(t, 2, sum.Total)
	require.Equal(t, 1, sum.ByState[StateActive])
	require.Equal(t, 1, sum.ByState[StateAbandoned])
}

func TestListOrdersByCreatedAt(t *testing.T) {
	tr := New(NoopRunner{}, nil)
	first, err := tr.Create(context.Background(), "T1", "/tmp/wt1", "feature/t1", "main")
	require.NoError(t, err)
	second, err := tr.Create(context.Background(), "T2", "/tmp/wt2", "feature/t2", "main")
	require.NoError(t, err)

	list := tr.List()
	require.Len(t, list, 2)
	require.Equal(t, first.ID, list[0].ID)
	require.Equal(t, second.ID, list[1].ID)
}
