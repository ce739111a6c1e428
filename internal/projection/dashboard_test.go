package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alex/internal/task"
)

func TestDashboardHealthyWhenNoRisk(t *testing.T) {
	now := time.Now()
	tasks := []*task.Task{
		{ID: "1", Status: task.StatusCompleted, Priority: task.PriorityLow, CreatedAt: now},
	}
	d := Dashboard(tasks, now)
	require.Equal(t, HealthHealthy, d.Health)
	require.Empty(t, d.AtRiskTasks)
}

func TestDashboardCriticalOnHighBlockedRate(t *testing.T) {
	now := time.Now()
	tasks := []*task.Task{
		{ID: "1", Status: task.StatusBlocked, Priority: task.PriorityCritical, CreatedAt: now},
		{ID: "2", Status: task.StatusBlocked, Priority: task.PriorityHigh, CreatedAt: now},
		{ID: "3", Status: task.StatusPending, Priority: task.PriorityLow, CreatedAt: now},
	}
	d := Dashboard(tasks, now)
	require.Equal(t, HealthCritical, d.Health)
	require.Equal(t, 2, d.Risk.BlockedCount)
	require.Len(t, d.AtRiskTasks, 2)
}

func TestDashboardFlagsOverdueAndStale(t *testing.T) {
	now := time.Now()
	past := now.Add(-1 * time.Hour)
	staleCreated := now.Add(-20 * 24 * time.Hour)
	tasks := []*task.Task{
		{ID: "1", Status: task.StatusInProgress, Priority: task.PriorityLow, DueDate: &past, CreatedAt: now},
		{ID: "2", Status: task.StatusPending, Priority: task.PriorityLow, CreatedAt: staleCreated},
	}
	d := Dashboard(tasks, now)
	require.Equal(t, 1, d.Risk.OverdueCount)
	require.Equal(t, 1, d.Risk.StaleCount)
}

func TestDashboardVelocityTrend(t *testing.T) {
	now := time.Now()
	oldCreated1 := now.Add(-10 * 24 * time.Hour)
	oldCreated2 := now.Add(-9 * 24 * time.Hour)
	recentCompletion1 := now.Add(-1 * time.Hour)
	recentCompletion2 := now.Add(-2 * time.Hour)
	recentCreated := now.Add(-3 * 24 * time.Hour)
	tasks := []*task.Task{
		{ID: "1", Status: task.StatusCompleted, Priority: task.PriorityLow, CreatedAt: oldCreated1, CompletedAt: &recentCompletion1},
		{ID: "2", Status: task.StatusCompleted, Priority: task.PriorityLow, CreatedAt: oldCreated2, CompletedAt: &recentCompletion2},
		{ID: "3", Status: task.StatusPending, Priority: task.PriorityLow, CreatedAt: recentCreated},
	}
	d := Dashboard(tasks, now)
	require.Equal(t, 1, d.Activity.CreatedLast7d)
	require.Equal(t, 2, d.Activity.CompletedLast7d)
	require.Equal(t, VelocityIncreasing, d.Activity.VelocityTrend)
}
