package projection

import (
	"time"

	"alex/internal/task"
)

const (
	staleDays = 14
)

// VelocityTrend summarizes whether a repo's completion pace is rising.
type VelocityTrend string

const (
	VelocityIncreasing VelocityTrend = "increasing"
	VelocityStable     VelocityTrend = "stable"
	VelocityDecreasing VelocityTrend = "decreasing"
)

// HealthStatus is a repo's overall classification.
type HealthStatus string

const (
	HealthCritical HealthStatus = "CRITICAL"
	HealthWarning  HealthStatus = "WARNING"
	HealthHealthy  HealthStatus = "HEALTHY"
)

// Distribution is the per-repo breakdown by status/priority/tag.
type Distribution struct {
	ByStatus   map[task.Status]int
	ByPriority map[task.Priority]int
	ByTag      map[string]int
}

// Activity is the per-repo recent-activity window.
type Activity struct {
	CreatedLast24h       int
	CompletedLast24h     int
	CreatedLast7d        int
	CompletedLast7d      int
	AvgCompletionHours   float64
	VelocityTrend        VelocityTrend
}

// Risk is the per-repo outstanding-risk tally.
type Risk struct {
	BlockedCount int
	OverdueCount int
	StaleCount   int
}

// RepoDashboard is Dashboard's per-repository result.
type RepoDashboard struct {
	Repository   string
	Distribution Distribution
	Activity     Activity
	Risk         Risk
	Health       HealthStatus
	AtRiskTasks  []string
}

// Dashboard returns a per-repository health view.
func Dashboard(tasks []*task.Task, now time.Time) RepoDashboard {
	dist := Distribution{
		ByStatus:   map[task.Status]int{},
		ByPriority: map[task.Priority]int{},
		ByTag:      map[string]int{},
	}
	var createdLast24h, completedLast24h, createdLast7d, completedLast7d int
	var completionHoursSum float64
	var completionCount int
	var blocked, overdue, stale int
	var atRisk []string
	var highBlocked int

	day := 24 * time.Hour
	week := 7 * day

	for _, t := range tasks {
		dist.ByStatus[t.Status]++
		dist.ByPriority[t.Priority]++
		for _, tag := range t.Tags {
			dist.ByTag[tag]++
		}

		if now.Sub(t.CreatedAt) <= day {
			createdLast24h++
		}
		if now.Sub(t.CreatedAt) <= week {
			createdLast7d++
		}
		if t.CompletedAt != nil {
			if now.Sub(*t.CompletedAt) <= day {
				completedLast24h++
			}
			if now.Sub(*t.CompletedAt) <= week {
				completedLast7d++
			}
			completionHoursSum += t.CompletedAt.Sub(t.CreatedAt).Hours()
			completionCount++
		}

		isOverdue := t.DueDate != nil && t.DueDate.Before(now) && !t.Status.IsTerminal()
		isStale := t.Status == task.StatusPending && now.Sub(t.CreatedAt) > staleDays*day

		if t.Status == task.StatusBlocked {
			blocked++
			atRisk = append(atRisk, t.ID)
			if t.Priority == task.PriorityHigh || t.Priority == task.PriorityCritical {
				highBlocked++
			}
		}
		if isOverdue {
			overdue++
			atRisk = append(atRisk, t.ID)
		}
		if isStale {
			stale++
			atRisk = append(atRisk, t.ID)
		}
	}

	var avgCompletionHours float64
	if completionCount > 0 {
		avgCompletionHours = completionHoursSum / float64(completionCount)
	}

	trend := VelocityStable
	if createdLast7d > 0 {
		ratio := float64(completedLast7d) / float64(createdLast7d)
		switch {
		case ratio > 1.1:
			trend = VelocityIncreasing
		case ratio < 0.9:
			trend = VelocityDecreasing
		}
	}

	total := len(tasks)
	var blockedRate float64
	if total > 0 {
		blockedRate = float64(blocked) / float64(total)
	}
	riskSignals := overdue > 0 || stale > 0 || blocked > 0
	riskHigh := blockedRate >= 0.25 || (overdue+stale+blocked) >= total/2 && total > 0

	health := HealthHealthy
	switch {
	case blockedRate >= 0.25 || riskHigh || highBlocked >= 2:
		health = HealthCritical
	case blockedRate >= 0.10 || riskSignals || highBlocked >= 1:
		health = HealthWarning
	}

	return RepoDashboard{
		Distribution: dist,
		Activity: Activity{
			CreatedLast24h: createdLast24h, CompletedLast24h: completedLast24h,
			CreatedLast7d: createdLast7d, CompletedLast7d: completedLast7d,
			AvgCompletionHours: avgCompletionHours, VelocityTrend: trend,
		},
		Risk:        Risk{BlockedCount: blocked, OverdueCount: overdue, StaleCount: stale},
		Health:      health,
		AtRiskTasks: dedupeStrings(atRisk),
	}
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
