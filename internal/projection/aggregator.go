// Package projection implements the read-side views of spec.md §4.6:
// Aggregator, Filter, Search, and Dashboard, all computed over TaskStore
// output rather than stored themselves. Grounded on the teacher's
// in-memory grouping/ranking helpers (internal/infra/task's group-by and
// score-and-sort utilities) adapted to the task domain.
package projection

import (
	"context"
	"sort"

	"alex/internal/task"
)

// TaskLister is the read surface Aggregator needs from TaskStore.
type TaskLister interface {
	List(ctx context.Context, f task.Filter) ([]*task.Task, error)
}

// Aggregator groups TaskStore output along several axes.
type Aggregator struct {
	store TaskLister
}

func NewAggregator(store TaskLister) *Aggregator {
	return &Aggregator{store: store}
}

// AggregateAll fetches every task in one query.
func (a *Aggregator) AggregateAll(ctx context.Context) ([]*task.Task, error) {
	return a.store.List(ctx, task.Filter{})
}

// AggregateWithFilter issues one List per name in repoNames (the
// underlying store filter takes a single repository) and concatenates the
// results; an empty repoNames runs f as a single query.
func (a *Aggregator) AggregateWithFilter(ctx context.Context, repoNames []string, f task.Filter) ([]*task.Task, error) {
	if len(repoNames) == 0 {
		return a.store.List(ctx, f)
	}
	var out []*task.Task
	for _, repo := range repoNames {
		scoped := f
		scoped.Repository = repo
		tasks, err := a.store.List(ctx, scoped)
		if err != nil {
			return nil, err
		}
		out = append(out, tasks...)
	}
	return out, nil
}

// AggregateByRepo groups every task by its repository.
func (a *Aggregator) AggregateByRepo(ctx context.Context) (map[string][]*task.Task, error) {
	tasks, err := a.AggregateAll(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string][]*task.Task{}
	for _, t := range tasks {
		out[t.Repository] = append(out[t.Repository], t)
	}
	return out, nil
}

// AggregateByStatus groups every task by status.
func (a *Aggregator) AggregateByStatus(ctx context.Context) (map[task.Status][]*task.Task, error) {
	tasks, err := a.AggregateAll(ctx)
	if err != nil {
		return nil, err
	}
	out := map[task.Status][]*task.Task{}
	for _, t := range tasks {
		out[t.Status] = append(out[t.Status], t)
	}
	return out, nil
}

// AggregateByPriority groups every task by priority.
func (a *Aggregator) AggregateByPriority(ctx context.Context) (map[task.Priority][]*task.Task, error) {
	tasks, err := a.AggregateAll(ctx)
	if err != nil {
		return nil, err
	}
	out := map[task.Priority][]*task.Task{}
	for _, t := range tasks {
		out[t.Priority] = append(out[t.Priority], t)
	}
	return out, nil
}

// AggregateByTag groups every task under each tag it carries; a task with
// N tags appears in N groups.
func (a *Aggregator) AggregateByTag(ctx context.Context) (map[string][]*task.Task, error) {
	tasks, err := a.AggregateAll(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string][]*task.Task{}
	for _, t := range tasks {
		for _, tag := range t.Tags {
			out[tag] = append(out[tag], t)
		}
	}
	return out, nil
}

// AggregateByRole groups every task by its assignee — the closest concept
// to a "role" the domain model exposes; unassigned tasks group under "".
func (a *Aggregator) AggregateByRole(ctx context.Context) (map[string][]*task.Task, error) {
	tasks, err := a.AggregateAll(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string][]*task.Task{}
	for _, t := range tasks {
		out[t.Assignee] = append(out[t.Assignee], t)
	}
	return out, nil
}

// Summary is Aggregator.Summary's result.
type Summary struct {
	Total         int
	ByStatus      map[task.Status]int
	CriticalCount int
}

// Summary returns totals plus per-status counts plus a critical_count:
// tasks whose priority is high or critical AND status is blocked or
// in_progress.
func (a *Aggregator) Summary(ctx context.Context) (Summary, error) {
	tasks, err := a.AggregateAll(ctx)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{Total: len(tasks), ByStatus: map[task.Status]int{}}
	for _, t := range tasks {
		s.ByStatus[t.Status]++
		highPriority := t.Priority == task.PriorityHigh || t.Priority == task.PriorityCritical
		activelyBlocked := t.Status == task.StatusBlocked || t.Status == task.StatusInProgress
		if highPriority && activelyBlocked {
			s.CriticalCount++
		}
	}
	return s, nil
}

// RepoHealthScore is one entry of ReposNeedingAttention.
type RepoHealthScore struct {
	Repository string
	Score      float64
}

// ReposNeedingAttention scores every repository as
// 50·blocked_rate + 5·(high_count + 2·critical_count) + 20·(1 − completion_rate)
// and returns the top limit repos descending by score.
func (a *Aggregator) ReposNeedingAttention(ctx context.Context, limit int) ([]RepoHealthScore, error) {
	byRepo, err := a.AggregateByRepo(ctx)
	if err != nil {
		return nil, err
	}
	scores := make([]RepoHealthScore, 0, len(byRepo))
	for repo, tasks := range byRepo {
		total := len(tasks)
		if total == 0 {
			continue
		}
		var blocked, completed, high, critical int
		for _, t := range tasks {
			if t.Status == task.StatusBlocked {
				blocked++
			}
			if t.Status == task.StatusCompleted {
				completed++
			}
			if t.Priority == task.PriorityHigh {
				high++
			}
			if t.Priority == task.PriorityCritical {
				critical++
			}
		}
		blockedRate := float64(blocked) / float64(total)
		completionRate := float64(completed) / float64(total)
		score := 50*blockedRate + 5*(float64(high)+2*float64(critical)) + 20*(1-completionRate)
		scores = append(scores, RepoHealthScore{Repository: repo, Score: score})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if limit > 0 && limit < len(scores) {
		scores = scores[:limit]
	}
	return scores, nil
}
