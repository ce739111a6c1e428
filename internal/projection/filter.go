package projection

import (
	"sort"
	"strings"
	"time"

	"alex/internal/task"
)

// Query is Filter's refinement spec — everything TaskStore.List's Filter
// cannot express in one SQL query: multiple statuses/priorities, ANY-tag
// match, date ranges, substring search, and pagination.
type Query struct {
	Statuses        []task.Status
	Priorities      []task.Priority
	Tags            []string // ANY-match
	SearchText      string
	SearchFields    []string // defaults to title+description when empty
	LastNDays       int
	RangeStart      *time.Time
	RangeEnd        *time.Time
	ExcludeCompleted bool
	SortBy          string // "status", "priority" or "due_date"; anything else sorts by CreatedAt
	SortDescending  bool
	Page            int
	PageSize        int
}

// Page is Filter's paginated result shape.
type Page struct {
	Tasks      []*task.Task
	TotalCount int
	Page       int
	PageSize   int
	TotalPages int
	HasMore    bool
}

// Apply refines tasks in memory per q and returns one page of results.
func Apply(tasks []*task.Task, q Query, now time.Time) Page {
	matched := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		if matchesQuery(t, q, now) {
			matched = append(matched, t)
		}
	}

	sortTasks(matched, q.SortBy, q.SortDescending)

	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	total := len(matched)
	totalPages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return Page{
		Tasks:      matched[start:end],
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		HasMore:    end < total,
	}
}

func matchesQuery(t *task.Task, q Query, now time.Time) bool {
	if q.ExcludeCompleted && t.Status == task.StatusCompleted {
		return false
	}
	if len(q.Statuses) > 0 && !containsStatus(q.Statuses, t.Status) {
		return false
	}
	if len(q.Priorities) > 0 && !containsPriority(q.Priorities, t.Priority) {
		return false
	}
	if len(q.Tags) > 0 && !t.HasAnyTag(q.Tags) {
		return false
	}
	if q.LastNDays > 0 {
		cutoff := now.AddDate(0, 0, -q.LastNDays)
		if t.CreatedAt.Before(cutoff) {
			return false
		}
	}
	if q.RangeStart != nil && t.CreatedAt.Before(*q.RangeStart) {
		return false
	}
	if q.RangeEnd != nil && t.CreatedAt.After(*q.RangeEnd) {
		return false
	}
	if q.SearchText != "" && !matchesSearchText(t, q) {
		return false
	}
	return true
}

func matchesSearchText(t *task.Task, q Query) bool {
	needle := strings.ToLower(q.SearchText)
	fields := q.SearchFields
	if len(fields) == 0 {
		fields = []string{"title", "description"}
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(fieldValue(t, field)), needle) {
			return true
		}
	}
	return false
}

func fieldValue(t *task.Task, field string) string {
	switch field {
	case "title":
		return t.Title
	case "description":
		return t.Description
	case "tags":
		return strings.Join(t.Tags, " ")
	case "assignee":
		return t.Assignee
	default:
		return ""
	}
}

func containsStatus(set []task.Status, s task.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsPriority(set []task.Priority, p task.Priority) bool {
	for _, v := range set {
		if v == p {
			return true
		}
	}
	return false
}

// sortTasks orders by the fixed categorical ranks for "status"/"priority",
// by DueDate for "due_date" (tasks without one sort last), or by CreatedAt
// when sortBy is empty or unrecognized.
func sortTasks(tasks []*task.Task, sortBy string, descending bool) {
	less := func(i, j int) bool {
		switch sortBy {
		case "status":
			return tasks[i].Status.StatusRank() < tasks[j].Status.StatusRank()
		case "priority":
			return tasks[i].Priority.PriorityRank() < tasks[j].Priority.PriorityRank()
		case "due_date":
			return dueDateBefore(tasks[i], tasks[j])
		default:
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
	}
	if descending {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.SliceStable(tasks, less)
}

func dueDateBefore(a, b *task.Task) bool {
	if a.DueDate == nil {
		return false
	}
	if b.DueDate == nil {
		return true
	}
	return a.DueDate.Before(*b.DueDate)
}
