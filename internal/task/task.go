// Package task defines the data model shared by the task store, the
// dependency graph, and every read-side projection: Task, TaskEvent,
// Dependency and their enumerated fields, per spec.md §3.
package task

import "time"

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusBlocked     Status = "blocked"
)

// StatusRank gives the fixed lexicographic sort order for Filter's
// categorical sort key (§4.6): blocked < in_progress < pending < completed
// < cancelled < failed.
func (s Status) StatusRank() int {
	switch s {
	case StatusBlocked:
		return 0
	case StatusInProgress:
		return 1
	case StatusPending:
		return 2
	case StatusCompleted:
		return 3
	case StatusCancelled:
		return 4
	case StatusFailed:
		return 5
	default:
		return 6
	}
}

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority is the urgency level of a Task.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// PriorityRank gives the fixed lexicographic sort order for Filter's
// categorical sort key: critical < high < medium < low.
func (p Priority) PriorityRank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Task is the engine's central record, identified by a server-assigned id.
type Task struct {
	ID          string
	Title       string
	Repository  string
	Description string
	Status      Status
	Priority    Priority
	Assignee    string
	Tags        []string
	Metadata    map[string]string
	DueDate     *time.Time
	ExternalID  string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	CreatedBy   string
}

// HasTag reports whether t carries the given tag.
func (t *Task) HasTag(tag string) bool {
	for _, g := range t.Tags {
		if g == tag {
			return true
		}
	}
	return false
}

// HasAllTags reports whether t carries every tag in tags (ALL-match, the
// semantics TaskStore.List uses per spec.md §4.3).
func (t *Task) HasAllTags(tags []string) bool {
	for _, want := range tags {
		if !t.HasTag(want) {
			return false
		}
	}
	return true
}

// HasAnyTag reports whether t carries at least one tag in tags (ANY-match,
// the semantics Filter adds beyond the store per spec.md §4.6).
func (t *Task) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		if t.HasTag(want) {
			return true
		}
	}
	return false
}

// EventType is the closed taxonomy of TaskEvent kinds (spec.md §3).
type EventType string

const (
	EventCreated           EventType = "CREATED"
	EventUpdated           EventType = "UPDATED"
	EventDeleted           EventType = "DELETED"
	EventStatusChanged     EventType = "STATUS_CHANGED"
	EventPriorityChanged   EventType = "PRIORITY_CHANGED"
	EventAssigned          EventType = "ASSIGNED"
	EventUnassigned        EventType = "UNASSIGNED"
	EventBlocked           EventType = "BLOCKED"
	EventUnblocked         EventType = "UNBLOCKED"
	EventCompleted         EventType = "COMPLETED"
	EventFailed            EventType = "FAILED"
	EventCancelled         EventType = "CANCELLED"
	EventDependencyAdded   EventType = "DEPENDENCY_ADDED"
	EventDependencyRemoved EventType = "DEPENDENCY_REMOVED"
	EventCommentAdded      EventType = "COMMENT_ADDED"
	EventTagAdded          EventType = "TAG_ADDED"
	EventTagRemoved        EventType = "TAG_REMOVED"
	EventWebhookReceived   EventType = "WEBHOOK_RECEIVED"
	EventSynced            EventType = "SYNCED"
)

// Event is an immutable record appended to the event log.
type Event struct {
	ID             string
	TaskID         string
	EventType      EventType
	Data           map[string]any
	Actor          string
	OccurredAt     time.Time
	CorrelationID  string
	IdempotencyKey string
}

// DependencyType classifies an edge between two tasks.
type DependencyType string

const (
	DependencyBlocks   DependencyType = "BLOCKS"
	DependencyRequires DependencyType = "REQUIRES"
	DependencyRelated  DependencyType = "RELATED"
)

// HasCycleSemantics reports whether edges of this type participate in the
// acyclic BLOCKS∪REQUIRES subgraph. RELATED is an undirected annotation
// layer exempt from cycle checking (spec.md §9, open question resolved).
func (t DependencyType) HasCycleSemantics() bool {
	return t == DependencyBlocks || t == DependencyRequires
}

// DependencyStatus tracks how an edge's determining side is progressing.
type DependencyStatus string

const (
	DependencyPending   DependencyStatus = "PENDING"
	DependencySatisfied DependencyStatus = "SATISFIED"
	DependencyFailed    DependencyStatus = "FAILED"
	DependencyBlocked   DependencyStatus = "BLOCKED"
)

// Dependency is a directed edge source -> target, possibly cross-repo.
type Dependency struct {
	ID             string
	SourceTaskID   string
	TargetTaskID   string
	SourceRepo     string
	TargetRepo     string
	Type           DependencyType
	Status         DependencyStatus
	IsCrossRepo    bool
	CreatedAt      time.Time
}

// Draft is the caller-supplied shape for TaskStore.Create.
type Draft struct {
	Title       string
	Repository  string
	Description string
	Priority    Priority
	Assignee    string
	Tags        []string
	Metadata    map[string]string
	DueDate     *time.Time
	ExternalID  string
	CreatedBy   string
}

// Patch is the caller-supplied shape for TaskStore.Update: only non-nil
// fields are written.
type Patch struct {
	Title       *string
	Description *string
	Status      *Status
	Priority    *Priority
	Assignee    *string
	Tags        *[]string
	Metadata    map[string]string
	DueDate     **time.Time
	ExternalID  *string
}

// Filter is the shared shape TaskStore.List/Count accept (spec.md §4.3).
type Filter struct {
	Repository    string
	Status        Status
	Priority      Priority
	Assignee      string
	Tags          []string // ALL-match at the store layer
	Search        string
	DueBefore     *time.Time
	DueAfter      *time.Time
	CreatedAfter  *time.Time
	Limit         int
	Offset        int
}
