package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alex/internal/task"
)

// TaskCreator is the subset of TaskStore IssueImporter needs.
type TaskCreator interface {
	Create(ctx context.Context, draft task.Draft) (*task.Task, error)
}

// ExternalIssue is the upstream issue shape, already normalised out of
// whichever upstream's raw payload produced it.
type ExternalIssue struct {
	ExternalID string
	Repository string
	Title      string
	Body       string
	Labels     []string
	Closed     bool
	URL        string
}

// ImportBatch accumulates the outcome counters of a bulk import run.
type ImportBatch struct {
	Imported int
	Skipped  int
	Failed   int
}

// IssueImporter is the IssueImporter component.
type IssueImporter struct {
	tasks  TaskCreator
	filter ImportFilter

	mu       sync.Mutex
	mappings []IssueMapping
	seen     map[string]bool
}

// NewIssueImporter builds an IssueImporter applying filter to every
// candidate issue.
func NewIssueImporter(tasks TaskCreator, filter ImportFilter) *IssueImporter {
	return &IssueImporter{tasks: tasks, filter: filter, seen: map[string]bool{}}
}

// ImportEvent is the entry point WebhookReceiver calls for an
// issue-opened delivery: it extracts the issue from the event payload and
// imports it.
func (im *IssueImporter) ImportEvent(event WebhookEvent) Result {
	issue := issueFromPayload(event)
	task, skipped, err := im.Import(context.Background(), SourceUpstreamA, issue)
	switch {
	case err != nil:
		return Result{Success: false, Message: err.Error()}
	case skipped:
		return Result{Success: true, Message: "skipped by import filter"}
	default:
		return Result{Success: true, Message: fmt.Sprintf("imported as %s", task.ID)}
	}
}

func issueFromPayload(event WebhookEvent) ExternalIssue {
	issue, _ := event.Payload["issue"].(map[string]any)
	title, _ := issue["title"].(string)
	body, _ := issue["body"].(string)
	externalID, _ := issue["id"].(string)
	url, _ := issue["html_url"].(string)
	closed, _ := issue["closed"].(bool)
	var labels []string
	if raw, ok := issue["labels"].([]any); ok {
		for _, l := range raw {
			if name, ok := l.(string); ok {
				labels = append(labels, name)
			}
		}
	}
	return ExternalIssue{
		ExternalID: externalID, Repository: event.Repository, Title: title,
		Body: body, Labels: labels, Closed: closed, URL: url,
	}
}

// Import consults the filter and dedup set, then creates a task for issue
// when accepted. Returns skipped=true (not an error) when the filter or
// dedup set rejects it.
func (im *IssueImporter) Import(ctx context.Context, source Source, issue ExternalIssue) (*task.Task, bool, error) {
	key := fmt.Sprintf("%s:%s", source, issue.ExternalID)

	im.mu.Lock()
	if im.seen[key] {
		im.mu.Unlock()
		return nil, true, nil
	}
	im.mu.Unlock()

	if !im.filter.accepts(issue.Repository, issue.Labels, issue.Closed, issue.Title) {
		return nil, true, nil
	}

	draft := task.Draft{
		Title:       issue.Title,
		Repository:  issue.Repository,
		Description: issue.Body,
		Priority:    task.PriorityMedium,
		Tags:        issue.Labels,
		ExternalID:  issue.ExternalID,
		Metadata: map[string]string{
			"external_source": string(source),
			"external_id":     issue.ExternalID,
			"external_url":    issue.URL,
		},
		CreatedBy: "issue-importer",
	}

	created, err := im.tasks.Create(ctx, draft)
	if err != nil {
		return nil, false, err
	}

	im.mu.Lock()
	im.seen[key] = true
	im.mappings = append(im.mappings, IssueMapping{
		Source: source, ExternalID: issue.ExternalID, TaskID: created.ID,
		Repository: issue.Repository, MappedAt: time.Now().UTC(), Approved: true,
	})
	im.mu.Unlock()

	return created, false, nil
}

// ImportMany imports a batch of issues, accumulating outcome counts.
func (im *IssueImporter) ImportMany(ctx context.Context, source Source, issues []ExternalIssue) ImportBatch {
	var batch ImportBatch
	for _, issue := range issues {
		_, skipped, err := im.Import(ctx, source, issue)
		switch {
		case err != nil:
			batch.Failed++
		case skipped:
			batch.Skipped++
		default:
			batch.Imported++
		}
	}
	return batch
}

// Mappings returns every recorded IssueMapping so far.
func (im *IssueImporter) Mappings() []IssueMapping {
	im.mu.Lock()
	defer im.mu.Unlock()
	out := make([]IssueMapping, len(im.mappings))
	copy(out, im.mappings)
	return out
}
