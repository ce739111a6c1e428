package broadcaster

import (
	"fmt"

	"alex/internal/push"
)

// The methods below are the domain-level emit calls spec.md §4.9 names.
// Each knows its own room name and wraps publish with the matching event
// envelope; callers (Coordinator, TaskStore, worker/pool management) never
// construct a push.Frame themselves.

func (b *Broadcaster) WorkerAdded(poolID, workerID string) {
	b.publish(poolRoom(poolID), push.Frame{Event: "worker.added", Data: map[string]any{
		"pool_id": poolID, "worker_id": workerID,
	}})
}

func (b *Broadcaster) PoolScaled(poolID string, size int) {
	b.publish(poolRoom(poolID), push.Frame{Event: "pool.scaled", Data: map[string]any{
		"pool_id": poolID, "size": size,
	}})
}

// TaskAssigned and TaskCompleted have no per-task or per-repository room in
// §6's enumeration (global, workflow:{id}, pool:{id}, worker:{id},
// symbiotic:ecosystem), so they broadcast to global with repository carried
// in the payload instead of the room name.
func (b *Broadcaster) TaskAssigned(taskID, repository, assignee string) {
	b.publish(globalRoom, push.Frame{Event: "task.assigned", Data: map[string]any{
		"task_id": taskID, "repository": repository, "assignee": assignee,
	}})
}

func (b *Broadcaster) TaskCompleted(taskID, repository string) {
	b.publish(globalRoom, push.Frame{Event: "task.completed", Data: map[string]any{
		"task_id": taskID, "repository": repository,
	}})
}

func (b *Broadcaster) WorkflowStarted(workflowID, goal string) {
	b.publish(workflowRoom(workflowID), push.Frame{Event: "workflow.started", Data: map[string]any{
		"workflow_id": workflowID, "goal": goal,
	}})
}

func (b *Broadcaster) WorkflowStageCompleted(workflowID, stepID, taskID string) {
	b.publish(workflowRoom(workflowID), push.Frame{Event: "workflow.stage_completed", Data: map[string]any{
		"workflow_id": workflowID, "step_id": stepID, "task_id": taskID,
	}})
}

func (b *Broadcaster) WorkflowCompleted(workflowID string) {
	b.publish(workflowRoom(workflowID), push.Frame{Event: "workflow.completed", Data: map[string]any{
		"workflow_id": workflowID,
	}})
}

func (b *Broadcaster) WorkflowFailed(workflowID, reason string) {
	b.publish(workflowRoom(workflowID), push.Frame{Event: "workflow.failed", Data: map[string]any{
		"workflow_id": workflowID, "reason": reason,
	}})
}

func (b *Broadcaster) WorkerStatusChanged(poolID, workerID, status string) {
	b.publish(poolRoom(poolID), push.Frame{Event: "worker.status_changed", Data: map[string]any{
		"pool_id": poolID, "worker_id": workerID, "status": status,
	}})
}

const globalRoom = "global"

func poolRoom(poolID string) string { return fmt.Sprintf("pool:%s", poolID) }

func workflowRoom(workflowID string) string { return fmt.Sprintf("workflow:%s", workflowID) }
