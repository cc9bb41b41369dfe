package models

import "time"

// WorkflowStatus is the aggregate status of a workflow instance. It is always
// derived from the statuses of the workflow's tasks and never stored
// independently.
type WorkflowStatus string

const (
	WorkflowStatusNotStarted WorkflowStatus = "not_started"
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusBlocked    WorkflowStatus = "blocked" // A task needs human intervention
	WorkflowStatusCompleted  WorkflowStatus = "completed"
)

// WorkflowInstance is a read model of a business workflow (a document, lien or
// payoff file moving through processing). The record itself is owned by the
// orchestration boundary; this engine only derives its status from tasks.
type WorkflowInstance struct {
	ID               string         `json:"id"`
	WorkflowType     string         `json:"workflow_type"`
	Status           WorkflowStatus `json:"status"`
	DueDate          *time.Time     `json:"due_date,omitempty"`
	AssignedOperator string         `json:"assigned_operator,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// DeriveWorkflowStatus computes the aggregate workflow status from its tasks:
// COMPLETED when every task is COMPLETED, BLOCKED when any task is in
// INTERRUPT or terminally FAILED, IN_PROGRESS when any task has started, and
// NOT_STARTED otherwise. This is the single place aggregate status is
// computed; callers must never recompute it ad hoc.
func DeriveWorkflowStatus(tasks []*TaskExecution) WorkflowStatus {
	if len(tasks) == 0 {
		return WorkflowStatusNotStarted
	}

	allCompleted := true
	anyStarted := false

	for _, task := range tasks {
		if task.Status == TaskStatusInterrupt {
			return WorkflowStatusBlocked
		}

		if task.Status == TaskStatusFailed && task.RetriesExhausted() {
			return WorkflowStatusBlocked
		}

		if task.Status != TaskStatusCompleted {
			allCompleted = false
		}

		if task.Status != TaskStatusNotStarted {
			anyStarted = true
		}
	}

	if allCompleted {
		return WorkflowStatusCompleted
	}

	if anyStarted {
		return WorkflowStatusInProgress
	}

	return WorkflowStatusNotStarted
}
