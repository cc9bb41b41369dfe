// Package models defines the core domain models for workflow execution tracking.
package models

import "time"

// TaskStatus represents the execution state of a single task.
type TaskStatus string

const (
	TaskStatusNotStarted TaskStatus = "not_started" // Waiting on dependencies or a retry restart
	TaskStatusInProgress TaskStatus = "in_progress" // Executor (AI agent or human) is working
	TaskStatusInterrupt  TaskStatus = "interrupt"   // Paused for human-in-the-loop review
	TaskStatusCompleted  TaskStatus = "completed"   // Terminal success
	TaskStatusFailed     TaskStatus = "failed"      // Unrecoverable error; may be retried
)

// ExecutorKind identifies who performs a task.
type ExecutorKind string

const (
	ExecutorKindAI    ExecutorKind = "ai"
	ExecutorKindHuman ExecutorKind = "human"
)

// SLAStatus classifies a task's position relative to its deadline.
type SLAStatus string

const (
	SLAStatusOnTime   SLAStatus = "on_time"
	SLAStatusAtRisk   SLAStatus = "at_risk"
	SLAStatusBreached SLAStatus = "breached"
)

// TaskExecution is a single row of the execution log: one task materialized
// from a blueprint, mutated only through the state machine engine.
type TaskExecution struct {
	ID               string         `json:"id"`
	WorkflowID       string         `json:"workflow_id"`
	WorkflowType     string         `json:"workflow_type"`
	TaskType         string         `json:"task_type"`
	ExecutorKind     ExecutorKind   `json:"executor_kind"`
	SequenceOrder    int            `json:"sequence_order"`
	Status           TaskStatus     `json:"status"`
	Dependencies     []string       `json:"dependencies,omitempty"`
	SLAHours         int            `json:"sla_hours"`
	SLADueAt         *time.Time     `json:"sla_due_at,omitempty"`
	SLAStatus        SLAStatus      `json:"sla_status"`
	RetryCount       int            `json:"retry_count"`
	MaxRetries       int            `json:"max_retries"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	OutputData       map[string]any `json:"output_data,omitempty"`
	AssignedOperator string         `json:"assigned_operator,omitempty"`
	Version          int64          `json:"version"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// legalTransitions is the task state graph. Any edge not listed here is
// rejected by the engine. FAILED -> NOT_STARTED is the retry edge and is
// additionally gated on the retry budget. Workflow cancellation force-fails
// tasks as a batch operation and does not pass through this graph.
var legalTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusNotStarted: {TaskStatusInProgress},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusInterrupt, TaskStatusFailed},
	TaskStatusInterrupt:  {TaskStatusInProgress, TaskStatusCompleted},
	TaskStatusFailed:     {TaskStatusNotStarted},
	TaskStatusCompleted:  {},
}

// CanTransition reports whether the edge from -> to exists in the state graph.
func CanTransition(from, to TaskStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// IsValidTaskStatus reports whether s names a known task status.
func IsValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusNotStarted, TaskStatusInProgress, TaskStatusInterrupt, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the task has reached a terminal state. FAILED is
// terminal only once the retry budget is exhausted.
func (t *TaskExecution) IsTerminal() bool {
	if t.Status == TaskStatusCompleted {
		return true
	}

	return t.Status == TaskStatusFailed && t.RetryCount >= t.MaxRetries
}

// IsOpen reports whether the task is still subject to SLA evaluation.
func (t *TaskExecution) IsOpen() bool {
	return t.Status == TaskStatusNotStarted ||
		t.Status == TaskStatusInProgress ||
		t.Status == TaskStatusInterrupt
}

// RetriesExhausted reports whether the task has no retry budget left.
func (t *TaskExecution) RetriesExhausted() bool {
	return t.RetryCount >= t.MaxRetries
}

// Clone returns a deep copy of the task execution.
func (t *TaskExecution) Clone() *TaskExecution {
	clone := *t

	if t.Dependencies != nil {
		clone.Dependencies = append([]string(nil), t.Dependencies...)
	}

	if t.OutputData != nil {
		clone.OutputData = make(map[string]any, len(t.OutputData))
		for k, v := range t.OutputData {
			clone.OutputData[k] = v
		}
	}

	if t.SLADueAt != nil {
		due := *t.SLADueAt
		clone.SLADueAt = &due
	}

	if t.StartedAt != nil {
		started := *t.StartedAt
		clone.StartedAt = &started
	}

	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}

	return &clone
}
