// Package web provides HTTP request and response types for the task
// execution tracking API.
package web

import (
	"github.com/titleworks/lientrack/pkg/models"
)

// ActivateWorkflowRequest represents the request body for activating a
// workflow's execution plan.
type ActivateWorkflowRequest struct {
	WorkflowType     string `json:"workflow_type"     validate:"required"`
	AssignedOperator string `json:"assigned_operator"`
	Actor            string `json:"actor"             validate:"required"`
}

// TransitionTaskRequest represents the request body for a task status change.
type TransitionTaskRequest struct {
	Status            string         `json:"status"             validate:"required,oneof=not_started in_progress interrupt completed failed"`
	Actor             string         `json:"actor"              validate:"required"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	OutputData        map[string]any `json:"output_data,omitempty"`
	InterruptReason   string         `json:"interrupt_reason,omitempty"`
	InterruptPriority string         `json:"interrupt_priority,omitempty" validate:"omitempty,oneof=low medium high urgent"`
}

// RetryTaskRequest represents the request body for retrying a failed task.
type RetryTaskRequest struct {
	Actor string `json:"actor" validate:"required"`
}

// CancelWorkflowRequest represents the request body for cancelling the open
// tasks of a workflow.
type CancelWorkflowRequest struct {
	Reason string `json:"reason" validate:"required"`
	Actor  string `json:"actor"  validate:"required"`
}

// OpenInterruptRequest represents the request body for pausing a task into
// human review.
type OpenInterruptRequest struct {
	Reason   string `json:"reason"   validate:"required"`
	Priority string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Actor    string `json:"actor"    validate:"required"`
}

// ResolveInterruptRequest represents the request body for resolving an open
// interrupt.
type ResolveInterruptRequest struct {
	Outcome    string         `json:"outcome"     validate:"required,oneof=resume complete"`
	Notes      string         `json:"notes"`
	ResolvedBy string         `json:"resolved_by" validate:"required"`
	OutputData map[string]any `json:"output_data,omitempty"`
}

// WorkflowStatusResponse reports the derived aggregate status of a workflow
// together with its task executions.
type WorkflowStatusResponse struct {
	WorkflowID string                  `json:"workflow_id"`
	Status     models.WorkflowStatus   `json:"status"`
	Tasks      []*models.TaskExecution `json:"tasks"`
}

// CancelWorkflowResponse reports how many tasks a cancellation force-failed.
type CancelWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
	Cancelled  int    `json:"cancelled"`
}

// ResolveInterruptResponse carries the resolved interrupt and the task it
// transitioned.
type ResolveInterruptResponse struct {
	Interrupt *models.Interrupt     `json:"interrupt"`
	Task      *models.TaskExecution `json:"task"`
}

// MarkAllReadResponse reports how many notifications were marked read.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}
