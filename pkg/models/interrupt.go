package models

import "time"

// InterruptStatus is the lifecycle state of a HIL review item.
type InterruptStatus string

const (
	InterruptStatusOpen     InterruptStatus = "open"
	InterruptStatusResolved InterruptStatus = "resolved"
)

// Priority orders human attention. Used for both interrupts and notifications.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Interrupt is an open item requiring human resolution before its task can
// proceed. At most one OPEN interrupt exists per task; interrupts are never
// physically deleted.
type Interrupt struct {
	ID              string          `json:"id"`
	TaskID          string          `json:"task_id"`
	WorkflowID      string          `json:"workflow_id"`
	Reason          string          `json:"reason"`
	Priority        Priority        `json:"priority"`
	Status          InterruptStatus `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy      string          `json:"resolved_by,omitempty"`
	ResolutionNotes string          `json:"resolution_notes,omitempty"`
}

// Clone returns a deep copy of the interrupt.
func (i *Interrupt) Clone() *Interrupt {
	clone := *i

	if i.ResolvedAt != nil {
		resolved := *i.ResolvedAt
		clone.ResolvedAt = &resolved
	}

	return &clone
}

// ResolutionOutcome selects the task transition performed when an interrupt
// is resolved.
type ResolutionOutcome string

const (
	// ResolutionOutcomeResume returns the task to automated execution.
	ResolutionOutcomeResume ResolutionOutcome = "resume"
	// ResolutionOutcomeComplete marks the task manually completed.
	ResolutionOutcomeComplete ResolutionOutcome = "complete"
)

// Resolution captures a HIL decision on an open interrupt.
type Resolution struct {
	Outcome    ResolutionOutcome `json:"outcome"    validate:"required,oneof=resume complete"`
	Notes      string            `json:"notes"`
	ResolvedBy string            `json:"resolved_by" validate:"required"`
	OutputData map[string]any    `json:"output_data,omitempty"`
}

// TaskStatusFor maps the resolution outcome to the task's next status.
func (r Resolution) TaskStatusFor() TaskStatus {
	if r.Outcome == ResolutionOutcomeComplete {
		return TaskStatusCompleted
	}

	return TaskStatusInProgress
}
