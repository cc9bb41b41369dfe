package models

import "time"

// Audit actions recorded by the engine.
const (
	AuditActionWorkflowActivated  = "workflow.activated"
	AuditActionWorkflowCancelled  = "workflow.cancelled"
	AuditActionTaskTransitioned   = "task.transitioned"
	AuditActionTaskRetried        = "task.retried"
	AuditActionInterruptOpened    = "interrupt.opened"
	AuditActionInterruptResolved  = "interrupt.resolved"
	AuditActionInterruptEscalated = "interrupt.escalated"
)

// AuditEvent is one append-only compliance record. Events are never mutated
// or deleted; a failed audit write aborts the transaction that produced it.
type AuditEvent struct {
	ID          string         `json:"id"`
	Actor       string         `json:"actor"`
	Action      string         `json:"action"`
	ResourceRef string         `json:"resource_ref"`
	EventData   map[string]any `json:"event_data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
