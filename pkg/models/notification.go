package models

import "time"

// NotificationType categorizes HIL notifications.
type NotificationType string

const (
	NotificationTypeSLAWarning        NotificationType = "sla_warning"
	NotificationTypeInterruptOpened   NotificationType = "interrupt_opened"
	NotificationTypeInterruptResolved NotificationType = "interrupt_resolved"
	NotificationTypeTaskFailed        NotificationType = "task_failed"
	NotificationTypeWorkflowBlocked   NotificationType = "workflow_blocked"
	NotificationTypeWorkflowCompleted NotificationType = "workflow_completed"
)

// ActionRef points a notification at the task or workflow it concerns.
type ActionRef struct {
	TaskID      string `json:"task_id,omitempty"`
	WorkflowID  string `json:"workflow_id,omitempty"`
	InterruptID string `json:"interrupt_id,omitempty"`
}

// Notification is a persisted message for a human operator. Persistence is
// the durable contract; live push to connected listeners is best-effort.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Priority  Priority         `json:"priority"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	ActionRef ActionRef        `json:"action_ref"`
	CreatedAt time.Time        `json:"created_at"`
}

// Clone returns a copy of the notification.
func (n *Notification) Clone() *Notification {
	clone := *n

	return &clone
}
