// Package notifications builds, persists and delivers operator notifications.
// The persisted record is the durable contract; live push to connected
// clients is best-effort.
package notifications

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/titleworks/lientrack/pkg/models"
)

// DefaultRecipient receives notifications for tasks without an assigned
// operator.
const DefaultRecipient = "operations"

func recipientFor(task *models.TaskExecution) string {
	if task.AssignedOperator != "" {
		return task.AssignedOperator
	}

	return DefaultRecipient
}

func newNotification(userID string, kind models.NotificationType, priority models.Priority, title, message string, ref models.ActionRef) *models.Notification {
	return &models.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      kind,
		Priority:  priority,
		Title:     title,
		Message:   message,
		ActionRef: ref,
		CreatedAt: time.Now().UTC(),
	}
}

// NewInterruptOpened notifies the operator that a task paused for review.
func NewInterruptOpened(task *models.TaskExecution, interrupt *models.Interrupt) *models.Notification {
	return newNotification(
		recipientFor(task),
		models.NotificationTypeInterruptOpened,
		interrupt.Priority,
		fmt.Sprintf("Review needed: %s", task.TaskType),
		interrupt.Reason,
		models.ActionRef{TaskID: task.ID, WorkflowID: task.WorkflowID, InterruptID: interrupt.ID},
	)
}

// NewInterruptResolved notifies the operator that a review item was closed.
func NewInterruptResolved(task *models.TaskExecution, interrupt *models.Interrupt) *models.Notification {
	return newNotification(
		recipientFor(task),
		models.NotificationTypeInterruptResolved,
		models.PriorityLow,
		fmt.Sprintf("Review resolved: %s", task.TaskType),
		fmt.Sprintf("Resolved by %s", interrupt.ResolvedBy),
		models.ActionRef{TaskID: task.ID, WorkflowID: task.WorkflowID, InterruptID: interrupt.ID},
	)
}

// NewTaskFailed notifies the operator that a task failed with no retry budget
// left.
func NewTaskFailed(task *models.TaskExecution) *models.Notification {
	return newNotification(
		recipientFor(task),
		models.NotificationTypeTaskFailed,
		models.PriorityHigh,
		fmt.Sprintf("Task failed: %s", task.TaskType),
		task.ErrorMessage,
		models.ActionRef{TaskID: task.ID, WorkflowID: task.WorkflowID},
	)
}

// NewSLAWarning notifies the operator that a task moved to AT_RISK or
// BREACHED.
func NewSLAWarning(task *models.TaskExecution, status models.SLAStatus) *models.Notification {
	priority := models.PriorityMedium
	title := fmt.Sprintf("SLA at risk: %s", task.TaskType)

	if status == models.SLAStatusBreached {
		priority = models.PriorityUrgent
		title = fmt.Sprintf("SLA breached: %s", task.TaskType)
	}

	message := ""
	if task.SLADueAt != nil {
		message = fmt.Sprintf("Due %s", task.SLADueAt.Format(time.RFC3339))
	}

	return newNotification(
		recipientFor(task),
		models.NotificationTypeSLAWarning,
		priority,
		title,
		message,
		models.ActionRef{TaskID: task.ID, WorkflowID: task.WorkflowID},
	)
}

// NewWorkflowCompleted notifies the operator that every task in the workflow
// finished.
func NewWorkflowCompleted(workflowID, operator string) *models.Notification {
	if operator == "" {
		operator = DefaultRecipient
	}

	return newNotification(
		operator,
		models.NotificationTypeWorkflowCompleted,
		models.PriorityLow,
		"Workflow completed",
		fmt.Sprintf("All tasks for workflow %s completed", workflowID),
		models.ActionRef{WorkflowID: workflowID},
	)
}

// NewWorkflowBlocked notifies the operator that the workflow cannot progress
// without intervention.
func NewWorkflowBlocked(task *models.TaskExecution, reason string) *models.Notification {
	return newNotification(
		recipientFor(task),
		models.NotificationTypeWorkflowBlocked,
		models.PriorityUrgent,
		"Workflow blocked",
		reason,
		models.ActionRef{TaskID: task.ID, WorkflowID: task.WorkflowID},
	)
}
