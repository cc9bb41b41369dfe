// Package persistence provides the data storage abstraction for the
// execution log, interrupts, notifications, audit events and resume signals.
package persistence

import (
	"context"
	"time"

	"github.com/titleworks/lientrack/pkg/models"
)

// TaskRepository owns task_executions, the single source of truth for what
// has happened in a workflow.
type TaskRepository interface {
	// CreateBatch inserts all task executions for a workflow activation in one
	// shot. Fails with ErrWorkflowAlreadyActivated when the workflow already
	// has task executions.
	CreateBatch(ctx context.Context, tasks []*models.TaskExecution) error

	GetByID(ctx context.Context, id string) (*models.TaskExecution, error)
	GetByWorkflowID(ctx context.Context, workflowID string) ([]*models.TaskExecution, error)

	// ListOpen returns every task not yet COMPLETED or FAILED, for SLA
	// evaluation.
	ListOpen(ctx context.Context) ([]*models.TaskExecution, error)

	// Update persists the task using optimistic concurrency: the write only
	// applies when the stored version matches task.Version, and increments
	// the version. A stale writer receives ErrVersionConflict.
	Update(ctx context.Context, task *models.TaskExecution) error

	// SetSLAStatus moves a task's sla_status from expected to next, returning
	// false when the stored status no longer matches expected. The
	// compare-and-swap is what guarantees one alert per SLA transition even
	// with concurrent sweeps.
	SetSLAStatus(ctx context.Context, id string, expected, next models.SLAStatus) (bool, error)
}

// InterruptRepository owns HIL review items. Interrupts are never deleted.
type InterruptRepository interface {
	Create(ctx context.Context, interrupt *models.Interrupt) error
	GetByID(ctx context.Context, id string) (*models.Interrupt, error)
	GetOpenByTaskID(ctx context.Context, taskID string) (*models.Interrupt, error)
	ListByStatus(ctx context.Context, status models.InterruptStatus) ([]*models.Interrupt, error)
	Update(ctx context.Context, interrupt *models.Interrupt) error
}

// NotificationRepository owns hil_notifications. Records are created by the
// dispatcher and mutated only by read tracking.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	GetByID(ctx context.Context, id string) (*models.Notification, error)
	ListByUser(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// AuditRepository owns the append-only audit_events table.
type AuditRepository interface {
	Append(ctx context.Context, event *models.AuditEvent) error
	ListByResource(ctx context.Context, resourceRef string) ([]*models.AuditEvent, error)
}

// ResumeSignal is a queued callback to the orchestration engine telling it to
// resume a task after interrupt resolution. Delivery is at-least-once;
// consumers deduplicate on (task_id, resolution_id).
type ResumeSignal struct {
	ID           string     `json:"id"`
	TaskID       string     `json:"task_id"`
	WorkflowID   string     `json:"workflow_id"`
	ResolutionID string     `json:"resolution_id"`
	Attempts     int        `json:"attempts"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ResumeSignalRepository owns the outbound resume-signal queue.
type ResumeSignalRepository interface {
	// Create enqueues a signal. Duplicate (task_id, resolution_id) pairs fail
	// with ErrDuplicateResumeSignal.
	Create(ctx context.Context, signal *ResumeSignal) error
	ListPending(ctx context.Context) ([]*ResumeSignal, error)
	MarkDelivered(ctx context.Context, id string) error
	RecordAttempt(ctx context.Context, id string, deliveryErr string) error
}

// Repositories bundles the repository set. Inside Transact the set is bound
// to the transaction so every write commits or rolls back together.
type Repositories interface {
	Tasks() TaskRepository
	Interrupts() InterruptRepository
	Notifications() NotificationRepository
	Audit() AuditRepository
	ResumeSignals() ResumeSignalRepository
}

// Persistence is the storage entry point. Repository methods called directly
// on it run outside any transaction.
type Persistence interface {
	Repositories

	// Transact runs fn inside a single transaction. Any error from fn rolls
	// everything back; this is what keeps a status write, its SLA update,
	// interrupt creation, notifications and audit append atomic.
	Transact(ctx context.Context, fn func(repos Repositories) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
