// Package interrupts manages human-in-the-loop review items: opening,
// resolution and escalation.
package interrupts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/titleworks/lientrack/pkg/engine"
	"github.com/titleworks/lientrack/pkg/events"
	"github.com/titleworks/lientrack/pkg/models"
	"github.com/titleworks/lientrack/pkg/notifications"
	"github.com/titleworks/lientrack/pkg/persistence"
)

// ErrAlreadyResolved indicates a resolution attempt on an interrupt that was
// already closed. The first resolution wins; later attempts are rejected.
var ErrAlreadyResolved = errors.New("interrupt already resolved")

// Manager coordinates interrupt lifecycle with the task state machine. Every
// resolution changes the interrupt record and the task status in one
// transaction.
type Manager struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *engine.Engine
	notifier    engine.Notifier
}

// NewManager creates an interrupt manager. notifier may be nil.
func NewManager(logger *slog.Logger, p persistence.Persistence, e *engine.Engine, notifier engine.Notifier) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		logger:      logger.With("module", "interrupts"),
		persistence: p,
		engine:      e,
		notifier:    notifier,
	}
}

// Open pauses a task for human review. The task transitions to INTERRUPT and
// the review item is created atomically by the engine.
func (m *Manager) Open(ctx context.Context, taskID, reason string, priority models.Priority, actor string) (*models.Interrupt, error) {
	_, err := m.engine.Transition(ctx, taskID, models.TaskStatusInterrupt, engine.TransitionRequest{
		Actor:             actor,
		InterruptReason:   reason,
		InterruptPriority: priority,
	})
	if err != nil {
		return nil, err
	}

	return m.persistence.Interrupts().GetOpenByTaskID(ctx, taskID)
}

// Get returns an interrupt by ID.
func (m *Manager) Get(ctx context.Context, id string) (*models.Interrupt, error) {
	return m.persistence.Interrupts().GetByID(ctx, id)
}

// List returns interrupts by status, newest first.
func (m *Manager) List(ctx context.Context, status models.InterruptStatus) ([]*models.Interrupt, error) {
	return m.persistence.Interrupts().ListByStatus(ctx, status)
}

// Resolve closes an open interrupt and applies the operator's decision to the
// task in the same transaction. A resume outcome also enqueues a resume
// signal for the orchestration engine, deduplicated on the interrupt ID so a
// replayed resolution cannot enqueue twice.
func (m *Manager) Resolve(ctx context.Context, interruptID string, resolution models.Resolution) (*models.Interrupt, *models.TaskExecution, error) {
	now := time.Now().UTC()

	var (
		resolved *models.Interrupt
		result   *engine.TxResult
	)

	err := m.persistence.Transact(ctx, func(repos persistence.Repositories) error {
		interrupt, err := repos.Interrupts().GetByID(ctx, interruptID)
		if err != nil {
			return err
		}

		if interrupt.Status != models.InterruptStatusOpen {
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, interruptID)
		}

		task, err := repos.Tasks().GetByID(ctx, interrupt.TaskID)
		if err != nil {
			return err
		}

		interrupt.Status = models.InterruptStatusResolved
		interrupt.ResolvedAt = &now
		interrupt.ResolvedBy = resolution.ResolvedBy
		interrupt.ResolutionNotes = resolution.Notes

		err = repos.Interrupts().Update(ctx, interrupt)
		if err != nil {
			return err
		}

		result, err = m.engine.TransitionTx(ctx, repos, task, resolution.TaskStatusFor(), engine.TransitionRequest{
			Actor:      resolution.ResolvedBy,
			OutputData: resolution.OutputData,
		})
		if err != nil {
			return err
		}

		if resolution.Outcome == models.ResolutionOutcomeResume {
			err = repos.ResumeSignals().Create(ctx, &persistence.ResumeSignal{
				ID:           uuid.New().String(),
				TaskID:       task.ID,
				WorkflowID:   task.WorkflowID,
				ResolutionID: interrupt.ID,
				CreatedAt:    now,
			})
			if err != nil && !persistence.IsDuplicateResumeSignal(err) {
				return err
			}

			result.Events = append(result.Events, events.TaskResumeRequest{
				BaseEvent:    events.NewBaseEvent(events.TaskResumeRequested, task.WorkflowID),
				TaskID:       task.ID,
				ResolutionID: interrupt.ID,
			})
		}

		err = repos.Audit().Append(ctx, &models.AuditEvent{
			ID:          uuid.New().String(),
			Actor:       resolution.ResolvedBy,
			Action:      models.AuditActionInterruptResolved,
			ResourceRef: "task:" + task.ID,
			EventData: map[string]any{
				"interrupt_id": interrupt.ID,
				"outcome":      string(resolution.Outcome),
			},
			CreatedAt: now,
		})
		if err != nil {
			return err
		}

		if m.notifier != nil {
			notification := notifications.NewInterruptResolved(result.Task, interrupt)

			err = m.notifier.Record(ctx, repos, notification)
			if err != nil {
				return err
			}

			result.Notifications = append(result.Notifications, notification)
		}

		resolved = interrupt

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	m.engine.Flush(ctx, resolved.WorkflowID, result)

	m.logger.InfoContext(ctx, "interrupt resolved",
		"interrupt_id", resolved.ID,
		"task_id", resolved.TaskID,
		"outcome", resolution.Outcome,
		"resolved_by", resolution.ResolvedBy)

	return resolved, result.Task, nil
}

// Escalate re-opens review on a task with urgent priority, used when a resume
// signal cannot be delivered. The escalation is recorded in the audit log.
func (m *Manager) Escalate(ctx context.Context, taskID, reason string) (*models.Interrupt, error) {
	snapshot, err := m.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var result *engine.TxResult

	err = m.persistence.Transact(ctx, func(repos persistence.Repositories) error {
		var err error

		result, err = m.engine.TransitionTx(ctx, repos, snapshot, models.TaskStatusInterrupt, engine.TransitionRequest{
			InterruptReason:   reason,
			InterruptPriority: models.PriorityUrgent,
		})
		if err != nil {
			return err
		}

		return repos.Audit().Append(ctx, &models.AuditEvent{
			ID:          uuid.New().String(),
			Actor:       engine.SystemActor,
			Action:      models.AuditActionInterruptEscalated,
			ResourceRef: "task:" + taskID,
			EventData:   map[string]any{"reason": reason},
			CreatedAt:   time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	m.engine.Flush(ctx, snapshot.WorkflowID, result)

	return m.persistence.Interrupts().GetOpenByTaskID(ctx, taskID)
}
