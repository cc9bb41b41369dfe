// Package memory provides an in-memory persistence implementation for unit
// tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/titleworks/lientrack/pkg/models"
	"github.com/titleworks/lientrack/pkg/persistence"
)

// store is the mutable state shared by the repositories. Transact clones it,
// applies the callback to the clone and swaps it back on success, which gives
// the same commit-or-nothing behavior the SQL implementation gets from
// database transactions.
type store struct {
	tasks         map[string]*models.TaskExecution
	interrupts    map[string]*models.Interrupt
	notifications map[string]*models.Notification
	auditEvents   []*models.AuditEvent
	resumeSignals map[string]*persistence.ResumeSignal
}

func newStore() *store {
	return &store{
		tasks:         make(map[string]*models.TaskExecution),
		interrupts:    make(map[string]*models.Interrupt),
		notifications: make(map[string]*models.Notification),
		resumeSignals: make(map[string]*persistence.ResumeSignal),
	}
}

func (s *store) clone() *store {
	clone := newStore()

	for id, task := range s.tasks {
		clone.tasks[id] = task.Clone()
	}

	for id, interrupt := range s.interrupts {
		clone.interrupts[id] = interrupt.Clone()
	}

	for id, notification := range s.notifications {
		clone.notifications[id] = notification.Clone()
	}

	clone.auditEvents = append(clone.auditEvents, s.auditEvents...)

	for id, signal := range s.resumeSignals {
		copied := *signal
		clone.resumeSignals[id] = &copied
	}

	return clone
}

// Persistence implements persistence.Persistence with in-memory maps.
type Persistence struct {
	mu    sync.Mutex
	state *store
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{state: newStore()}
}

func (p *Persistence) repos(s *store) *repoSet {
	return &repoSet{p: p, state: s}
}

// Transact runs fn against a cloned store and commits the clone on success.
// The lock serializes transactions, matching the row-level serialization the
// SQL implementation provides per task.
func (p *Persistence) Transact(ctx context.Context, fn func(repos persistence.Repositories) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := p.state.clone()

	err := fn(&repoSet{p: p, state: clone, inTx: true})
	if err != nil {
		return err
	}

	p.state = clone

	return nil
}

// Tasks returns the task repository bound to the live store.
func (p *Persistence) Tasks() persistence.TaskRepository {
	return &taskRepository{p: p}
}

// Interrupts returns the interrupt repository bound to the live store.
func (p *Persistence) Interrupts() persistence.InterruptRepository {
	return &interruptRepository{p: p}
}

// Notifications returns the notification repository bound to the live store.
func (p *Persistence) Notifications() persistence.NotificationRepository {
	return &notificationRepository{p: p}
}

// Audit returns the audit repository bound to the live store.
func (p *Persistence) Audit() persistence.AuditRepository {
	return &auditRepository{p: p}
}

// ResumeSignals returns the resume-signal repository bound to the live store.
func (p *Persistence) ResumeSignals() persistence.ResumeSignalRepository {
	return &resumeSignalRepository{p: p}
}

// HealthCheck always succeeds for in-memory persistence.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for in-memory persistence.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// withStore runs fn with the current store under the lock. Repositories
// obtained inside Transact operate on the transaction clone instead and do
// not re-lock.
func (p *Persistence) withStore(inTx bool, state *store, fn func(s *store) error) error {
	if inTx {
		return fn(state)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return fn(p.state)
}

// repoSet binds the repositories to a store (live or transaction clone).
type repoSet struct {
	p     *Persistence
	state *store
	inTx  bool
}

func (s *repoSet) Tasks() persistence.TaskRepository {
	return &taskRepository{p: s.p, state: s.state, inTx: s.inTx}
}

func (s *repoSet) Interrupts() persistence.InterruptRepository {
	return &interruptRepository{p: s.p, state: s.state, inTx: s.inTx}
}

func (s *repoSet) Notifications() persistence.NotificationRepository {
	return &notificationRepository{p: s.p, state: s.state, inTx: s.inTx}
}

func (s *repoSet) Audit() persistence.AuditRepository {
	return &auditRepository{p: s.p, state: s.state, inTx: s.inTx}
}

func (s *repoSet) ResumeSignals() persistence.ResumeSignalRepository {
	return &resumeSignalRepository{p: s.p, state: s.state, inTx: s.inTx}
}

type taskRepository struct {
	p     *Persistence
	state *store
	inTx  bool
}

func (r *taskRepository) CreateBatch(_ context.Context, tasks []*models.TaskExecution) error {
	return r.p.withStore(r.inTx, r.state, func(s *store) error {
		for _, task := range tasks {
			for _, existing := range s.tasks {
				if existing.WorkflowID == task.WorkflowID && existing.TaskType == task.TaskType {
					return persistence.NewTaskError("CreateBatch", task.ID, persistence.ErrWorkflowAlreadyActivated)
				}
			}
		}

		for _, task := range tasks {
			s.tasks[task.ID] = task.Clone()
		}

		return nil
	})
}

func (r *taskRepository) GetByID(_ context.Context, id string) (*models.TaskExecution, error) {
	var task *models.TaskExecution

	err := r.p.withStore(r.inTx, r.state, func(s *store) error {
		found, ok := s.tasks[id]
		if !ok {
			return persistence.NewTaskError("GetByID", id, persistence.ErrTaskNotFound)
		}

		task = found.Clone()

		return nil
	})
	if err != nil {
		return nil, err
	}

	return task, nil
}

func (r *taskRepository) GetByWorkflowID(_ context.Context, workflowID string) ([]*models.TaskExecution, error) {
	var tasks []*models.TaskExecution

	err := r.p.withStore(r.inTx, r.state, func(s *store) error {
		for _, task := range s.tasks {
			if task.WorkflowID == workflowID {
				tasks = append(tasks, task.Clone())
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].SequenceOrder != tasks[j].SequenceOrder {
			return tasks[i].SequenceOrder < tasks[j].SequenceOrder
		}

		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	return tasks, nil
}

func (r *taskRepository) ListOpen(_ context.Context) ([]*models.TaskExecution, error) {
	var tasks []*models.TaskExecution

	err := r.p.withStore(r.inTx, r.state, func(s *store) error {
		for _, task := range s.tasks {
			if task.IsOpen() {
				tasks = append(tasks, task.Clone())
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	return tasks, nil
}

func (r *taskRepository) Update(_ context.Context, task *models.TaskExecution) error {
	return r.p.withStore(r.inTx, r.state, func(s *store) error {
		existing, ok := s.tasks[task.ID]
		if !ok {
			return persistence.NewTaskError("Update", task.ID, persistence.ErrTaskNotFound)
		}

		if existing.Version != task.Version {
			return persistence.NewTaskError("Update", task.ID, persistence.ErrVersionConflict)
		}

		task.Version++
		task.UpdatedAt = time.Now().UTC()
		s.tasks[task.ID] = task.Clone()

		return nil
	})
}

func (r *taskRepository) SetSLAStatus(_ context.Context, id string, expected, next models.SLAStatus) (bool, error) {
	var moved bool

	err := r.p.withStore(r.inTx, r.state, func(s *store) error {
		task, ok := s.tasks[id]
		if !ok {
			return nil
		}

		if task.SLAStatus != expected || !task.IsOpen() {
			return nil
		}

		task.SLAStatus = next
		task.Version++
		task.UpdatedAt = time.Now().UTC()
		moved = true

		return nil
	})

	return moved, err
}

type interruptRepository struct {
	p     *Persistence
	state *store
	inTx  bool
}

func (r *interruptRepository) Create(_ context.Context, interrupt *models.Interrupt) error {
	return r.p.withStore(r.inTx, r.state, func(s *store) error {
		if interrupt.Status == models.InterruptStatusOpen {
			for _, existing := range s.interrupts {
				if existing.TaskID == interrupt.TaskID && existing.Status == models.InterruptStatusOpen {
					return &persistence.InterruptError{Op: "Create", InterruptID: interrupt.ID, Err: persistence.ErrOpenInterruptExists}
				}
			}
		}

		s.interrupts[interrupt.ID] = interrupt.Clone()

		return nil
	})
}

func (r *interruptRepository) GetByID(_ context.Context, id string) (*models.Interrupt, error) {
	var interrupt *models.Interrupt

	err := r.p.withStore(r.inTx, r.state, func(s *store) error {
		found, ok := s.interrupts[id]
		if !ok {
			return &persistence.InterruptError{Op: "GetByID", InterruptID: id, Err: persistence.ErrInterruptNotFound}
		}

		interrupt = found.Clone()

		return nil
	})
	if err != nil {
		return nil, err
	}

	return interrupt, nil
}

func (r *interruptRepository) GetOpenByTaskID(_ context.Context, taskID string) (*models.Interrupt, error) {
	var interrupt *models.Interrupt

	err := r.p.withStore(r.inTx, r.state, func(s *store) error {
		for _, existing := range s.interrupts {
			if existing.TaskID == taskID && existing.Status == models.InterruptStatusOpen {
				interrupt = existing.Clone()

				return nil
			}
		}

		return &persistence.InterruptError{Op: "GetOpenByTaskID", InterruptID: taskID, Err: persistence.ErrInterruptNotFound}
	})
	if err != nil {
		return nil, err
	}

	return interrupt, nil
}

func (r *interruptRepository) ListByStatus(_ context.Context, status models.InterruptStatus) ([]*models.Interrupt, error) {
	var interrupts []*models.Interrupt

	err := r.p.withStore(r.inTx, r.state, func(s *store) error {
		for _, interrupt := range s.interrupts {
			if interrupt.Status == status {
				interrupts = append(interrupts, interrupt.Clone())
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(interrupts, func(i, j int) bool { return interrupts[i].CreatedAt.After(interrupts[j].CreatedAt) })

	return interrupts, nil
}

func (r *interruptRepository) Update(_ context.Context, interrupt *models.Interrupt) error {
	return r.p.withStore(r.inTx, r.state, func(s *store) error {
		_, ok := s.interrupts[interrupt.ID]
		if !ok {
			return &persistence.InterruptError{Op: "Update", InterruptID: interrupt.ID, Err: persistence.ErrInterruptNotFound}
		}

		s.interrupts[interrupt.ID] = interrupt.Clone()

		return nil
	})
}

type notificationRepository struct {
	p     *Persistence
	state *store
	inTx  bool
}

func (r *notificationRepository) Create(_ context.Context, notification *models.Notification) error {
	return r.p.withStore(r.inTx, r.state, func(s *store) error {
		s.notifications[notification.ID] = notification.Clone()

		return nil
	})
}

func (r *notificationRepository) GetByID(_ context.Context, id string) (*models.Notification, error) {
	var notification *models.Notification

	err := r.p.withStore(r.inTx, r.state, func(s *store) error {
		found, ok := s.notifications[id]
		if !ok {
			return persistence.ErrNotificationNotFound
		}

		notification = found.Clone()

		return nil
	})
	if err != nil {
		return nil, err
	}

	return notification, nil
}

func (r *notificationRepository) ListByUser(_ context.Context, userID string, unreadOnly bool) ([]*models.Notification, error) {
	var notifications []*models.Notification

	err := r.p.withStore(r.inTx, r.state, func(s *store) error {
		for _, notification := range s.notifications {
			if notification.UserID != userID {
				continue
			}

			if unreadOnly && notification.Read {
				continue
			}

			notifications = append(notifications, notification.Clone())
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})

	return notifications, nil
}

func (r *notificationRepository) MarkRead(_ context.Context, id string) error {
	return r.p.withStore(r.inTx, r.state, func(s *store) error {
		notification, ok := s.notifications[id]
		if !ok {
			return persistence.ErrNotificationNotFound
		}

		notification.Read = true

		return nil
	})
}

func (r *notificationRepository) MarkAllRead(_ context.Context, userID string) (int64, error) {
	var count int64

	err := r.p.withStore(r.inTx, r.state, func(s *store) error {
		for _, notification := range s.notifications {
			if notification.UserID == userID && !notification.Read {
				notification.Read = true
				count++
			}
		}

		return nil
	})

	return count, err
}

type auditRepository struct {
	p     *Persistence
	state *store
	inTx  bool
}

func (r *auditRepository) Append(_ context.Context, event *models.AuditEvent) error {
	return r.p.withStore(r.inTx, r.state, func(s *store) error {
		s.auditEvents = append(s.auditEvents, event)

		return nil
	})
}

func (r *auditRepository) ListByResource(_ context.Context, resourceRef string) ([]*models.AuditEvent, error) {
	var events []*models.AuditEvent

	err := r.p.withStore(r.inTx, r.state, func(s *store) error {
		for _, event := range s.auditEvents {
			if event.ResourceRef == resourceRef {
				events = append(events, event)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

type resumeSignalRepository struct {
	p     *Persistence
	state *store
	inTx  bool
}

func (r *resumeSignalRepository) Create(_ context.Context, signal *persistence.ResumeSignal) error {
	return r.p.withStore(r.inTx, r.state, func(s *store) error {
		for _, existing := range s.resumeSignals {
			if existing.TaskID == signal.TaskID && existing.ResolutionID == signal.ResolutionID {
				return persistence.ErrDuplicateResumeSignal
			}
		}

		copied := *signal
		s.resumeSignals[signal.ID] = &copied

		return nil
	})
}

func (r *resumeSignalRepository) ListPending(_ context.Context) ([]*persistence.ResumeSignal, error) {
	var signals []*persistence.ResumeSignal

	err := r.p.withStore(r.inTx, r.state, func(s *store) error {
		for _, signal := range s.resumeSignals {
			if signal.DeliveredAt == nil {
				copied := *signal
				signals = append(signals, &copied)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(signals, func(i, j int) bool { return signals[i].CreatedAt.Before(signals[j].CreatedAt) })

	return signals, nil
}

func (r *resumeSignalRepository) MarkDelivered(_ context.Context, id string) error {
	return r.p.withStore(r.inTx, r.state, func(s *store) error {
		signal, ok := s.resumeSignals[id]
		if !ok {
			return persistence.ErrResumeSignalNotFound
		}

		now := time.Now().UTC()
		signal.DeliveredAt = &now

		return nil
	})
}

func (r *resumeSignalRepository) RecordAttempt(_ context.Context, id string, deliveryErr string) error {
	return r.p.withStore(r.inTx, r.state, func(s *store) error {
		signal, ok := s.resumeSignals[id]
		if !ok {
			return persistence.ErrResumeSignalNotFound
		}

		signal.Attempts++
		signal.LastError = deliveryErr

		return nil
	})
}
