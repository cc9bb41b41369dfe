package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/titleworks/lientrack/pkg/eventbus"
	"github.com/titleworks/lientrack/pkg/events"
	"github.com/titleworks/lientrack/pkg/models"
	"github.com/titleworks/lientrack/pkg/notifications"
	"github.com/titleworks/lientrack/pkg/persistence"
	"github.com/titleworks/lientrack/pkg/sla"
)

// SystemActor is recorded in the audit log when no actor is supplied.
const SystemActor = "system"

// TemplateSource resolves workflow templates by type.
type TemplateSource interface {
	Template(workflowType string) (*models.WorkflowTemplate, error)
}

// Notifier persists notifications inside the engine's transactions and
// pushes them to live listeners after commit.
type Notifier interface {
	Record(ctx context.Context, repos persistence.Repositories, notification *models.Notification) error
	Push(ctx context.Context, notification *models.Notification)
}

// TransitionRequest carries the optional payload of a status change.
type TransitionRequest struct {
	Actor             string
	ErrorMessage      string
	OutputData        map[string]any
	InterruptReason   string
	InterruptPriority models.Priority
}

// TxResult is the outcome of a transition applied inside a transaction. The
// pending events and notifications must be flushed by the caller after the
// transaction commits.
type TxResult struct {
	Task          *models.TaskExecution
	Events        []eventbus.Event
	Notifications []*models.Notification
}

// Engine is the single writer of task execution state. Every mutation goes
// through the state graph, writes its audit record in the same transaction
// and publishes lifecycle events after commit.
type Engine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	templates   TemplateSource
	calculator  *sla.Calculator
	bus         eventbus.EventPublisher
	notifier    Notifier
}

// New creates an engine. bus and notifier may be nil; events and
// notifications are then skipped.
func New(
	logger *slog.Logger,
	p persistence.Persistence,
	templates TemplateSource,
	calculator *sla.Calculator,
	bus eventbus.EventPublisher,
	notifier Notifier,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		logger:      logger.With("module", "engine"),
		persistence: p,
		templates:   templates,
		calculator:  calculator,
		bus:         bus,
		notifier:    notifier,
	}
}

// ActivateWorkflow materializes the template for workflowType into task
// executions. Tasks without dependencies get their SLA clock started
// immediately; dependent tasks start their clock when their dependencies
// complete. Activation is idempotent-hostile by design: a second activation
// fails with ErrWorkflowAlreadyActivated.
func (e *Engine) ActivateWorkflow(ctx context.Context, workflowID, workflowType, assignedOperator, actor string) ([]*models.TaskExecution, error) {
	template, err := e.templates.Template(workflowType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflowType, workflowType)
	}

	err = template.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid template for %s: %w", workflowType, err)
	}

	now := time.Now().UTC()
	tasks := make([]*models.TaskExecution, 0, len(template.Tasks))

	for _, blueprint := range template.Tasks {
		task := &models.TaskExecution{
			ID:               uuid.New().String(),
			WorkflowID:       workflowID,
			WorkflowType:     workflowType,
			TaskType:         blueprint.TaskType,
			ExecutorKind:     blueprint.ExecutorKind,
			SequenceOrder:    blueprint.SequenceOrder,
			Status:           models.TaskStatusNotStarted,
			Dependencies:     append([]string(nil), blueprint.Dependencies...),
			SLAHours:         blueprint.DefaultSLAHours,
			SLAStatus:        models.SLAStatusOnTime,
			MaxRetries:       blueprint.MaxRetries,
			AssignedOperator: assignedOperator,
			Version:          1,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if len(blueprint.Dependencies) == 0 {
			due := e.calculator.DueAt(now, blueprint.DefaultSLAHours, template.BusinessHoursOnly)
			task.SLADueAt = &due
		}

		tasks = append(tasks, task)
	}

	err = e.persistence.Transact(ctx, func(repos persistence.Repositories) error {
		err := repos.Tasks().CreateBatch(ctx, tasks)
		if err != nil {
			return err
		}

		return repos.Audit().Append(ctx, &models.AuditEvent{
			ID:          uuid.New().String(),
			Actor:       actorOrSystem(actor),
			Action:      models.AuditActionWorkflowActivated,
			ResourceRef: workflowRef(workflowID),
			EventData: map[string]any{
				"workflow_type": workflowType,
				"task_count":    len(tasks),
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, workflowID, events.WorkflowActivated{
		BaseEvent:    events.NewBaseEvent(events.WorkflowActivatedEvent, workflowID),
		WorkflowType: workflowType,
		TaskCount:    len(tasks),
		ActivatedBy:  actorOrSystem(actor),
	})

	e.logger.InfoContext(ctx, "workflow activated",
		"workflow_id", workflowID,
		"workflow_type", workflowType,
		"task_count", len(tasks))

	return tasks, nil
}

// Transition moves a task along one edge of the state graph. The snapshot is
// read outside the transaction; the optimistic-concurrency check on write
// turns a concurrent modification into a ConflictError.
func (e *Engine) Transition(ctx context.Context, taskID string, to models.TaskStatus, req TransitionRequest) (*models.TaskExecution, error) {
	snapshot, err := e.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var result *TxResult

	err = e.persistence.Transact(ctx, func(repos persistence.Repositories) error {
		var err error

		result, err = e.TransitionTx(ctx, repos, snapshot, to, req)

		return err
	})
	if err != nil {
		return nil, err
	}

	e.Flush(ctx, snapshot.WorkflowID, result)

	return result.Task, nil
}

// Retry re-queues a failed task, consuming one unit of retry budget and
// restarting its SLA clock. A retry against an exhausted budget is rejected
// and leaves the task under an open review item instead.
func (e *Engine) Retry(ctx context.Context, taskID, actor string) (*models.TaskExecution, error) {
	task, err := e.Transition(ctx, taskID, models.TaskStatusNotStarted, TransitionRequest{Actor: actor})
	if err != nil && IsRetryExhausted(err) {
		e.ensureExhaustedInterrupt(ctx, taskID, actor)
	}

	return task, err
}

// ensureExhaustedInterrupt opens the review item for a task whose retry
// budget ran out. The task normally already has one from the transition that
// made it terminal; this covers rejected retries against rows that predate
// that write. Failures are logged, the rejection itself still reaches the
// caller.
func (e *Engine) ensureExhaustedInterrupt(ctx context.Context, taskID, actor string) {
	result := &TxResult{}

	var workflowID string

	err := e.persistence.Transact(ctx, func(repos persistence.Repositories) error {
		task, err := repos.Tasks().GetByID(ctx, taskID)
		if err != nil {
			return err
		}

		workflowID = task.WorkflowID

		return e.openInterruptTx(ctx, repos, task, TransitionRequest{
			Actor:             actor,
			InterruptReason:   retryExhaustedReason(task),
			InterruptPriority: models.PriorityHigh,
		}, time.Now().UTC(), result)
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to open interrupt for exhausted task",
			"task_id", taskID,
			"error", err)

		return
	}

	e.Flush(ctx, workflowID, result)
}

// TransitionTx applies a transition inside a caller-owned transaction. It is
// exported so interrupt resolution can change task state atomically with the
// interrupt record. Callers must Flush the result after commit.
func (e *Engine) TransitionTx(ctx context.Context, repos persistence.Repositories, snapshot *models.TaskExecution, to models.TaskStatus, req TransitionRequest) (*TxResult, error) {
	if !models.IsValidTaskStatus(to) {
		return nil, &InvalidTransitionError{TaskID: snapshot.ID, From: snapshot.Status, To: to}
	}

	if !models.CanTransition(snapshot.Status, to) {
		return nil, &InvalidTransitionError{TaskID: snapshot.ID, From: snapshot.Status, To: to}
	}

	task := snapshot.Clone()
	from := task.Status
	now := time.Now().UTC()
	isRetry := from == models.TaskStatusFailed && to == models.TaskStatusNotStarted

	siblings, err := repos.Tasks().GetByWorkflowID(ctx, task.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow tasks: %w", err)
	}

	statusBefore := models.DeriveWorkflowStatus(siblings)
	template := e.templateFor(task.WorkflowType)
	result := &TxResult{}

	switch {
	case isRetry:
		if task.RetriesExhausted() {
			return nil, &RetryExhaustedError{TaskID: task.ID, MaxRetries: task.MaxRetries}
		}

		task.RetryCount++
		task.ErrorMessage = ""
		task.StartedAt = nil
		task.CompletedAt = nil
		task.SLAStatus = models.SLAStatusOnTime
		due := e.calculator.DueAt(now, task.SLAHours, businessHours(template))
		task.SLADueAt = &due

	case to == models.TaskStatusInProgress:
		if from == models.TaskStatusNotStarted {
			missing := unmetDependencies(task, siblings)
			if len(missing) > 0 {
				return nil, &DependencyUnsatisfiedError{TaskID: task.ID, Missing: missing}
			}

			task.StartedAt = &now

			if task.SLADueAt == nil {
				due := e.calculator.DueAt(now, task.SLAHours, businessHours(template))
				task.SLADueAt = &due
			}
		}

	case to == models.TaskStatusCompleted:
		err := models.ValidateOutputData(req.OutputData, outputWhitelist(template, task.TaskType))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOutputData, err)
		}

		if len(req.OutputData) > 0 {
			if task.OutputData == nil {
				task.OutputData = make(map[string]any, len(req.OutputData))
			}

			for k, v := range req.OutputData {
				task.OutputData[k] = v
			}
		}

		task.CompletedAt = &now

		// Completion freezes the SLA verdict.
		if task.SLADueAt != nil {
			task.SLAStatus = e.calculator.ClassifyAtCompletion(*task.SLADueAt, now)
		}

	case to == models.TaskStatusFailed:
		task.ErrorMessage = req.ErrorMessage
	}

	task.Status = to

	err = repos.Tasks().Update(ctx, task)
	if err != nil {
		if persistence.IsVersionConflict(err) {
			return nil, &ConflictError{TaskID: task.ID, Err: err}
		}

		return nil, err
	}

	if to == models.TaskStatusInterrupt {
		err := e.openInterruptTx(ctx, repos, task, req, now, result)
		if err != nil {
			return nil, err
		}
	}

	if to == models.TaskStatusFailed && task.RetriesExhausted() {
		// A terminal failure is a permanent review item: the task stays
		// FAILED and the interrupt carries the escalation.
		err := e.openInterruptTx(ctx, repos, task, TransitionRequest{
			Actor:             req.Actor,
			InterruptReason:   retryExhaustedReason(task),
			InterruptPriority: models.PriorityHigh,
		}, now, result)
		if err != nil {
			return nil, err
		}

		notification := notifications.NewTaskFailed(task)

		err = e.record(ctx, repos, notification, result)
		if err != nil {
			return nil, err
		}
	}

	siblings = replaceTask(siblings, task)

	if to == models.TaskStatusCompleted {
		err := e.activateDependentsTx(ctx, repos, task, siblings, template, now)
		if err != nil {
			return nil, err
		}
	}

	statusAfter := models.DeriveWorkflowStatus(siblings)
	if statusAfter != statusBefore {
		err := e.workflowStatusChangedTx(ctx, repos, task, statusAfter, result)
		if err != nil {
			return nil, err
		}
	}

	action := models.AuditActionTaskTransitioned
	if isRetry {
		action = models.AuditActionTaskRetried
	}

	err = repos.Audit().Append(ctx, &models.AuditEvent{
		ID:          uuid.New().String(),
		Actor:       actorOrSystem(req.Actor),
		Action:      action,
		ResourceRef: taskRef(task.ID),
		EventData: map[string]any{
			"workflow_id": task.WorkflowID,
			"task_type":   task.TaskType,
			"from":        string(from),
			"to":          string(to),
		},
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append audit event: %w", err)
	}

	if isRetry {
		result.Events = append(result.Events, events.TaskRetried{
			BaseEvent:  events.NewBaseEvent(events.TaskRetriedEvent, task.WorkflowID),
			TaskID:     task.ID,
			TaskType:   task.TaskType,
			RetryCount: task.RetryCount,
			MaxRetries: task.MaxRetries,
			Actor:      actorOrSystem(req.Actor),
		})
	} else {
		result.Events = append(result.Events, events.TaskTransitioned{
			BaseEvent:  events.NewBaseEvent(events.TaskTransitionedEvent, task.WorkflowID),
			TaskID:     task.ID,
			TaskType:   task.TaskType,
			FromStatus: from,
			ToStatus:   to,
			Actor:      actorOrSystem(req.Actor),
			OutputData: req.OutputData,
		})
	}

	result.Task = task

	return result, nil
}

// CancelWorkflow force-fails every open task in the workflow with an
// exhausted retry budget. Cancellation is an administrative batch operation
// and bypasses the per-task state graph.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID, reason, actor string) (int, error) {
	now := time.Now().UTC()
	cancelled := 0

	err := e.persistence.Transact(ctx, func(repos persistence.Repositories) error {
		tasks, err := repos.Tasks().GetByWorkflowID(ctx, workflowID)
		if err != nil {
			return err
		}

		if len(tasks) == 0 {
			return persistence.NewTaskError("CancelWorkflow", workflowID, persistence.ErrTaskNotFound)
		}

		cancelled = 0

		for _, task := range tasks {
			if !task.IsOpen() {
				continue
			}

			task.Status = models.TaskStatusFailed
			task.ErrorMessage = "workflow cancelled: " + reason
			task.RetryCount = task.MaxRetries

			err := repos.Tasks().Update(ctx, task)
			if err != nil {
				if persistence.IsVersionConflict(err) {
					return &ConflictError{TaskID: task.ID, Err: err}
				}

				return err
			}

			cancelled++
		}

		return repos.Audit().Append(ctx, &models.AuditEvent{
			ID:          uuid.New().String(),
			Actor:       actorOrSystem(actor),
			Action:      models.AuditActionWorkflowCancelled,
			ResourceRef: workflowRef(workflowID),
			EventData: map[string]any{
				"reason":       reason,
				"tasks_failed": cancelled,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return 0, err
	}

	e.publish(ctx, workflowID, events.WorkflowCancelled{
		BaseEvent:   events.NewBaseEvent(events.WorkflowCancelledEvent, workflowID),
		Reason:      reason,
		CancelledBy: actorOrSystem(actor),
		TasksFailed: cancelled,
	})

	return cancelled, nil
}

// GetTask returns the task with its SLA classification refreshed against the
// clock. The refresh is a read-side view; alert-once transitions are owned by
// the sweep.
func (e *Engine) GetTask(ctx context.Context, taskID string) (*models.TaskExecution, error) {
	task, err := e.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	e.refreshSLAView(task)

	return task, nil
}

// ListWorkflowTasks returns all tasks for a workflow in sequence order.
func (e *Engine) ListWorkflowTasks(ctx context.Context, workflowID string) ([]*models.TaskExecution, error) {
	tasks, err := e.persistence.Tasks().GetByWorkflowID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	for _, task := range tasks {
		e.refreshSLAView(task)
	}

	return tasks, nil
}

// WorkflowStatus derives the aggregate status of a workflow from its tasks.
func (e *Engine) WorkflowStatus(ctx context.Context, workflowID string) (models.WorkflowStatus, []*models.TaskExecution, error) {
	tasks, err := e.ListWorkflowTasks(ctx, workflowID)
	if err != nil {
		return "", nil, err
	}

	if len(tasks) == 0 {
		return "", nil, persistence.NewTaskError("WorkflowStatus", workflowID, persistence.ErrTaskNotFound)
	}

	return models.DeriveWorkflowStatus(tasks), tasks, nil
}

// Flush publishes the pending events and pushes the pending notifications of
// a committed transaction. Failures are logged; the committed state is the
// source of truth.
func (e *Engine) Flush(ctx context.Context, workflowID string, result *TxResult) {
	if result == nil {
		return
	}

	for _, event := range result.Events {
		e.publish(ctx, workflowID, event)
	}

	if e.notifier != nil {
		for _, notification := range result.Notifications {
			e.notifier.Push(ctx, notification)
		}
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	err := e.bus.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to publish event",
			"event_type", event.GetType(),
			"key", key,
			"error", err)
	}
}

func (e *Engine) record(ctx context.Context, repos persistence.Repositories, notification *models.Notification, result *TxResult) error {
	if e.notifier == nil {
		return nil
	}

	err := e.notifier.Record(ctx, repos, notification)
	if err != nil {
		return err
	}

	result.Notifications = append(result.Notifications, notification)

	return nil
}

// openInterruptTx creates the HIL review item for a task entering INTERRUPT.
// An already-open interrupt is reused, which makes repeated pause requests
// idempotent at the interrupt level.
func (e *Engine) openInterruptTx(ctx context.Context, repos persistence.Repositories, task *models.TaskExecution, req TransitionRequest, now time.Time, result *TxResult) error {
	_, err := repos.Interrupts().GetOpenByTaskID(ctx, task.ID)
	if err == nil {
		return nil
	}

	if !persistence.IsInterruptNotFound(err) {
		return err
	}

	reason := req.InterruptReason
	if reason == "" {
		reason = "task paused for human review"
	}

	priority := req.InterruptPriority
	if priority == "" {
		priority = models.PriorityMedium
	}

	interrupt := &models.Interrupt{
		ID:         uuid.New().String(),
		TaskID:     task.ID,
		WorkflowID: task.WorkflowID,
		Reason:     reason,
		Priority:   priority,
		Status:     models.InterruptStatusOpen,
		CreatedAt:  now,
	}

	err = repos.Interrupts().Create(ctx, interrupt)
	if err != nil {
		return err
	}

	err = repos.Audit().Append(ctx, &models.AuditEvent{
		ID:          uuid.New().String(),
		Actor:       actorOrSystem(req.Actor),
		Action:      models.AuditActionInterruptOpened,
		ResourceRef: taskRef(task.ID),
		EventData: map[string]any{
			"interrupt_id": interrupt.ID,
			"reason":       reason,
			"priority":     string(priority),
		},
		CreatedAt: now,
	})
	if err != nil {
		return err
	}

	err = e.record(ctx, repos, notifications.NewInterruptOpened(task, interrupt), result)
	if err != nil {
		return err
	}

	result.Events = append(result.Events, events.InterruptOpened{
		BaseEvent:   events.NewBaseEvent(events.InterruptOpenedEvent, task.WorkflowID),
		InterruptID: interrupt.ID,
		TaskID:      task.ID,
		Reason:      reason,
		Priority:    priority,
	})

	return nil
}

// activateDependentsTx starts the SLA clock of tasks whose dependencies all
// completed with this transition.
func (e *Engine) activateDependentsTx(ctx context.Context, repos persistence.Repositories, completed *models.TaskExecution, siblings []*models.TaskExecution, template *models.WorkflowTemplate, now time.Time) error {
	completedTypes := make(map[string]bool, len(siblings))
	for _, sibling := range siblings {
		if sibling.Status == models.TaskStatusCompleted {
			completedTypes[sibling.TaskType] = true
		}
	}

	for _, sibling := range siblings {
		if sibling.ID == completed.ID || sibling.Status != models.TaskStatusNotStarted || sibling.SLADueAt != nil {
			continue
		}

		satisfied := true

		for _, dep := range sibling.Dependencies {
			if !completedTypes[dep] {
				satisfied = false

				break
			}
		}

		if !satisfied {
			continue
		}

		due := e.calculator.DueAt(now, sibling.SLAHours, businessHours(template))
		sibling.SLADueAt = &due

		err := repos.Tasks().Update(ctx, sibling)
		if err != nil {
			return fmt.Errorf("failed to activate dependent task %s: %w", sibling.ID, err)
		}
	}

	return nil
}

// workflowStatusChangedTx records notifications and events when the derived
// aggregate status changes to a state operators care about.
func (e *Engine) workflowStatusChangedTx(ctx context.Context, repos persistence.Repositories, task *models.TaskExecution, status models.WorkflowStatus, result *TxResult) error {
	switch status {
	case models.WorkflowStatusCompleted:
		err := e.record(ctx, repos, notifications.NewWorkflowCompleted(task.WorkflowID, task.AssignedOperator), result)
		if err != nil {
			return err
		}

		result.Events = append(result.Events, events.WorkflowCompleted{
			BaseEvent: events.NewBaseEvent(events.WorkflowCompletedEvent, task.WorkflowID),
		})

	case models.WorkflowStatusBlocked:
		reason := "task " + task.TaskType + " requires intervention"

		err := e.record(ctx, repos, notifications.NewWorkflowBlocked(task, reason), result)
		if err != nil {
			return err
		}

		result.Events = append(result.Events, events.WorkflowBlocked{
			BaseEvent: events.NewBaseEvent(events.WorkflowBlockedEvent, task.WorkflowID),
			TaskID:    task.ID,
			Reason:    reason,
		})

	case models.WorkflowStatusNotStarted, models.WorkflowStatusInProgress:
	}

	return nil
}

// refreshSLAView overlays the live SLA classification on a read. The
// persisted status only moves forward through the sweep, so the view never
// regresses it.
func (e *Engine) refreshSLAView(task *models.TaskExecution) {
	if !task.IsOpen() || task.SLADueAt == nil {
		return
	}

	current := e.calculator.Classify(*task.SLADueAt, time.Now().UTC())
	if slaRank(current) > slaRank(task.SLAStatus) {
		task.SLAStatus = current
	}
}

func (e *Engine) templateFor(workflowType string) *models.WorkflowTemplate {
	if e.templates == nil {
		return nil
	}

	template, err := e.templates.Template(workflowType)
	if err != nil {
		return nil
	}

	return template
}

func slaRank(status models.SLAStatus) int {
	switch status {
	case models.SLAStatusAtRisk:
		return 1
	case models.SLAStatusBreached:
		return 2
	case models.SLAStatusOnTime:
		return 0
	default:
		return 0
	}
}

func businessHours(template *models.WorkflowTemplate) bool {
	return template != nil && template.BusinessHoursOnly
}

func outputWhitelist(template *models.WorkflowTemplate, taskType string) []string {
	if template == nil {
		return nil
	}

	blueprint, ok := template.Blueprint(taskType)
	if !ok {
		return nil
	}

	return blueprint.OutputKeys
}

func unmetDependencies(task *models.TaskExecution, siblings []*models.TaskExecution) []string {
	completed := make(map[string]bool, len(siblings))
	for _, sibling := range siblings {
		if sibling.Status == models.TaskStatusCompleted {
			completed[sibling.TaskType] = true
		}
	}

	var missing []string

	for _, dep := range task.Dependencies {
		if !completed[dep] {
			missing = append(missing, dep)
		}
	}

	return missing
}

func replaceTask(tasks []*models.TaskExecution, updated *models.TaskExecution) []*models.TaskExecution {
	for i, task := range tasks {
		if task.ID == updated.ID {
			tasks[i] = updated

			break
		}
	}

	return tasks
}

func retryExhaustedReason(task *models.TaskExecution) string {
	reason := "retry budget exhausted"
	if task.ErrorMessage != "" {
		reason += ": " + task.ErrorMessage
	}

	return reason
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return SystemActor
	}

	return actor
}

func taskRef(id string) string {
	return "task:" + id
}

func workflowRef(id string) string {
	return "workflow:" + id
}
