// Package events defines event types and structures for task lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/titleworks/lientrack/pkg/models"
)

type EventType string

// Topic carries every task and workflow lifecycle event.
const Topic = "lientrack.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow lifecycle events.
	WorkflowActivatedEvent EventType = "workflow.activated"
	WorkflowCompletedEvent EventType = "workflow.completed"
	WorkflowBlockedEvent   EventType = "workflow.blocked"
	WorkflowCancelledEvent EventType = "workflow.cancelled"

	// Task lifecycle events.
	TaskTransitionedEvent EventType = "task.transitioned"
	TaskRetriedEvent      EventType = "task.retried"
	SLAWarningEvent       EventType = "task.sla.warning"
	SLABreachedEvent      EventType = "task.sla.breached"

	// Human-in-the-loop events.
	InterruptOpenedEvent   EventType = "interrupt.opened"
	InterruptResolvedEvent EventType = "interrupt.resolved"
	TaskResumeRequested    EventType = "task.resume.requested"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type WorkflowActivated struct {
	BaseEvent

	WorkflowType string `json:"workflow_type"`
	TaskCount    int    `json:"task_count"`
	ActivatedBy  string `json:"activated_by"`
}

func (w WorkflowActivated) GetType() EventType {
	return WorkflowActivatedEvent
}

type WorkflowCompleted struct {
	BaseEvent

	CompletedTasks int `json:"completed_tasks"`
}

func (w WorkflowCompleted) GetType() EventType {
	return WorkflowCompletedEvent
}

type WorkflowBlocked struct {
	BaseEvent

	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

func (w WorkflowBlocked) GetType() EventType {
	return WorkflowBlockedEvent
}

type WorkflowCancelled struct {
	BaseEvent

	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
	TasksFailed int    `json:"tasks_failed"`
}

func (w WorkflowCancelled) GetType() EventType {
	return WorkflowCancelledEvent
}

// TaskTransitioned is published after every committed task status change.
type TaskTransitioned struct {
	BaseEvent

	TaskID     string            `json:"task_id"`
	TaskType   string            `json:"task_type"`
	FromStatus models.TaskStatus `json:"from_status"`
	ToStatus   models.TaskStatus `json:"to_status"`
	Actor      string            `json:"actor"`
	OutputData map[string]any    `json:"output_data,omitempty"`
}

func (t TaskTransitioned) GetType() EventType {
	return TaskTransitionedEvent
}

type TaskRetried struct {
	BaseEvent

	TaskID     string `json:"task_id"`
	TaskType   string `json:"task_type"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	Actor      string `json:"actor"`
}

func (t TaskRetried) GetType() EventType {
	return TaskRetriedEvent
}

type SLAWarning struct {
	BaseEvent

	TaskID    string           `json:"task_id"`
	TaskType  string           `json:"task_type"`
	SLAStatus models.SLAStatus `json:"sla_status"`
	DueAt     time.Time        `json:"due_at"`
}

func (s SLAWarning) GetType() EventType {
	if s.SLAStatus == models.SLAStatusBreached {
		return SLABreachedEvent
	}

	return SLAWarningEvent
}

type InterruptOpened struct {
	BaseEvent

	InterruptID string          `json:"interrupt_id"`
	TaskID      string          `json:"task_id"`
	Reason      string          `json:"reason"`
	Priority    models.Priority `json:"priority"`
}

func (i InterruptOpened) GetType() EventType {
	return InterruptOpenedEvent
}

type InterruptResolved struct {
	BaseEvent

	InterruptID string                   `json:"interrupt_id"`
	TaskID      string                   `json:"task_id"`
	Outcome     models.ResolutionOutcome `json:"outcome"`
	ResolvedBy  string                   `json:"resolved_by"`
}

func (i InterruptResolved) GetType() EventType {
	return InterruptResolvedEvent
}

// TaskResumeRequest tells the orchestration engine to resume automated
// execution of a task after interrupt resolution. Delivered at-least-once;
// consumers deduplicate on (task_id, resolution_id).
type TaskResumeRequest struct {
	BaseEvent

	TaskID       string `json:"task_id"`
	ResolutionID string `json:"resolution_id"`
}

func (t TaskResumeRequest) GetType() EventType {
	return TaskResumeRequested
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
