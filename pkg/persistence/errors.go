// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrTaskNotFound indicates a task execution was not found by the given identifier.
	ErrTaskNotFound = errors.New("task execution not found")

	// ErrInterruptNotFound indicates an interrupt was not found by the given identifier.
	ErrInterruptNotFound = errors.New("interrupt not found")

	// ErrNotificationNotFound indicates a notification was not found by the given identifier.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrResumeSignalNotFound indicates a resume signal was not found by the given identifier.
	ErrResumeSignalNotFound = errors.New("resume signal not found")

	// ErrVersionConflict indicates an optimistic-concurrency write lost a race
	// with a concurrent modification of the same task.
	ErrVersionConflict = errors.New("task version conflict")

	// ErrWorkflowAlreadyActivated indicates task executions already exist for the workflow.
	ErrWorkflowAlreadyActivated = errors.New("workflow already activated")

	// ErrDuplicateResumeSignal indicates a resume signal already exists for the
	// same (task, resolution) pair.
	ErrDuplicateResumeSignal = errors.New("resume signal already exists")

	// ErrOpenInterruptExists indicates the task already has an open interrupt.
	ErrOpenInterruptExists = errors.New("open interrupt already exists for task")
)

// TaskError wraps task-related storage errors with additional context.
type TaskError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Update")
	TaskID string // Task execution ID if applicable
	Err    error  // Underlying error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s operation failed for task %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for task errors.
func (e *TaskError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTaskError creates a new task error with context.
func NewTaskError(op, taskID string, err error) *TaskError {
	return &TaskError{
		Op:     op,
		TaskID: taskID,
		Err:    err,
	}
}

// InterruptError wraps interrupt-related storage errors with additional context.
type InterruptError struct {
	Op          string // Operation being performed
	InterruptID string // Interrupt ID
	Err         error  // Underlying error
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("%s operation failed for interrupt %s: %v", e.Op, e.InterruptID, e.Err)
}

func (e *InterruptError) Unwrap() error {
	return e.Err
}

func (e *InterruptError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsTaskNotFound checks if an error indicates a task execution was not found.
func IsTaskNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}

// IsInterruptNotFound checks if an error indicates an interrupt was not found.
func IsInterruptNotFound(err error) bool {
	return errors.Is(err, ErrInterruptNotFound)
}

// IsNotificationNotFound checks if an error indicates a notification was not found.
func IsNotificationNotFound(err error) bool {
	return errors.Is(err, ErrNotificationNotFound)
}

// IsVersionConflict checks if an error indicates a lost optimistic-concurrency race.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsWorkflowAlreadyActivated checks if an error indicates duplicate activation.
func IsWorkflowAlreadyActivated(err error) bool {
	return errors.Is(err, ErrWorkflowAlreadyActivated)
}

// IsDuplicateResumeSignal checks if an error indicates a duplicate resume signal.
func IsDuplicateResumeSignal(err error) bool {
	return errors.Is(err, ErrDuplicateResumeSignal)
}

// IsOpenInterruptExists checks if an error indicates the task already has an open interrupt.
func IsOpenInterruptExists(err error) bool {
	return errors.Is(err, ErrOpenInterruptExists)
}
