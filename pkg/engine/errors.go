// Package engine implements the task state machine: the single writer of
// task execution status.
package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/titleworks/lientrack/pkg/models"
)

// Stable error codes surfaced to API clients.
const (
	CodeInvalidTransition     = "invalid_transition"
	CodeConflict              = "conflict"
	CodeDependencyUnsatisfied = "dependency_unsatisfied"
	CodeRetryExhausted        = "retry_exhausted"
	CodeWorkflowInactive      = "workflow_inactive"
)

var (
	// ErrUnknownWorkflowType indicates no template is registered for the
	// requested workflow type.
	ErrUnknownWorkflowType = errors.New("unknown workflow type")

	// ErrInvalidOutputData indicates output data violated the scalar-only rule
	// or the task type's key whitelist.
	ErrInvalidOutputData = errors.New("invalid output data")
)

// InvalidTransitionError reports a task status change that is not an edge of
// the state graph. The task is left unchanged.
type InvalidTransitionError struct {
	TaskID string
	From   models.TaskStatus
	To     models.TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for task %s", e.From, e.To, e.TaskID)
}

// Code returns the stable error code for API responses.
func (e *InvalidTransitionError) Code() string {
	return CodeInvalidTransition
}

// ConflictError reports a transition that lost an optimistic-concurrency race
// with a concurrent writer. The caller should re-read and retry.
type ConflictError struct {
	TaskID string
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent modification of task %s: %v", e.TaskID, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func (e *ConflictError) Code() string {
	return CodeConflict
}

// DependencyUnsatisfiedError reports an attempt to start a task whose
// dependencies have not all completed.
type DependencyUnsatisfiedError struct {
	TaskID  string
	Missing []string
}

func (e *DependencyUnsatisfiedError) Error() string {
	return fmt.Sprintf("task %s has unsatisfied dependencies: %s", e.TaskID, strings.Join(e.Missing, ", "))
}

func (e *DependencyUnsatisfiedError) Code() string {
	return CodeDependencyUnsatisfied
}

// RetryExhaustedError reports a retry attempt on a task with no retry budget
// left.
type RetryExhaustedError struct {
	TaskID     string
	MaxRetries int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("task %s exhausted its retry budget of %d", e.TaskID, e.MaxRetries)
}

func (e *RetryExhaustedError) Code() string {
	return CodeRetryExhausted
}

// IsInvalidTransition checks if an error indicates a rejected state graph edge.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError

	return errors.As(err, &target)
}

// IsConflict checks if an error indicates a lost concurrency race.
func IsConflict(err error) bool {
	var target *ConflictError

	return errors.As(err, &target)
}

// IsDependencyUnsatisfied checks if an error indicates unmet dependencies.
func IsDependencyUnsatisfied(err error) bool {
	var target *DependencyUnsatisfiedError

	return errors.As(err, &target)
}

// IsRetryExhausted checks if an error indicates an empty retry budget.
func IsRetryExhausted(err error) bool {
	var target *RetryExhaustedError

	return errors.As(err, &target)
}
