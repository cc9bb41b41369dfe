package models

import "fmt"

// TaskBlueprint is a single entry of a workflow template: the static
// definition a TaskExecution is materialized from.
type TaskBlueprint struct {
	TaskType        string       `json:"task_type"        validate:"required"`
	ExecutorKind    ExecutorKind `json:"executor_kind"    validate:"required,oneof=ai human"`
	SequenceOrder   int          `json:"sequence_order"`
	DefaultSLAHours int          `json:"default_sla_hours" validate:"required,min=1"`
	MaxRetries      int          `json:"max_retries"`
	Dependencies    []string     `json:"dependencies,omitempty"`
	OutputKeys      []string     `json:"output_keys,omitempty"` // Whitelisted output_data keys for this task type
}

// WorkflowTemplate is an immutable, versioned plan: the ordered set of task
// blueprints for one workflow type. Loaded at workflow-creation time only.
type WorkflowTemplate struct {
	WorkflowType      string          `json:"workflow_type" validate:"required"`
	Version           int             `json:"version"       validate:"required,min=1"`
	BusinessHoursOnly bool            `json:"business_hours_only"`
	Tasks             []TaskBlueprint `json:"tasks"         validate:"required,min=1,dive"`
}

// Blueprint returns the blueprint for the given task type, if present.
func (t *WorkflowTemplate) Blueprint(taskType string) (*TaskBlueprint, bool) {
	for i := range t.Tasks {
		if t.Tasks[i].TaskType == taskType {
			return &t.Tasks[i], true
		}
	}

	return nil, false
}

// Validate checks structural invariants the JSON schema cannot express:
// unique task types and dependencies that reference tasks in the template.
func (t *WorkflowTemplate) Validate() error {
	seen := make(map[string]bool, len(t.Tasks))

	for _, task := range t.Tasks {
		if seen[task.TaskType] {
			return fmt.Errorf("duplicate task type %q in template %s", task.TaskType, t.WorkflowType)
		}

		seen[task.TaskType] = true
	}

	for _, task := range t.Tasks {
		for _, dep := range task.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on unknown task %q in template %s", task.TaskType, dep, t.WorkflowType)
			}

			if dep == task.TaskType {
				return fmt.Errorf("task %q depends on itself in template %s", task.TaskType, t.WorkflowType)
			}
		}
	}

	return nil
}
