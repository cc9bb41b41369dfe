package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_LegalEdges(t *testing.T) {
	legal := [][2]TaskStatus{
		{TaskStatusNotStarted, TaskStatusInProgress},
		{TaskStatusInProgress, TaskStatusCompleted},
		{TaskStatusInProgress, TaskStatusInterrupt},
		{TaskStatusInProgress, TaskStatusFailed},
		{TaskStatusInterrupt, TaskStatusInProgress},
		{TaskStatusInterrupt, TaskStatusCompleted},
		{TaskStatusFailed, TaskStatusNotStarted},
	}

	for _, edge := range legal {
		assert.True(t, CanTransition(edge[0], edge[1]), "%s -> %s should be legal", edge[0], edge[1])
	}
}

func TestCanTransition_IllegalEdges(t *testing.T) {
	all := []TaskStatus{
		TaskStatusNotStarted,
		TaskStatusInProgress,
		TaskStatusInterrupt,
		TaskStatusCompleted,
		TaskStatusFailed,
	}

	legal := map[[2]TaskStatus]bool{
		{TaskStatusNotStarted, TaskStatusInProgress}: true,
		{TaskStatusInProgress, TaskStatusCompleted}:  true,
		{TaskStatusInProgress, TaskStatusInterrupt}:  true,
		{TaskStatusInProgress, TaskStatusFailed}:     true,
		{TaskStatusInterrupt, TaskStatusInProgress}:  true,
		{TaskStatusInterrupt, TaskStatusCompleted}:   true,
		{TaskStatusFailed, TaskStatusNotStarted}:     true,
	}

	for _, from := range all {
		for _, to := range all {
			if legal[[2]TaskStatus{from, to}] {
				continue
			}

			assert.False(t, CanTransition(from, to), "%s -> %s should be illegal", from, to)
		}
	}
}

func TestCanTransition_CompletedIsTerminal(t *testing.T) {
	for _, to := range []TaskStatus{TaskStatusNotStarted, TaskStatusInProgress, TaskStatusInterrupt, TaskStatusFailed} {
		assert.False(t, CanTransition(TaskStatusCompleted, to))
	}
}

func TestTaskExecution_IsTerminal(t *testing.T) {
	task := &TaskExecution{Status: TaskStatusFailed, RetryCount: 1, MaxRetries: 3}
	assert.False(t, task.IsTerminal(), "failed with retries left is not terminal")

	task.RetryCount = 3
	assert.True(t, task.IsTerminal(), "failed with retries exhausted is terminal")

	task = &TaskExecution{Status: TaskStatusCompleted}
	assert.True(t, task.IsTerminal())

	task = &TaskExecution{Status: TaskStatusInterrupt}
	assert.False(t, task.IsTerminal())
}

func TestDeriveWorkflowStatus(t *testing.T) {
	tests := []struct {
		name     string
		tasks    []*TaskExecution
		expected WorkflowStatus
	}{
		{
			name:     "no tasks",
			tasks:    nil,
			expected: WorkflowStatusNotStarted,
		},
		{
			name: "all not started",
			tasks: []*TaskExecution{
				{Status: TaskStatusNotStarted},
				{Status: TaskStatusNotStarted},
			},
			expected: WorkflowStatusNotStarted,
		},
		{
			name: "some in progress",
			tasks: []*TaskExecution{
				{Status: TaskStatusInProgress},
				{Status: TaskStatusNotStarted},
			},
			expected: WorkflowStatusInProgress,
		},
		{
			name: "all completed",
			tasks: []*TaskExecution{
				{Status: TaskStatusCompleted},
				{Status: TaskStatusCompleted},
			},
			expected: WorkflowStatusCompleted,
		},
		{
			name: "interrupt blocks even when others completed",
			tasks: []*TaskExecution{
				{Status: TaskStatusCompleted},
				{Status: TaskStatusInterrupt},
			},
			expected: WorkflowStatusBlocked,
		},
		{
			name: "terminally failed task blocks",
			tasks: []*TaskExecution{
				{Status: TaskStatusCompleted},
				{Status: TaskStatusFailed, RetryCount: 3, MaxRetries: 3},
			},
			expected: WorkflowStatusBlocked,
		},
		{
			name: "failed with retries left stays in progress",
			tasks: []*TaskExecution{
				{Status: TaskStatusCompleted},
				{Status: TaskStatusFailed, RetryCount: 1, MaxRetries: 3},
			},
			expected: WorkflowStatusInProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DeriveWorkflowStatus(tt.tasks))
		})
	}
}

func TestWorkflowTemplate_Validate(t *testing.T) {
	template := &WorkflowTemplate{
		WorkflowType: "payoff_processing",
		Version:      1,
		Tasks: []TaskBlueprint{
			{TaskType: "document_intake", ExecutorKind: ExecutorKindAI, DefaultSLAHours: 4},
			{TaskType: "payoff_request", ExecutorKind: ExecutorKindAI, DefaultSLAHours: 24, Dependencies: []string{"document_intake"}},
		},
	}

	require.NoError(t, template.Validate())

	blueprint, ok := template.Blueprint("payoff_request")
	require.True(t, ok)
	assert.Equal(t, 24, blueprint.DefaultSLAHours)

	_, ok = template.Blueprint("unknown")
	assert.False(t, ok)
}

func TestWorkflowTemplate_Validate_DuplicateTaskType(t *testing.T) {
	template := &WorkflowTemplate{
		WorkflowType: "lien_search",
		Version:      1,
		Tasks: []TaskBlueprint{
			{TaskType: "search", ExecutorKind: ExecutorKindAI, DefaultSLAHours: 4},
			{TaskType: "search", ExecutorKind: ExecutorKindHuman, DefaultSLAHours: 8},
		},
	}

	err := template.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate task type")
}

func TestWorkflowTemplate_Validate_UnknownDependency(t *testing.T) {
	template := &WorkflowTemplate{
		WorkflowType: "lien_search",
		Version:      1,
		Tasks: []TaskBlueprint{
			{TaskType: "review", ExecutorKind: ExecutorKindHuman, DefaultSLAHours: 8, Dependencies: []string{"missing"}},
		},
	}

	err := template.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task")
}

func TestValidateOutputData(t *testing.T) {
	err := ValidateOutputData(map[string]any{
		"payoff_amount": 125000.50,
		"lender_name":   "First National",
		"verified":      true,
	}, []string{"payoff_amount", "lender_name", "verified"})
	assert.NoError(t, err)

	err = ValidateOutputData(map[string]any{
		"nested": map[string]any{"a": 1},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a scalar")

	err = ValidateOutputData(map[string]any{"rogue": "x"}, []string{"allowed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestTaskExecution_Clone(t *testing.T) {
	due := time.Now().UTC()
	task := &TaskExecution{
		ID:           "t1",
		Status:       TaskStatusInProgress,
		Dependencies: []string{"a"},
		OutputData:   map[string]any{"k": "v"},
		SLADueAt:     &due,
	}

	clone := task.Clone()
	clone.OutputData["k"] = "changed"
	clone.Dependencies[0] = "b"
	*clone.SLADueAt = due.Add(time.Hour)

	assert.Equal(t, "v", task.OutputData["k"])
	assert.Equal(t, "a", task.Dependencies[0])
	assert.Equal(t, due, *task.SLADueAt)
}

func TestResolution_TaskStatusFor(t *testing.T) {
	assert.Equal(t, TaskStatusInProgress, Resolution{Outcome: ResolutionOutcomeResume}.TaskStatusFor())
	assert.Equal(t, TaskStatusCompleted, Resolution{Outcome: ResolutionOutcomeComplete}.TaskStatusFor())
}
