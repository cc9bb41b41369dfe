package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titleworks/lientrack/pkg/engine"
	"github.com/titleworks/lientrack/pkg/eventbus"
	"github.com/titleworks/lientrack/pkg/events"
	"github.com/titleworks/lientrack/pkg/models"
	"github.com/titleworks/lientrack/pkg/notifications"
	"github.com/titleworks/lientrack/pkg/persistence"
	"github.com/titleworks/lientrack/pkg/persistence/memory"
	"github.com/titleworks/lientrack/pkg/sla"
)

type templateSource map[string]*models.WorkflowTemplate

func (s templateSource) Template(workflowType string) (*models.WorkflowTemplate, error) {
	template, ok := s[workflowType]
	if !ok {
		return nil, errors.New("template not found")
	}

	return template, nil
}

type capturingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *capturingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)

	return nil
}

func (b *capturingBus) types() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()

	types := make([]events.EventType, 0, len(b.events))
	for _, event := range b.events {
		types = append(types, event.GetType())
	}

	return types
}

func lienTemplate() *models.WorkflowTemplate {
	return &models.WorkflowTemplate{
		WorkflowType: "lien_processing",
		Version:      1,
		Tasks: []models.TaskBlueprint{
			{
				TaskType:        "document_intake",
				ExecutorKind:    models.ExecutorKindAI,
				SequenceOrder:   1,
				DefaultSLAHours: 4,
				MaxRetries:      1,
				OutputKeys:      []string{"document_id", "page_count"},
			},
			{
				TaskType:        "lien_search",
				ExecutorKind:    models.ExecutorKindAI,
				SequenceOrder:   2,
				DefaultSLAHours: 8,
				MaxRetries:      2,
				Dependencies:    []string{"document_intake"},
			},
			{
				TaskType:        "payoff_validation",
				ExecutorKind:    models.ExecutorKindHuman,
				SequenceOrder:   3,
				DefaultSLAHours: 24,
				Dependencies:    []string{"document_intake", "lien_search"},
			},
		},
	}
}

func newTestEngine(t *testing.T) (*engine.Engine, persistence.Persistence, *capturingBus) {
	t.Helper()

	p := memory.NewPersistence()
	bus := &capturingBus{}
	calculator := sla.NewCalculator(sla.CalculatorConfig{})
	notifier := notifications.NewDispatcher(nil, p, nil)

	source := templateSource{"lien_processing": lienTemplate()}

	return engine.New(nil, p, source, calculator, bus, notifier), p, bus
}

func activate(t *testing.T, e *engine.Engine) (string, []*models.TaskExecution) {
	t.Helper()

	workflowID := uuid.New().String()
	tasks, err := e.ActivateWorkflow(context.Background(), workflowID, "lien_processing", "operator-7", "tester")
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	return workflowID, tasks
}

func taskByType(tasks []*models.TaskExecution, taskType string) *models.TaskExecution {
	for _, task := range tasks {
		if task.TaskType == taskType {
			return task
		}
	}

	return nil
}

func TestActivateWorkflow(t *testing.T) {
	e, p, bus := newTestEngine(t)
	ctx := context.Background()

	workflowID, tasks := activate(t, e)

	intake := taskByType(tasks, "document_intake")
	search := taskByType(tasks, "lien_search")
	payoff := taskByType(tasks, "payoff_validation")

	require.NotNil(t, intake)
	assert.Equal(t, models.TaskStatusNotStarted, intake.Status)
	assert.NotNil(t, intake.SLADueAt, "root task gets its SLA clock at activation")
	assert.Nil(t, search.SLADueAt, "dependent task waits for its dependencies")
	assert.Nil(t, payoff.SLADueAt)
	assert.Equal(t, "operator-7", intake.AssignedOperator)

	stored, err := p.Tasks().GetByWorkflowID(ctx, workflowID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	audit, err := p.Audit().ListByResource(ctx, "workflow:"+workflowID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, models.AuditActionWorkflowActivated, audit[0].Action)

	assert.Contains(t, bus.types(), events.WorkflowActivatedEvent)

	// Activating the same workflow twice fails.
	_, err = e.ActivateWorkflow(ctx, workflowID, "lien_processing", "", "tester")
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowAlreadyActivated(err))
}

func TestActivateWorkflow_UnknownType(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.ActivateWorkflow(context.Background(), uuid.New().String(), "mystery", "", "tester")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrUnknownWorkflowType)
}

func TestTransition_DependencyChain(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	workflowID, tasks := activate(t, e)

	intake := taskByType(tasks, "document_intake")
	search := taskByType(tasks, "lien_search")

	// lien_search cannot start before document_intake completes.
	_, err := e.Transition(ctx, search.ID, models.TaskStatusInProgress, engine.TransitionRequest{})
	require.Error(t, err)
	assert.True(t, engine.IsDependencyUnsatisfied(err))

	started, err := e.Transition(ctx, intake.ID, models.TaskStatusInProgress, engine.TransitionRequest{Actor: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, started.Status)
	assert.NotNil(t, started.StartedAt)

	completed, err := e.Transition(ctx, intake.ID, models.TaskStatusCompleted, engine.TransitionRequest{
		Actor:      "agent-1",
		OutputData: map[string]any{"document_id": "doc-42", "page_count": 12},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)

	// Completing the dependency starts the dependent's SLA clock.
	refreshed, err := e.ListWorkflowTasks(ctx, workflowID)
	require.NoError(t, err)
	assert.NotNil(t, taskByType(refreshed, "lien_search").SLADueAt)
	assert.Nil(t, taskByType(refreshed, "payoff_validation").SLADueAt, "still waiting on lien_search")

	// Now lien_search can start.
	_, err = e.Transition(ctx, search.ID, models.TaskStatusInProgress, engine.TransitionRequest{})
	require.NoError(t, err)
}

func TestTransition_IllegalEdgeLeavesTaskUnchanged(t *testing.T) {
	e, p, _ := newTestEngine(t)
	ctx := context.Background()

	_, tasks := activate(t, e)
	intake := taskByType(tasks, "document_intake")

	_, err := e.Transition(ctx, intake.ID, models.TaskStatusCompleted, engine.TransitionRequest{})
	require.Error(t, err)
	assert.True(t, engine.IsInvalidTransition(err))

	var transitionErr *engine.InvalidTransitionError

	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, models.TaskStatusNotStarted, transitionErr.From)
	assert.Equal(t, models.TaskStatusCompleted, transitionErr.To)

	stored, err := p.Tasks().GetByID(ctx, intake.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusNotStarted, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestTransition_InvalidOutputData(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, tasks := activate(t, e)
	intake := taskByType(tasks, "document_intake")

	_, err := e.Transition(ctx, intake.ID, models.TaskStatusInProgress, engine.TransitionRequest{})
	require.NoError(t, err)

	// Composite values are rejected.
	_, err = e.Transition(ctx, intake.ID, models.TaskStatusCompleted, engine.TransitionRequest{
		OutputData: map[string]any{"document_id": map[string]any{"nested": true}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInvalidOutputData)

	// Keys outside the blueprint whitelist are rejected.
	_, err = e.Transition(ctx, intake.ID, models.TaskStatusCompleted, engine.TransitionRequest{
		OutputData: map[string]any{"surprise": "value"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInvalidOutputData)
}

func TestTransition_InterruptOpensReviewItem(t *testing.T) {
	e, p, bus := newTestEngine(t)
	ctx := context.Background()

	_, tasks := activate(t, e)
	intake := taskByType(tasks, "document_intake")

	_, err := e.Transition(ctx, intake.ID, models.TaskStatusInProgress, engine.TransitionRequest{})
	require.NoError(t, err)

	paused, err := e.Transition(ctx, intake.ID, models.TaskStatusInterrupt, engine.TransitionRequest{
		Actor:             "agent-1",
		InterruptReason:   "extraction confidence below threshold",
		InterruptPriority: models.PriorityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInterrupt, paused.Status)

	interrupt, err := p.Interrupts().GetOpenByTaskID(ctx, intake.ID)
	require.NoError(t, err)
	assert.Equal(t, "extraction confidence below threshold", interrupt.Reason)
	assert.Equal(t, models.PriorityHigh, interrupt.Priority)

	// The pause blocks the workflow and notifies the operator.
	status, _, err := e.WorkflowStatus(ctx, intake.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusBlocked, status)

	inbox, err := p.Notifications().ListByUser(ctx, "operator-7", true)
	require.NoError(t, err)
	require.NotEmpty(t, inbox)

	assert.Contains(t, bus.types(), events.InterruptOpenedEvent)
	assert.Contains(t, bus.types(), events.WorkflowBlockedEvent)

	// Resuming unblocks the workflow.
	_, err = e.Transition(ctx, intake.ID, models.TaskStatusInProgress, engine.TransitionRequest{Actor: "operator-7"})
	require.NoError(t, err)

	status, _, err = e.WorkflowStatus(ctx, intake.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusInProgress, status)
}

func TestRetry_BudgetEnforced(t *testing.T) {
	e, p, _ := newTestEngine(t)
	ctx := context.Background()

	_, tasks := activate(t, e)
	intake := taskByType(tasks, "document_intake") // MaxRetries: 1

	_, err := e.Transition(ctx, intake.ID, models.TaskStatusInProgress, engine.TransitionRequest{})
	require.NoError(t, err)

	failed, err := e.Transition(ctx, intake.ID, models.TaskStatusFailed, engine.TransitionRequest{ErrorMessage: "ocr timeout"})
	require.NoError(t, err)
	assert.Equal(t, "ocr timeout", failed.ErrorMessage)
	assert.False(t, failed.IsTerminal(), "retry budget remains")

	retried, err := e.Retry(ctx, intake.ID, "operator-7")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusNotStarted, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Empty(t, retried.ErrorMessage)
	assert.NotNil(t, retried.SLADueAt, "retry restarts the SLA clock")
	assert.Equal(t, models.SLAStatusOnTime, retried.SLAStatus)

	// Burn the second attempt.
	_, err = e.Transition(ctx, intake.ID, models.TaskStatusInProgress, engine.TransitionRequest{})
	require.NoError(t, err)
	_, err = e.Transition(ctx, intake.ID, models.TaskStatusFailed, engine.TransitionRequest{ErrorMessage: "ocr timeout again"})
	require.NoError(t, err)

	// The terminal failure opens a permanent review item while the task
	// stays FAILED.
	interrupt, err := p.Interrupts().GetOpenByTaskID(ctx, intake.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, interrupt.Priority)
	assert.Contains(t, interrupt.Reason, "retry budget exhausted")

	stored, err := p.Tasks().GetByID(ctx, intake.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, stored.Status)

	_, err = e.Retry(ctx, intake.ID, "operator-7")
	require.Error(t, err)
	assert.True(t, engine.IsRetryExhausted(err))

	// The rejected retry reuses the open review item instead of stacking a
	// second one.
	open, err := p.Interrupts().ListByStatus(ctx, models.InterruptStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, interrupt.ID, open[0].ID)

	// Terminal failure blocks the workflow and notifies the operator.
	status, _, err := e.WorkflowStatus(ctx, intake.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusBlocked, status)

	inbox, err := p.Notifications().ListByUser(ctx, "operator-7", true)
	require.NoError(t, err)
	require.NotEmpty(t, inbox)
}

func TestRetry_ExhaustedWithoutPriorInterrupt(t *testing.T) {
	e, p, _ := newTestEngine(t)
	ctx := context.Background()

	_, tasks := activate(t, e)
	intake := taskByType(tasks, "document_intake") // MaxRetries: 1

	_, err := e.Transition(ctx, intake.ID, models.TaskStatusInProgress, engine.TransitionRequest{})
	require.NoError(t, err)
	_, err = e.Transition(ctx, intake.ID, models.TaskStatusFailed, engine.TransitionRequest{ErrorMessage: "ocr timeout"})
	require.NoError(t, err)

	// A row written before terminal failures carried review items: budget
	// spent, no open interrupt.
	stored, err := p.Tasks().GetByID(ctx, intake.ID)
	require.NoError(t, err)
	stored.RetryCount = stored.MaxRetries
	require.NoError(t, p.Tasks().Update(ctx, stored))

	_, err = p.Interrupts().GetOpenByTaskID(ctx, intake.ID)
	require.Error(t, err)

	_, err = e.Retry(ctx, intake.ID, "operator-7")
	require.Error(t, err)
	assert.True(t, engine.IsRetryExhausted(err))

	interrupt, err := p.Interrupts().GetOpenByTaskID(ctx, intake.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, interrupt.Priority)
	assert.Contains(t, interrupt.Reason, "retry budget exhausted")
}

func TestTransitionTx_StaleSnapshotConflicts(t *testing.T) {
	e, p, _ := newTestEngine(t)
	ctx := context.Background()

	_, tasks := activate(t, e)
	intake := taskByType(tasks, "document_intake")

	stale, err := p.Tasks().GetByID(ctx, intake.ID)
	require.NoError(t, err)

	// A concurrent writer advances the task before our transaction commits.
	_, err = e.Transition(ctx, intake.ID, models.TaskStatusInProgress, engine.TransitionRequest{})
	require.NoError(t, err)

	err = p.Transact(ctx, func(repos persistence.Repositories) error {
		_, err := e.TransitionTx(ctx, repos, stale, models.TaskStatusInProgress, engine.TransitionRequest{})

		return err
	})
	require.Error(t, err)
	assert.True(t, engine.IsConflict(err))
}

func TestTransition_ConcurrentWritersRace(t *testing.T) {
	e, p, _ := newTestEngine(t)
	ctx := context.Background()

	_, tasks := activate(t, e)
	intake := taskByType(tasks, "document_intake")

	_, err := e.Transition(ctx, intake.ID, models.TaskStatusInProgress, engine.TransitionRequest{})
	require.NoError(t, err)

	snapshot, err := p.Tasks().GetByID(ctx, intake.ID)
	require.NoError(t, err)

	// Two writers race the same row towards different statuses.
	targets := []models.TaskStatus{models.TaskStatusCompleted, models.TaskStatusFailed}
	errs := make([]error, len(targets))

	var wg sync.WaitGroup

	start := make(chan struct{})

	for i, to := range targets {
		wg.Add(1)

		go func(i int, to models.TaskStatus) {
			defer wg.Done()
			<-start

			errs[i] = p.Transact(ctx, func(repos persistence.Repositories) error {
				_, err := e.TransitionTx(ctx, repos, snapshot.Clone(), to, engine.TransitionRequest{Actor: "racer"})

				return err
			})
		}(i, to)
	}

	close(start)
	wg.Wait()

	var succeeded, conflicted int

	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case engine.IsConflict(err):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)
}

func TestCancelWorkflow(t *testing.T) {
	e, _, bus := newTestEngine(t)
	ctx := context.Background()

	workflowID, tasks := activate(t, e)
	intake := taskByType(tasks, "document_intake")

	_, err := e.Transition(ctx, intake.ID, models.TaskStatusInProgress, engine.TransitionRequest{})
	require.NoError(t, err)

	cancelled, err := e.CancelWorkflow(ctx, workflowID, "client withdrew the order", "operator-7")
	require.NoError(t, err)
	assert.Equal(t, 3, cancelled)

	status, all, err := e.WorkflowStatus(ctx, workflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusBlocked, status)

	for _, task := range all {
		assert.Equal(t, models.TaskStatusFailed, task.Status)
		assert.True(t, task.IsTerminal())
		assert.Contains(t, task.ErrorMessage, "client withdrew the order")
	}

	assert.Contains(t, bus.types(), events.WorkflowCancelledEvent)

	// A second cancel is a no-op: nothing is open.
	cancelled, err = e.CancelWorkflow(ctx, workflowID, "again", "operator-7")
	require.NoError(t, err)
	assert.Equal(t, 0, cancelled)
}

func TestWorkflowCompletion(t *testing.T) {
	e, p, bus := newTestEngine(t)
	ctx := context.Background()

	workflowID, tasks := activate(t, e)

	for _, taskType := range []string{"document_intake", "lien_search", "payoff_validation"} {
		task := taskByType(tasks, taskType)

		_, err := e.Transition(ctx, task.ID, models.TaskStatusInProgress, engine.TransitionRequest{})
		require.NoError(t, err)

		_, err = e.Transition(ctx, task.ID, models.TaskStatusCompleted, engine.TransitionRequest{})
		require.NoError(t, err)
	}

	status, all, err := e.WorkflowStatus(ctx, workflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, status)

	for _, task := range all {
		assert.Equal(t, models.SLAStatusOnTime, task.SLAStatus, "on-time completion freezes the verdict")
	}

	assert.Contains(t, bus.types(), events.WorkflowCompletedEvent)

	inbox, err := p.Notifications().ListByUser(ctx, "operator-7", false)
	require.NoError(t, err)

	var sawCompleted bool

	for _, notification := range inbox {
		if notification.Type == models.NotificationTypeWorkflowCompleted {
			sawCompleted = true
		}
	}

	assert.True(t, sawCompleted)
}
