package sla_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titleworks/lientrack/pkg/models"
	"github.com/titleworks/lientrack/pkg/notifications"
	"github.com/titleworks/lientrack/pkg/persistence"
	"github.com/titleworks/lientrack/pkg/persistence/memory"
	"github.com/titleworks/lientrack/pkg/sla"
)

func seedTask(t *testing.T, p *memory.Persistence, due time.Time, status models.SLAStatus) *models.TaskExecution {
	t.Helper()

	now := time.Now().UTC()
	task := &models.TaskExecution{
		ID:               uuid.New().String(),
		WorkflowID:       uuid.New().String(),
		WorkflowType:     "lien_processing",
		TaskType:         "lien_search",
		ExecutorKind:     models.ExecutorKindAI,
		Status:           models.TaskStatusInProgress,
		SLAHours:         8,
		SLADueAt:         &due,
		SLAStatus:        status,
		AssignedOperator: "operator-7",
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	require.NoError(t, p.Tasks().CreateBatch(context.Background(), []*models.TaskExecution{task}))

	return task
}

func TestSweepOnce_AlertsOncePerTransition(t *testing.T) {
	p := memory.NewPersistence()
	ctx := context.Background()
	calculator := sla.NewCalculator(sla.CalculatorConfig{})
	notifier := notifications.NewDispatcher(nil, p, nil)
	tracker := sla.NewTracker(nil, p, calculator, notifier, nil)

	task := seedTask(t, p, time.Now().UTC().Add(-time.Hour), models.SLAStatusOnTime)

	stats, err := tracker.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.Breached)
	assert.Equal(t, 1, stats.Alerts)

	stored, err := p.Tasks().GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SLAStatusBreached, stored.SLAStatus)

	// Repeated sweeps do not alert again for the same transition.
	for range 10 {
		stats, err = tracker.SweepOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Alerts)
	}

	inbox, err := p.Notifications().ListByUser(ctx, "operator-7", false)
	require.NoError(t, err)
	assert.Len(t, inbox, 1)
}

func TestSweepOnce_AtRiskThenBreached(t *testing.T) {
	p := memory.NewPersistence()
	ctx := context.Background()
	calculator := sla.NewCalculator(sla.CalculatorConfig{})
	notifier := notifications.NewDispatcher(nil, p, nil)
	tracker := sla.NewTracker(nil, p, calculator, notifier, nil)

	// Inside the alert window, not yet breached.
	task := seedTask(t, p, time.Now().UTC().Add(30*time.Minute), models.SLAStatusOnTime)

	stats, err := tracker.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AtRisk)
	assert.Equal(t, 1, stats.Alerts)

	stored, err := p.Tasks().GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SLAStatusAtRisk, stored.SLAStatus)

	// Force the deadline into the past: the breach is a second, distinct alert.
	past := time.Now().UTC().Add(-time.Minute)
	stored.SLADueAt = &past
	require.NoError(t, p.Tasks().Update(ctx, stored))

	stats, err = tracker.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Breached)
	assert.Equal(t, 1, stats.Alerts)

	inbox, err := p.Notifications().ListByUser(ctx, "operator-7", false)
	require.NoError(t, err)
	assert.Len(t, inbox, 2)
}

func TestSweepOnce_AlertInvalidatesStaleSnapshots(t *testing.T) {
	p := memory.NewPersistence()
	ctx := context.Background()
	notifier := notifications.NewDispatcher(nil, p, nil)
	tracker := sla.NewTracker(nil, p, sla.NewCalculator(sla.CalculatorConfig{}), notifier, nil)

	task := seedTask(t, p, time.Now().UTC().Add(30*time.Minute), models.SLAStatusOnTime)

	// A writer reads its snapshot before the sweep runs.
	stale, err := p.Tasks().GetByID(ctx, task.ID)
	require.NoError(t, err)

	stats, err := tracker.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Alerts)

	// The alert bumped the row version: the stale write loses instead of
	// regressing at_risk back to on_time and re-arming the next sweep.
	err = p.Tasks().Update(ctx, stale)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))

	stored, err := p.Tasks().GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SLAStatusAtRisk, stored.SLAStatus)

	stats, err = tracker.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Alerts)
}

func TestSetSLAStatus_LeavesClosedTasksAlone(t *testing.T) {
	p := memory.NewPersistence()
	ctx := context.Background()

	task := seedTask(t, p, time.Now().UTC().Add(-time.Hour), models.SLAStatusOnTime)

	stored, err := p.Tasks().GetByID(ctx, task.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	stored.Status = models.TaskStatusCompleted
	stored.CompletedAt = &now
	require.NoError(t, p.Tasks().Update(ctx, stored))

	// Completion between the sweep's read and its write freezes the verdict;
	// the alert write must not land on the closed row.
	moved, err := p.Tasks().SetSLAStatus(ctx, task.ID, models.SLAStatusOnTime, models.SLAStatusBreached)
	require.NoError(t, err)
	assert.False(t, moved)

	stored, err = p.Tasks().GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SLAStatusOnTime, stored.SLAStatus)
}

func TestSweepOnce_SkipsTasksWithoutDeadline(t *testing.T) {
	p := memory.NewPersistence()
	ctx := context.Background()
	tracker := sla.NewTracker(nil, p, sla.NewCalculator(sla.CalculatorConfig{}), nil, nil)

	now := time.Now().UTC()
	task := &models.TaskExecution{
		ID:           uuid.New().String(),
		WorkflowID:   uuid.New().String(),
		WorkflowType: "lien_processing",
		TaskType:     "payoff_validation",
		ExecutorKind: models.ExecutorKindHuman,
		Status:       models.TaskStatusNotStarted,
		SLAStatus:    models.SLAStatusOnTime,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, p.Tasks().CreateBatch(ctx, []*models.TaskExecution{task}))

	stats, err := tracker.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scanned)
	assert.Equal(t, 0, stats.Alerts)
}
