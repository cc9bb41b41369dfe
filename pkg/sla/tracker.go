package sla

import (
	"context"
	"log/slog"
	"time"

	"github.com/titleworks/lientrack/pkg/eventbus"
	"github.com/titleworks/lientrack/pkg/events"
	"github.com/titleworks/lientrack/pkg/models"
	"github.com/titleworks/lientrack/pkg/notifications"
	"github.com/titleworks/lientrack/pkg/persistence"
)

// Notifier persists sweep notifications transactionally and pushes them after
// commit.
type Notifier interface {
	Record(ctx context.Context, repos persistence.Repositories, notification *models.Notification) error
	Push(ctx context.Context, notification *models.Notification)
}

// SweepStats summarizes one sweep pass.
type SweepStats struct {
	Scanned  int
	AtRisk   int
	Breached int
	Alerts   int
	Errors   int
}

// Tracker periodically classifies open tasks against their deadlines and
// alerts exactly once per SLA transition. The compare-and-swap on the
// persisted sla_status carries the alert-once guarantee across restarts and
// concurrent sweepers.
type Tracker struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	calculator  *Calculator
	notifier    Notifier
	bus         eventbus.EventPublisher
}

// NewTracker creates a sweep tracker. notifier and bus may be nil.
func NewTracker(logger *slog.Logger, p persistence.Persistence, calculator *Calculator, notifier Notifier, bus eventbus.EventPublisher) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		logger:      logger.With("module", "sla_tracker"),
		persistence: p,
		calculator:  calculator,
		notifier:    notifier,
		bus:         bus,
	}
}

// SweepOnce classifies every open task. A failure on one task is logged and
// does not stop the sweep.
func (t *Tracker) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	tasks, err := t.persistence.Tasks().ListOpen(ctx)
	if err != nil {
		return stats, err
	}

	now := time.Now().UTC()

	for _, task := range tasks {
		if task.SLADueAt == nil {
			continue
		}

		stats.Scanned++

		current := t.calculator.Classify(*task.SLADueAt, now)

		switch current {
		case models.SLAStatusAtRisk:
			stats.AtRisk++
		case models.SLAStatusBreached:
			stats.Breached++
		case models.SLAStatusOnTime:
		}

		// The persisted status only moves forward.
		if rank(current) <= rank(task.SLAStatus) {
			continue
		}

		alerted, err := t.alert(ctx, task, current)
		if err != nil {
			stats.Errors++

			t.logger.ErrorContext(ctx, "failed to process sla transition",
				"task_id", task.ID,
				"sla_status", current,
				"error", err)

			continue
		}

		if alerted {
			stats.Alerts++
		}
	}

	t.logger.InfoContext(ctx, "sla sweep finished",
		"scanned", stats.Scanned,
		"at_risk", stats.AtRisk,
		"breached", stats.Breached,
		"alerts", stats.Alerts,
		"errors", stats.Errors)

	return stats, nil
}

// alert records the transition and its notification in one transaction. The
// compare-and-swap against the previously read status makes the losing racer
// a silent no-op.
func (t *Tracker) alert(ctx context.Context, task *models.TaskExecution, next models.SLAStatus) (bool, error) {
	moved := false

	var notification *models.Notification

	err := t.persistence.Transact(ctx, func(repos persistence.Repositories) error {
		var err error

		moved, err = repos.Tasks().SetSLAStatus(ctx, task.ID, task.SLAStatus, next)
		if err != nil {
			return err
		}

		if !moved {
			return nil
		}

		if t.notifier == nil {
			return nil
		}

		notification = notifications.NewSLAWarning(task, next)

		return t.notifier.Record(ctx, repos, notification)
	})
	if err != nil {
		return false, err
	}

	if !moved {
		return false, nil
	}

	if t.notifier != nil && notification != nil {
		t.notifier.Push(ctx, notification)
	}

	if t.bus != nil && task.SLADueAt != nil {
		event := events.SLAWarning{
			BaseEvent: events.NewBaseEvent(events.SLAWarningEvent, task.WorkflowID),
			TaskID:    task.ID,
			TaskType:  task.TaskType,
			SLAStatus: next,
			DueAt:     *task.SLADueAt,
		}

		err := t.bus.Publish(ctx, task.WorkflowID, event)
		if err != nil {
			t.logger.ErrorContext(ctx, "failed to publish sla event",
				"task_id", task.ID,
				"error", err)
		}
	}

	return true, nil
}

// Run sweeps on the given interval until the context is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, err := t.SweepOnce(ctx)
			if err != nil {
				t.logger.ErrorContext(ctx, "sla sweep failed", "error", err)
			}
		}
	}
}

func rank(status models.SLAStatus) int {
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
