package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/titleworks/lientrack/pkg/models"
	"github.com/titleworks/lientrack/pkg/persistence"
)

// DefaultMaxAttempts is how many deliveries are tried before escalation.
const DefaultMaxAttempts = 5

// DefaultBaseBackoff is the first retry delay; it doubles per attempt.
const DefaultBaseBackoff = 30 * time.Second

// Deliverer sends one resume signal to the orchestration engine.
type Deliverer interface {
	Resume(ctx context.Context, signal *persistence.ResumeSignal) error
}

// Escalator re-opens human review when delivery permanently fails.
type Escalator interface {
	Escalate(ctx context.Context, taskID, reason string) (*models.Interrupt, error)
}

// DispatchStats summarizes one dispatch pass.
type DispatchStats struct {
	Pending   int
	Delivered int
	Retried   int
	Escalated int
}

// Dispatcher drains the resume-signal queue with at-least-once semantics.
// Transient failures back off exponentially; signals that exhaust their
// attempts or hit a permanent rejection escalate back to human review.
type Dispatcher struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	deliverer   Deliverer
	escalator   Escalator
	maxAttempts int
	baseBackoff time.Duration
}

// NewDispatcher creates a resume-signal dispatcher. escalator may be nil, in
// which case exhausted signals are only logged.
func NewDispatcher(logger *slog.Logger, p persistence.Persistence, deliverer Deliverer, escalator Escalator) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		logger:      logger.With("module", "resume_dispatcher"),
		persistence: p,
		deliverer:   deliverer,
		escalator:   escalator,
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: DefaultBaseBackoff,
	}
}

// DispatchOnce processes every pending signal that is due for an attempt. A
// failure on one signal never stops the pass.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (DispatchStats, error) {
	var stats DispatchStats

	signals, err := d.persistence.ResumeSignals().ListPending(ctx)
	if err != nil {
		return stats, err
	}

	now := time.Now().UTC()

	for _, signal := range signals {
		stats.Pending++

		if signal.Attempts >= d.maxAttempts {
			d.escalate(ctx, signal, "resume signal delivery exhausted its attempts: "+signal.LastError, &stats)

			continue
		}

		if now.Before(d.eligibleAt(signal)) {
			continue
		}

		err := d.deliverer.Resume(ctx, signal)
		if err == nil {
			err = d.persistence.ResumeSignals().MarkDelivered(ctx, signal.ID)
			if err != nil {
				d.logger.ErrorContext(ctx, "failed to mark signal delivered; it will be redelivered",
					"signal_id", signal.ID, "error", err)

				continue
			}

			stats.Delivered++

			continue
		}

		var permanent *PermanentError
		if errors.As(err, &permanent) {
			d.escalate(ctx, signal, "orchestrator rejected resume signal: "+permanent.Error(), &stats)

			continue
		}

		recordErr := d.persistence.ResumeSignals().RecordAttempt(ctx, signal.ID, err.Error())
		if recordErr != nil {
			d.logger.ErrorContext(ctx, "failed to record delivery attempt",
				"signal_id", signal.ID, "error", recordErr)
		}

		stats.Retried++

		d.logger.WarnContext(ctx, "resume delivery failed, will retry",
			"signal_id", signal.ID,
			"task_id", signal.TaskID,
			"attempt", signal.Attempts+1,
			"error", err)
	}

	return stats, nil
}

// escalate hands the signal back to human review and removes it from the
// queue; the new interrupt owns any follow-up.
func (d *Dispatcher) escalate(ctx context.Context, signal *persistence.ResumeSignal, reason string, stats *DispatchStats) {
	if d.escalator != nil {
		_, err := d.escalator.Escalate(ctx, signal.TaskID, reason)
		if err != nil {
			d.logger.ErrorContext(ctx, "failed to escalate undeliverable resume signal",
				"signal_id", signal.ID,
				"task_id", signal.TaskID,
				"error", err)

			return
		}
	} else {
		d.logger.ErrorContext(ctx, "resume signal undeliverable and no escalator configured",
			"signal_id", signal.ID,
			"task_id", signal.TaskID)
	}

	err := d.persistence.ResumeSignals().MarkDelivered(ctx, signal.ID)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to retire escalated signal",
			"signal_id", signal.ID, "error", err)

		return
	}

	stats.Escalated++
}

// eligibleAt spreads retries with exponential backoff from the signal's
// creation: attempt n waits base * (2^n - 1) in total.
func (d *Dispatcher) eligibleAt(signal *persistence.ResumeSignal) time.Time {
	if signal.Attempts == 0 {
		return signal.CreatedAt
	}

	backoff := d.baseBackoff * time.Duration((1<<signal.Attempts)-1)

	return signal.CreatedAt.Add(backoff)
}

// Run dispatches on the given interval until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, err := d.DispatchOnce(ctx)
			if err != nil {
				d.logger.ErrorContext(ctx, "dispatch pass failed", "error", err)
			}
		}
	}
}
