package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/titleworks/lientrack/pkg/persistence"
)

// ResumeSignalRepository handles the outbound resume-signal queue.
type ResumeSignalRepository struct {
	q querier
}

// Create enqueues a resume signal. The unique constraint on
// (task_id, resolution_id) gives idempotent enqueueing.
func (r *ResumeSignalRepository) Create(ctx context.Context, signal *persistence.ResumeSignal) error {
	query := `
		INSERT INTO resume_signals (id, task_id, workflow_id, resolution_id, attempts, delivered_at, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.ExecContext(ctx, query,
		signal.ID,
		signal.TaskID,
		signal.WorkflowID,
		signal.ResolutionID,
		signal.Attempts,
		signal.DeliveredAt,
		signal.LastError,
		signal.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return persistence.ErrDuplicateResumeSignal
		}

		return fmt.Errorf("failed to insert resume signal: %w", err)
	}

	return nil
}

// ListPending returns undelivered signals, oldest first.
func (r *ResumeSignalRepository) ListPending(ctx context.Context) ([]*persistence.ResumeSignal, error) {
	query := `
		SELECT id, task_id, workflow_id, resolution_id, attempts, delivered_at, last_error, created_at
		FROM resume_signals
		WHERE delivered_at IS NULL
		ORDER BY created_at
	`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query resume signals: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	signals := make([]*persistence.ResumeSignal, 0)

	for rows.Next() {
		var signal persistence.ResumeSignal

		err := rows.Scan(
			&signal.ID,
			&signal.TaskID,
			&signal.WorkflowID,
			&signal.ResolutionID,
			&signal.Attempts,
			&signal.DeliveredAt,
			&signal.LastError,
			&signal.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resume signal: %w", err)
		}

		signals = append(signals, &signal)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating resume signals: %w", err)
	}

	return signals, nil
}

// MarkDelivered stamps a signal as delivered.
func (r *ResumeSignalRepository) MarkDelivered(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `UPDATE resume_signals SET delivered_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark resume signal delivered: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrResumeSignalNotFound
	}

	return nil
}

// RecordAttempt increments the attempt counter and stores the delivery error.
func (r *ResumeSignalRepository) RecordAttempt(ctx context.Context, id string, deliveryErr string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE resume_signals SET attempts = attempts + 1, last_error = $1 WHERE id = $2`,
		deliveryErr, id)
	if err != nil {
		return fmt.Errorf("failed to record resume signal attempt: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrResumeSignalNotFound
	}

	return nil
}
