package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/titleworks/lientrack/pkg/models"
	"github.com/titleworks/lientrack/pkg/persistence"
)

const interruptColumns = `
	id
  , task_id
  , workflow_id
  , reason
  , priority
  , status
  , created_at
  , resolved_at
  , resolved_by
  , resolution_notes
`

// InterruptRepository handles interrupt database operations.
type InterruptRepository struct {
	q      querier
	logger *slog.Logger
}

// Create inserts a new interrupt. The partial unique index on open
// interrupts enforces at most one OPEN interrupt per task.
func (r *InterruptRepository) Create(ctx context.Context, interrupt *models.Interrupt) error {
	query := `
		INSERT INTO interrupts (` + interruptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.q.ExecContext(ctx, query,
		interrupt.ID,
		interrupt.TaskID,
		interrupt.WorkflowID,
		interrupt.Reason,
		interrupt.Priority,
		interrupt.Status,
		interrupt.CreatedAt,
		interrupt.ResolvedAt,
		interrupt.ResolvedBy,
		interrupt.ResolutionNotes,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return &persistence.InterruptError{Op: "Create", InterruptID: interrupt.ID, Err: persistence.ErrOpenInterruptExists}
		}

		return fmt.Errorf("failed to insert interrupt: %w", err)
	}

	return nil
}

// GetByID returns an interrupt by its ID.
func (r *InterruptRepository) GetByID(ctx context.Context, id string) (*models.Interrupt, error) {
	query := `SELECT ` + interruptColumns + ` FROM interrupts WHERE id = $1`

	interrupt, err := r.scanInterrupt(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.InterruptError{Op: "GetByID", InterruptID: id, Err: persistence.ErrInterruptNotFound}
		}

		return nil, fmt.Errorf("failed to scan interrupt: %w", err)
	}

	return interrupt, nil
}

// GetOpenByTaskID returns the open interrupt for the task, or ErrInterruptNotFound.
func (r *InterruptRepository) GetOpenByTaskID(ctx context.Context, taskID string) (*models.Interrupt, error) {
	query := `SELECT ` + interruptColumns + ` FROM interrupts WHERE task_id = $1 AND status = 'open'`

	interrupt, err := r.scanInterrupt(r.q.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.InterruptError{Op: "GetOpenByTaskID", InterruptID: taskID, Err: persistence.ErrInterruptNotFound}
		}

		return nil, fmt.Errorf("failed to scan interrupt: %w", err)
	}

	return interrupt, nil
}

// ListByStatus returns interrupts filtered by status, newest first.
func (r *InterruptRepository) ListByStatus(ctx context.Context, status models.InterruptStatus) ([]*models.Interrupt, error) {
	query := `
		SELECT ` + interruptColumns + `
		FROM interrupts
		WHERE status = $1
		ORDER BY created_at DESC
	`

	rows, err := r.q.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query interrupts: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	interrupts := make([]*models.Interrupt, 0)

	for rows.Next() {
		interrupt, err := r.scanInterrupt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interrupt: %w", err)
		}

		interrupts = append(interrupts, interrupt)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating interrupts: %w", err)
	}

	return interrupts, nil
}

// Update persists interrupt resolution fields.
func (r *InterruptRepository) Update(ctx context.Context, interrupt *models.Interrupt) error {
	query := `
		UPDATE interrupts SET
			status = $1,
			resolved_at = $2,
			resolved_by = $3,
			resolution_notes = $4
		WHERE id = $5
	`

	result, err := r.q.ExecContext(ctx, query,
		interrupt.Status,
		interrupt.ResolvedAt,
		interrupt.ResolvedBy,
		interrupt.ResolutionNotes,
		interrupt.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update interrupt: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &persistence.InterruptError{Op: "Update", InterruptID: interrupt.ID, Err: persistence.ErrInterruptNotFound}
	}

	return nil
}

func (r *InterruptRepository) scanInterrupt(scanner interface {
	Scan(dest ...any) error
}) (*models.Interrupt, error) {
	var interrupt models.Interrupt

	err := scanner.Scan(
		&interrupt.ID,
		&interrupt.TaskID,
		&interrupt.WorkflowID,
		&interrupt.Reason,
		&interrupt.Priority,
		&interrupt.Status,
		&interrupt.CreatedAt,
		&interrupt.ResolvedAt,
		&interrupt.ResolvedBy,
		&interrupt.ResolutionNotes,
	)
	if err != nil {
		return nil, err
	}

	return &interrupt, nil
}
