package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/titleworks/lientrack/pkg/models"
	"github.com/titleworks/lientrack/pkg/persistence"
)

const taskColumns = `
	id
  , workflow_id
  , workflow_type
  , task_type
  , executor_kind
  , sequence_order
  , status
  , dependencies
  , sla_hours
  , sla_due_at
  , sla_status
  , retry_count
  , max_retries
  , started_at
  , completed_at
  , error_message
  , output_data
  , assigned_operator
  , version
  , created_at
  , updated_at
`

// TaskRepository handles task-execution database operations.
type TaskRepository struct {
	q      querier
	logger *slog.Logger
}

// CreateBatch inserts all task executions for a workflow activation.
func (r *TaskRepository) CreateBatch(ctx context.Context, tasks []*models.TaskExecution) error {
	query := `
		INSERT INTO task_executions (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	for _, task := range tasks {
		dependenciesJSON, err := json.Marshal(task.Dependencies)
		if err != nil {
			return fmt.Errorf("failed to marshal dependencies: %w", err)
		}

		outputJSON, err := json.Marshal(task.OutputData)
		if err != nil {
			return fmt.Errorf("failed to marshal output data: %w", err)
		}

		_, err = r.q.ExecContext(ctx, query,
			task.ID,
			task.WorkflowID,
			task.WorkflowType,
			task.TaskType,
			task.ExecutorKind,
			task.SequenceOrder,
			task.Status,
			dependenciesJSON,
			task.SLAHours,
			task.SLADueAt,
			task.SLAStatus,
			task.RetryCount,
			task.MaxRetries,
			task.StartedAt,
			task.CompletedAt,
			task.ErrorMessage,
			outputJSON,
			task.AssignedOperator,
			task.Version,
			task.CreatedAt,
			task.UpdatedAt,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
				return persistence.NewTaskError("CreateBatch", task.ID, persistence.ErrWorkflowAlreadyActivated)
			}

			return fmt.Errorf("failed to insert task execution %s: %w", task.ID, err)
		}
	}

	return nil
}

// GetByID returns a task execution by its ID.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.TaskExecution, error) {
	query := `SELECT ` + taskColumns + ` FROM task_executions WHERE id = $1`

	task, err := r.scanTask(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTaskError("GetByID", id, persistence.ErrTaskNotFound)
		}

		return nil, fmt.Errorf("failed to scan task execution: %w", err)
	}

	return task, nil
}

// GetByWorkflowID returns all task executions for a workflow in sequence order.
func (r *TaskRepository) GetByWorkflowID(ctx context.Context, workflowID string) ([]*models.TaskExecution, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM task_executions
		WHERE workflow_id = $1
		ORDER BY sequence_order, created_at
	`

	return r.queryTasks(ctx, query, workflowID)
}

// ListOpen returns every task still subject to SLA evaluation.
func (r *TaskRepository) ListOpen(ctx context.Context) ([]*models.TaskExecution, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM task_executions
		WHERE status IN ('not_started', 'in_progress', 'interrupt')
		ORDER BY sla_due_at NULLS LAST
	`

	return r.queryTasks(ctx, query)
}

// Update persists the task with an optimistic-concurrency check on version.
func (r *TaskRepository) Update(ctx context.Context, task *models.TaskExecution) error {
	dependenciesJSON, err := json.Marshal(task.Dependencies)
	if err != nil {
		return fmt.Errorf("failed to marshal dependencies: %w", err)
	}

	outputJSON, err := json.Marshal(task.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}

	task.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE task_executions SET
			status = $1,
			dependencies = $2,
			sla_due_at = $3,
			sla_status = $4,
			retry_count = $5,
			started_at = $6,
			completed_at = $7,
			error_message = $8,
			output_data = $9,
			assigned_operator = $10,
			version = version + 1,
			updated_at = $11
		WHERE id = $12 AND version = $13
	`

	result, err := r.q.ExecContext(ctx, query,
		task.Status,
		dependenciesJSON,
		task.SLADueAt,
		task.SLAStatus,
		task.RetryCount,
		task.StartedAt,
		task.CompletedAt,
		task.ErrorMessage,
		outputJSON,
		task.AssignedOperator,
		task.UpdatedAt,
		task.ID,
		task.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update task execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewTaskError("Update", task.ID, persistence.ErrVersionConflict)
	}

	task.Version++

	return nil
}

// SetSLAStatus moves a task's sla_status from expected to next. The WHERE
// clause on the previous status makes the sweep's alert-once guarantee hold
// across concurrent sweepers and process restarts; the open-status guard keeps
// the sweep from overwriting a completion verdict frozen since its read. The
// version bump invalidates engine snapshots taken before the sweep, so a
// concurrent transition conflicts instead of silently regressing the status.
func (r *TaskRepository) SetSLAStatus(ctx context.Context, id string, expected, next models.SLAStatus) (bool, error) {
	query := `
		UPDATE task_executions
		SET sla_status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND sla_status = $3
		  AND status IN ('not_started', 'in_progress', 'interrupt')
	`

	result, err := r.q.ExecContext(ctx, query, next, id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to update sla status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]*models.TaskExecution, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	tasks := make([]*models.TaskExecution, 0)

	for rows.Next() {
		task, err := r.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task execution: %w", err)
		}

		tasks = append(tasks, task)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating task executions: %w", err)
	}

	return tasks, nil
}

func (r *TaskRepository) scanTask(scanner interface {
	Scan(dest ...any) error
}) (*models.TaskExecution, error) {
	var (
		task                         models.TaskExecution
		dependenciesJSON, outputJSON []byte
	)

	err := scanner.Scan(
		&task.ID,
		&task.WorkflowID,
		&task.WorkflowType,
		&task.TaskType,
		&task.ExecutorKind,
		&task.SequenceOrder,
		&task.Status,
		&dependenciesJSON,
		&task.SLAHours,
		&task.SLADueAt,
		&task.SLAStatus,
		&task.RetryCount,
		&task.MaxRetries,
		&task.StartedAt,
		&task.CompletedAt,
		&task.ErrorMessage,
		&outputJSON,
		&task.AssignedOperator,
		&task.Version,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if dependenciesJSON != nil {
		err := json.Unmarshal(dependenciesJSON, &task.Dependencies)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal dependencies: %w", err)
		}
	}

	if outputJSON != nil {
		err := json.Unmarshal(outputJSON, &task.OutputData)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal output data: %w", err)
		}
	}

	return &task, nil
}
