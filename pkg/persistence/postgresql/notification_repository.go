package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/titleworks/lientrack/pkg/models"
	"github.com/titleworks/lientrack/pkg/persistence"
)

const notificationColumns = `
	id
  , user_id
  , type
  , priority
  , title
  , message
  , read
  , action_ref
  , created_at
`

// NotificationRepository handles hil_notifications database operations.
type NotificationRepository struct {
	q      querier
	logger *slog.Logger
}

// Create inserts a new notification.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	actionRefJSON, err := json.Marshal(notification.ActionRef)
	if err != nil {
		return fmt.Errorf("failed to marshal action ref: %w", err)
	}

	query := `
		INSERT INTO hil_notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.q.ExecContext(ctx, query,
		notification.ID,
		notification.UserID,
		notification.Type,
		notification.Priority,
		notification.Title,
		notification.Message,
		notification.Read,
		actionRefJSON,
		notification.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	return nil
}

// GetByID returns a notification by its ID.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM hil_notifications WHERE id = $1`

	notification, err := r.scanNotification(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotificationNotFound
		}

		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}

	return notification, nil
}

// ListByUser returns a user's notifications, newest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM hil_notifications
		WHERE user_id = $1
	`

	if unreadOnly {
		query += ` AND read = FALSE`
	}

	query += ` ORDER BY created_at DESC`

	rows, err := r.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	notifications := make([]*models.Notification, 0)

	for rows.Next() {
		notification, err := r.scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		notifications = append(notifications, notification)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, nil
}

// MarkRead marks a single notification as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `UPDATE hil_notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrNotificationNotFound
	}

	return nil
}

// MarkAllRead marks all of a user's notifications as read and returns the count.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result, err := r.q.ExecContext(ctx, `UPDATE hil_notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

func (r *NotificationRepository) scanNotification(scanner interface {
	Scan(dest ...any) error
}) (*models.Notification, error) {
	var (
		notification  models.Notification
		actionRefJSON []byte
	)

	err := scanner.Scan(
		&notification.ID,
		&notification.UserID,
		&notification.Type,
		&notification.Priority,
		&notification.Title,
		&notification.Message,
		&notification.Read,
		&actionRefJSON,
		&notification.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if actionRefJSON != nil {
		err := json.Unmarshal(actionRefJSON, &notification.ActionRef)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal action ref: %w", err)
		}
	}

	return &notification, nil
}
