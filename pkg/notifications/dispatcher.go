package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/titleworks/lientrack/pkg/models"
	"github.com/titleworks/lientrack/pkg/persistence"
)

// Pusher delivers a notification to connected clients. Implementations must
// tolerate absent listeners; delivery failures never propagate to callers.
type Pusher interface {
	Push(ctx context.Context, notification *models.Notification) error
	Close() error
}

// Dispatcher persists notifications and pushes them to live listeners.
type Dispatcher struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	pusher      Pusher
}

// NewDispatcher creates a dispatcher. pusher may be nil, in which case
// notifications are persisted only.
func NewDispatcher(logger *slog.Logger, p persistence.Persistence, pusher Pusher) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		logger:      logger.With("module", "notifications"),
		persistence: p,
		pusher:      pusher,
	}
}

// Record persists a notification inside the caller's transaction so it
// commits or rolls back with the state change that produced it.
func (d *Dispatcher) Record(ctx context.Context, repos persistence.Repositories, notification *models.Notification) error {
	err := repos.Notifications().Create(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}

	return nil
}

// Push delivers a committed notification to live listeners. Push failures are
// logged and swallowed: the persisted record is the durable contract.
func (d *Dispatcher) Push(ctx context.Context, notification *models.Notification) {
	if d.pusher == nil {
		return
	}

	err := d.pusher.Push(ctx, notification)
	if err != nil {
		d.logger.WarnContext(ctx, "live push failed, notification remains persisted",
			"notification_id", notification.ID,
			"user_id", notification.UserID,
			"error", err)
	}
}

// ListForUser returns a user's notifications, optionally unread only.
func (d *Dispatcher) ListForUser(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error) {
	return d.persistence.Notifications().ListByUser(ctx, userID, unreadOnly)
}

// MarkRead marks a single notification as read.
func (d *Dispatcher) MarkRead(ctx context.Context, id string) error {
	return d.persistence.Notifications().MarkRead(ctx, id)
}

// MarkAllRead marks all of a user's notifications as read and returns how
// many were affected.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return d.persistence.Notifications().MarkAllRead(ctx, userID)
}

// Close releases the pusher, if any.
func (d *Dispatcher) Close() error {
	if d.pusher == nil {
		return nil
	}

	return d.pusher.Close()
}
