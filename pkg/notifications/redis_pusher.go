package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/titleworks/lientrack/pkg/models"
)

// ChannelPrefix is the Redis pub/sub channel prefix; the recipient's user ID
// is appended so clients subscribe to their own channel.
const ChannelPrefix = "lientrack.notifications."

// RedisPusher publishes notifications on Redis pub/sub for live delivery to
// connected dashboard clients.
type RedisPusher struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisPusher connects to Redis and verifies the connection.
func NewRedisPusher(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*RedisPusher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPusher{
		client: client,
		logger: logger.With("module", "redis_pusher"),
	}, nil
}

// Push publishes the notification on the recipient's channel. Absent
// subscribers are not an error.
func (p *RedisPusher) Push(ctx context.Context, notification *models.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = p.client.Publish(ctx, ChannelPrefix+notification.UserID, payload).Err()
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}

// Close closes the Redis connection.
func (p *RedisPusher) Close() error {
	return p.client.Close()
}
