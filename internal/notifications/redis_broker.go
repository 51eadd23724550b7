package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "notifications:"

// RedisBroker fans out notifications through Redis pub/sub so every API
// instance can serve the realtime feed.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBroker constructs a broker on top of an existing client.
func NewRedisBroker(client *redis.Client, logger *slog.Logger) *RedisBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{client: client, logger: logger}
}

func channelFor(userID uuid.UUID) string {
	return channelPrefix + userID.String()
}

// Publish sends n on the user's channel.
func (b *RedisBroker) Publish(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(n.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Subscribe listens on the user's channel until cancel is called or ctx ends.
func (b *RedisBroker) Subscribe(ctx context.Context, userID uuid.UUID) (<-chan Notification, func(), error) {
	pubsub := b.client.Subscribe(ctx, channelFor(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe notifications: %w", err)
	}

	out := make(chan Notification, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				cancel()
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var n Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					b.logger.Warn("discarding malformed notification", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- n:
				default:
				}
			}
		}
	}()

	return out, cancel, nil
}
