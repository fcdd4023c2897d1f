// Package redisbus carries decision-service events over Redis pub/sub
// using the platform-wide JSON envelope, and maintains a live price
// view from upstream market-data ticks.
package redisbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Handler processes an incoming event.
type Handler func(ctx context.Context, event *Event) error

// Bus wraps a Redis client for pub/sub communication.
type Bus struct {
	client        *redis.Client
	channelPrefix string
	logger        *slog.Logger
}

// NewBus creates a new Redis pub/sub bus.
func NewBus(addr, password string, db int, channelPrefix string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &Bus{
		client:        client,
		channelPrefix: channelPrefix,
		logger:        logger,
	}
}

// HealthCheck verifies Redis connectivity.
func (b *Bus) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (b *Bus) Close() error {
	return b.client.Close()
}

// Publish sends an event to the channel for its event type.
func (b *Bus) Publish(ctx context.Context, event *Event) error {
	channel := b.channelFor(event.EventType)
	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}

	b.logger.Debug("Published event",
		"event_type", event.EventType,
		"channel", channel,
		"correlation_id", event.CorrelationID,
	)
	return nil
}

// Subscribe listens for events of the given type and calls handler for
// each. Blocks until ctx is cancelled. Returns nil on clean shutdown.
// Handler errors are logged, never fatal to the subscription.
func (b *Bus) Subscribe(ctx context.Context, eventType string, handler Handler) error {
	channel := b.channelFor(eventType)
	pubsub := b.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	b.logger.Info("Subscribed to Redis channel", "channel", channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Unsubscribed from Redis channel", "channel", channel)
			return nil

		case msg, ok := <-ch:
			if !ok {
				b.logger.Warn("Redis subscription channel closed", "channel", channel)
				return nil
			}

			event, err := UnmarshalEvent([]byte(msg.Payload))
			if err != nil {
				b.logger.Error("Failed to unmarshal event",
					"channel", channel,
					"error", err,
				)
				continue
			}

			if err := handler(ctx, event); err != nil {
				b.logger.Error("Handler failed",
					"event_type", event.EventType,
					"correlation_id", event.CorrelationID,
					"error", err,
				)
			}
		}
	}
}

func (b *Bus) channelFor(eventType string) string {
	return b.channelPrefix + ":" + eventType
}
