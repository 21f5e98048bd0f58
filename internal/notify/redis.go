package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus fans signals out over a Redis pub/sub channel.
type RedisBus struct {
	*Hub
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

func NewRedisBus(client *redis.Client, prefix string, logger zerolog.Logger) *RedisBus {
	if prefix == "" {
		prefix = "appointment-sync"
	}
	return &RedisBus{
		Hub:     NewHub(),
		client:  client,
		channel: fmt.Sprintf("%s:appointments_changed", prefix),
		logger:  logger.With().Str("component", "notify.redis").Logger(),
	}
}

func (b *RedisBus) Publish(ctx context.Context, userID string) error {
	if err := b.client.Publish(ctx, b.channel, userID).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

func (b *RedisBus) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// wait for the subscription confirmation so early publishes aren't lost
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to redis: %w", err)
	}
	b.logger.Debug().Str("channel", b.channel).Msg("subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.Dispatch(msg.Payload)
		}
	}
}
