package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultFanoutChannel is the Redis channel every instance publishes room frames on.
const DefaultFanoutChannel = "realtime:fanout"

// Bus carries envelopes between hub instances. Every published envelope is
// also received by the publisher, which is how local members get it.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Messages() <-chan Envelope
	Close() error
}

// RedisBus is a Bus over Redis pub/sub.
type RedisBus struct {
	client  *redis.Client
	channel string
	pubsub  *redis.PubSub
	out     chan Envelope
	logger  *slog.Logger
}

// NewRedisBus subscribes to channel and waits for the subscription to be
// confirmed, so nothing published after it returns is missed.
func NewRedisBus(ctx context.Context, client *redis.Client, channel string, logger *slog.Logger) (*RedisBus, error) {
	if channel == "" {
		channel = DefaultFanoutChannel
	}

	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	b := &RedisBus{
		client:  client,
		channel: channel,
		pubsub:  pubsub,
		out:     make(chan Envelope, 256),
		logger:  logger,
	}
	go b.listen()
	return b, nil
}

func (b *RedisBus) listen() {
	defer close(b.out)

	for msg := range b.pubsub.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.logger.Warn("dropping malformed fanout envelope", "channel", msg.Channel, "error", err)
			continue
		}
		b.out <- env
	}
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBus) Messages() <-chan Envelope {
	return b.out
}

func (b *RedisBus) Close() error {
	return b.pubsub.Close()
}
