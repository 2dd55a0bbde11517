package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const busChannel = "chat:events"

// RedisBus broadcasts delivery events over a single Redis pub/sub channel.
// Redis pub/sub is fire-and-forget: events published during a broker outage
// are lost, which the engine tolerates because clients resync through
// persisted history on reconnect.
type RedisBus struct {
	client *redis.Client
	pubsub *redis.PubSub
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRedisBus(client *redis.Client) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{client: client, ctx: ctx, cancel: cancel}
}

func (b *RedisBus) Publish(ctx context.Context, event *DeliveryEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, busChannel, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(handler func(*DeliveryEvent)) error {
	b.pubsub = b.client.Subscribe(b.ctx, busChannel)
	if _, err := b.pubsub.Receive(b.ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	go func() {
		for msg := range b.pubsub.Channel() {
			var event DeliveryEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Error("discarding malformed bus event", "error", err)
				continue
			}
			handler(&event)
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	b.cancel()
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
