package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// KafkaBus is the durable alternative to RedisBus. Each process consumes with
// its own consumer group so every process sees every event; the partition key
// keeps one conversation on one partition, preserving per-conversation order.
type KafkaBus struct {
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	topic    string
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewKafkaBus(brokers []string, topic, procID string) (*KafkaBus, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "chat-backend"
	cfg.Version = sarama.V2_0_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	// One consumer group per process: the bus is a broadcast, not a queue.
	group, err := sarama.NewConsumerGroup(brokers, "chat-backend-"+procID, cfg)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaBus{
		producer: producer,
		group:    group,
		topic:    topic,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (b *KafkaBus) Publish(ctx context.Context, event *DeliveryEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, _, err = b.producer.SendMessage(&sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(event.partitionKey()),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

func (b *KafkaBus) Subscribe(handler func(*DeliveryEvent)) error {
	go func() {
		for {
			if err := b.group.Consume(b.ctx, []string{b.topic}, &busConsumer{handler: handler}); err != nil {
				slog.Error("kafka consume error", "error", err)
			}
			if b.ctx.Err() != nil {
				return
			}
		}
	}()
	return nil
}

func (b *KafkaBus) Close() error {
	b.cancel()
	if err := b.group.Close(); err != nil {
		b.producer.Close()
		return err
	}
	return b.producer.Close()
}

type busConsumer struct {
	handler func(*DeliveryEvent)
}

func (c *busConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *busConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *busConsumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var event DeliveryEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("discarding malformed bus event", "error", err)
			sess.MarkMessage(msg, "")
			continue
		}
		c.handler(&event)
		sess.MarkMessage(msg, "")
	}
	return nil
}
