// Package events ships status-change audit events off the service. Delivery is
// best effort; callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"dispatch-service/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, ev model.StatusEvent) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.StatusEvent) error { return nil }

func (NopPublisher) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: w, timeout: 2 * time.Second}
}

// Publish keys messages by emergency id so one record's events stay ordered in a partition.
func (k *KafkaPublisher) Publish(ctx context.Context, ev model.StatusEvent) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.EmergencyID),
		Value: b,
		Time:  ev.CreatedAt,
	})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// New returns a Kafka publisher when brokers are configured, otherwise a no-op one.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}
