package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"lajupos/backend/internal/domain"
)

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Publish keys the message by order id so all events for one order land on
// the same partition in lifecycle order.
func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, order *domain.Order) error {
	env, err := NewEnvelope(eventType, order)
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(order.ID),
		Value: value,
	})
}
