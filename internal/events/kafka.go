package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// KafkaPublisher keys messages by product id so that events of one product
// stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) PublishPriceApplied(ctx context.Context, ev PriceApplied) error {
	return p.publish(ctx, ev.ProductID, TypePriceApplied, ev)
}

func (p *KafkaPublisher) PublishActionRaised(ctx context.Context, ev ActionRaised) error {
	return p.publish(ctx, ev.ProductID, TypeActionRaised, ev)
}

func (p *KafkaPublisher) publish(ctx context.Context, key string, eventType string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	value, err := json.Marshal(envelope{Type: eventType, Payload: payload})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
