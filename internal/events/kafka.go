package events

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher публикует события в топик Kafka.
// Ключ сообщения — ID документа, события одного документа попадают в одну партицию.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher создаёт публикатор. Соединение с брокерами
// устанавливается при первой отправке.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            3,
			AllowAutoTopicCreation: false,
		},
	}
}

// Name реализует Publisher.
func (p *KafkaPublisher) Name() string { return "kafka" }

// Publish реализует Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, e GrantLogged) error {
	data, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.DocumentID),
		Value: data,
		Time:  e.LoggedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("GrantLogged")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("отправка в Kafka (%s): %w", p.writer.Topic, err)
	}
	return nil
}

// Close реализует Publisher.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
