package events

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher публикует события в fanout-exchange RabbitMQ.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string

	// mu сериализует публикации: amqp.Channel не потокобезопасен при публикации
	mu sync.Mutex
	ch *amqp.Channel
}

// NewAMQPPublisher подключается к брокеру и объявляет exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("подключение к AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("открытие AMQP канала: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("объявление exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Name реализует Publisher.
func (p *AMQPPublisher) Name() string { return "amqp" }

// Publish реализует Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, e GrantLogged) error {
	data, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.GrantID,
		Timestamp:    e.LoggedAt,
		Type:         "GrantLogged",
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("отправка в AMQP (%s): %w", p.exchange, err)
	}
	return nil
}

// Close реализует Publisher.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return fmt.Errorf("закрытие AMQP канала: %w", err)
	}
	return p.conn.Close()
}
