// Package events публикует доменные события в RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// SignalIngested: сигнал записан, кэш заправок обновлён.
type SignalIngested struct {
	DeviceID   string    `json:"device_id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	SoC        float64   `json:"soc"`
	Time       time.Time `json:"time"`
	Stations   int       `json:"stations"`
	CachedAt   time.Time `json:"cached_at"`
	ReceivedAt time.Time `json:"received_at"`
}

type Publisher interface {
	PublishSignalIngested(ctx context.Context, ev SignalIngested) error
}

// Nop: публикация выключена.
type Nop struct{}

func (Nop) PublishSignalIngested(context.Context, SignalIngested) error { return nil }

type AMQPPublisher struct {
	conn       *amqp.Connection
	mu         sync.Mutex
	channel    *amqp.Channel
	exchange   string
	routingKey string
	log        logrus.FieldLogger
}

// DialAMQP подключается к брокеру и объявляет topic-exchange.
func DialAMQP(url, exchange, routingKey string, log logrus.FieldLogger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	log.WithField("exchange", exchange).Info("rabbitmq publisher ready")
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange, routingKey: routingKey, log: log}, nil
}

func (p *AMQPPublisher) PublishSignalIngested(ctx context.Context, ev SignalIngested) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, p.exchange, p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.ReceivedAt,
			Type:         p.routingKey,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	p.log.WithFields(logrus.Fields{"routing_key": p.routingKey, "device": ev.DeviceID}).Debug("published event")
	return nil
}

// Connected: для readiness.
func (p *AMQPPublisher) Connected() bool { return !p.conn.IsClosed() }

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	return p.conn.Close()
}
