// Package eventbus publishes and consumes the platform's domain events
// (bom.parsed, enrichment.progress, admin.*, audit.*) over a RabbitMQ
// topic exchange, with one durable queue per consumer group and a
// bounded FIFO dedup set absorbing at-least-once redeliveries.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeName = "stream.platform"

// RoutingKey identifies one of the four platform streams.
type RoutingKey string

const (
	RoutingBOM        RoutingKey = "stream.platform.bom"
	RoutingEnrichment RoutingKey = "stream.platform.enrichment"
	RoutingAdmin      RoutingKey = "stream.platform.admin"
	RoutingAudit      RoutingKey = "stream.platform.audit"
)

// Envelope wraps every published event with an id used for consumer-side
// deduplication.
type Envelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Bus is a topic-exchange publisher/consumer backed by RabbitMQ.
type Bus struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	reconnectURL string
}

// Connect dials url and declares the shared topic exchange.
func Connect(url string) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("eventbus: dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("eventbus: open channel failed: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("eventbus: declare exchange failed: %w", err)
	}
	return &Bus{conn: conn, channel: ch, reconnectURL: url}, nil
}

func (b *Bus) Close() error {
	if err := b.channel.Close(); err != nil {
		return err
	}
	return b.conn.Close()
}

// Publish sends payload to the given routing key, wrapped in an Envelope
// carrying eventID for downstream dedup.
func (b *Bus) Publish(ctx context.Context, key RoutingKey, eventID, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventbus: marshal payload: %w", err)
	}
	env := Envelope{EventID: eventID, EventType: eventType, Timestamp: time.Now().UTC(), Payload: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("eventbus: marshal envelope: %w", err)
	}

	return b.channel.PublishWithContext(ctx, exchangeName, string(key), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    eventID,
		Timestamp:    env.Timestamp,
		Body:         body,
	})
}

// Subscribe declares a durable queue bound to key for consumerGroup and
// returns the delivery channel. Each consumer group gets its own queue so
// independent subscribers (audit export, progress notifier, ...) don't
// steal each other's deliveries.
func (b *Bus) Subscribe(key RoutingKey, consumerGroup string) (<-chan amqp.Delivery, error) {
	queueName := fmt.Sprintf("%s.%s", string(key), consumerGroup)
	q, err := b.channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("eventbus: declare queue %s: %w", queueName, err)
	}
	if err := b.channel.QueueBind(q.Name, string(key), exchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("eventbus: bind queue %s: %w", queueName, err)
	}
	deliveries, err := b.channel.Consume(q.Name, consumerGroup, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("eventbus: consume %s: %w", queueName, err)
	}
	return deliveries, nil
}

// Reconnect tears down the current connection/channel and redials, for use
// in a consumer's retry loop after a connection-closed notification.
func (b *Bus) Reconnect(backoff time.Duration) error {
	_ = b.Close()
	time.Sleep(backoff)
	fresh, err := Connect(b.reconnectURL)
	if err != nil {
		return err
	}
	*b = *fresh
	return nil
}

// RunConsumer drains deliveries, skipping ones whose event id is already in
// dedup, and acking only after handle succeeds.
func RunConsumer(ctx context.Context, deliveries <-chan amqp.Delivery, dedup *Dedup, handle func(Envelope) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				slog.Error("eventbus: undecodable delivery", "error", err)
				_ = d.Nack(false, false)
				continue
			}
			if dedup.Seen(env.EventID) {
				_ = d.Ack(false)
				continue
			}
			if err := handle(env); err != nil {
				slog.Error("eventbus: handler failed", "event_id", env.EventID, "error", err)
				_ = d.Nack(false, true)
				continue
			}
			dedup.Mark(env.EventID)
			_ = d.Ack(false)
		}
	}
}
