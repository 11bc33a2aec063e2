// Package amqp broadcasts notification envelopes through a RabbitMQ
// exchange.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/meetscribe/internal/domain"
	"github.com/phrazzld/meetscribe/internal/notify"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is used when none is configured.
const DefaultExchange = "meetscribe.notifications"

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("amqp transport closed")

// channel is the subset of *amqp.Channel the transport uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// Transport publishes envelopes to a direct exchange using the target as
// the routing key.
type Transport struct {
	exchange string
	logger   *slog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     channel
	closed bool
}

// Dial connects to url and declares exchange.
func Dial(url, exchange string, logger *slog.Logger) (*Transport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	t, err := newTransport(ch, exchange, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	t.conn = conn
	return t, nil
}

func newTransport(ch channel, exchange string, logger *slog.Logger) (*Transport, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &Transport{
		exchange: exchange,
		ch:       ch,
		logger:   logger.With("component", "amqp_transport"),
	}, nil
}

// Send publishes env with routing key env.Target. Urgent envelopes are
// published as persistent messages.
func (t *Transport) Send(ctx context.Context, env notify.Envelope) (notify.DeliveryResult, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return notify.DeliveryResult{}, fmt.Errorf("failed to encode envelope: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return notify.DeliveryResult{}, ErrClosed
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    env.MessageID,
		Type:         string(env.Type),
		AppId:        env.Source,
		Timestamp:    env.Delivery.SentAt,
		DeliveryMode: amqp.Transient,
		Priority:     messagePriority(env.Priority),
		Body:         body,
	}
	if env.Delivery.RequireAck {
		msg.DeliveryMode = amqp.Persistent
	}
	if err := t.ch.PublishWithContext(ctx, t.exchange, env.Target, false, false, msg); err != nil {
		t.logger.Warn("failed to publish notification",
			"target", env.Target,
			"message_id", env.MessageID,
			"error", err)
		return notify.DeliveryResult{}, fmt.Errorf("amqp publish to %s: %w", env.Target, err)
	}
	return notify.DeliveryResult{Delivered: true, Receivers: 1}, nil
}

// Available reports whether the channel is open.
func (t *Transport) Available(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && !t.ch.IsClosed()
}

// Close closes the channel and connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	err := t.ch.Close()
	if t.conn != nil {
		err = errors.Join(err, t.conn.Close())
	}
	return err
}

func messagePriority(p domain.Priority) uint8 {
	switch p {
	case domain.PriorityUrgent:
		return 9
	case domain.PriorityHigh:
		return 7
	case domain.PriorityNormal:
		return 5
	case domain.PriorityLow:
		return 3
	default:
		return 1
	}
}

var _ notify.Transport = (*Transport)(nil)
