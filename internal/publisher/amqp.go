package publisher

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ricirt/queue-system/internal/domain"
)

// Channel is the subset of *amqp.Channel the sink uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events to a durable topic exchange with routing key
// queue.<queue_id>.<event type>, so consumers can bind per queue or per type.
type AMQPSink struct {
	ch       Channel
	conn     *amqp.Connection
	exchange string
}

// NewAMQPSink declares exchange on ch. The exchange declaration is idempotent.
func NewAMQPSink(ch Channel, exchange string) (*AMQPSink, error) {
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPSink{ch: ch, exchange: exchange}, nil
}

// DialAMQP connects to the broker at url and returns a sink that owns the
// connection.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	sink, err := NewAMQPSink(ch, exchange)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	sink.conn = conn
	return sink, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Publish(ctx context.Context, ev domain.Event) error {
	body, err := encode(ev)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		MessageId:    fmt.Sprintf("%s-%d", ev.QueueID, ev.Seq),
		Type:         string(ev.Type),
		Body:         body,
	}
	if err := s.ch.PublishWithContext(ctx, s.exchange, RoutingKey(ev), false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", s.exchange, err)
	}
	return nil
}

// Close releases the channel and, when the sink dialled it, the connection.
func (s *AMQPSink) Close() error {
	err := s.ch.Close()
	if s.conn != nil {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}

var _ Sink = (*AMQPSink)(nil)
