// Package publisher forwards queue events to external systems.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ricirt/queue-system/internal/domain"
)

// Sink delivers one event to an external system. Mocking this interface in
// tests gives full control over delivery without real network calls.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev domain.Event) error
}

func encode(ev domain.Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return body, nil
}

// ChannelName is the pub/sub channel carrying one queue's events.
func ChannelName(queueID string) string {
	return "queue." + queueID + ".events"
}

// RoutingKey is the AMQP routing key for ev.
func RoutingKey(ev domain.Event) string {
	return "queue." + ev.QueueID + "." + string(ev.Type)
}
