// Package events publishes domain events to the configured broker.
package events

import (
	"context"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/logging"
	"chatsync/internal/observability"
)

// Publisher publishes JSON events under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Envelope wraps every published domain event.
type Envelope struct {
	EventType  string `json:"event_type"`
	EventName  string `json:"event_name"`
	OccurredAt string `json:"occurred_at"`
	RequestID  string `json:"request_id,omitempty"`
	Payload    any    `json:"payload"`
}

// NewEnvelope stamps an event with the current time and request id.
func NewEnvelope(ctx context.Context, eventType, eventName string, payload any) Envelope {
	return Envelope{
		EventType:  eventType,
		EventName:  eventName,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID:  observability.RequestIDFromContext(ctx),
		Payload:    payload,
	}
}

// New builds the publisher for cfg.Driver, falling back to noop when the
// broker is unreachable so the chat path never depends on it.
func New(cfg config.EventsConfig) Publisher {
	switch cfg.Driver {
	case "amqp":
		return NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange)
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	default:
		return noopPublisher{reason: "events disabled"}
	}
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	e := logging.Debug().Str("routing_key", routingKey)
	if env, ok := event.(Envelope); ok {
		e = e.Str("event_name", env.EventName)
	}
	e.Msg("noop publish")
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// Mode reports the publisher mode for logging.
func Mode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case *kafkaPublisher:
		return "kafka"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// NoopReason explains why a noop publisher was chosen.
func NoopReason(p Publisher) string {
	if n, ok := p.(noopPublisher); ok {
		return n.reason
	}
	return ""
}

// Counted wraps p so failed publishes increment the error metric.
func Counted(p Publisher) Publisher {
	return countingPublisher{Publisher: p}
}

type countingPublisher struct {
	Publisher
}

func (c countingPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	err := c.Publisher.Publish(ctx, routingKey, event)
	if err != nil {
		observability.IncEventPublishError(Mode(c.Publisher))
	}
	return err
}
