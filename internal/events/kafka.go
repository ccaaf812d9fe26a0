package events

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"chatsync/internal/logging"
	"chatsync/internal/observability"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher writes events to one topic keyed by routing key, so
// events of one kind keep their relative order within a partition.
func NewKafkaPublisher(brokers []string, topic string) Publisher {
	if len(brokers) == 0 || topic == "" {
		logging.Warn().Msg("kafka disabled, using noop: no brokers or topic")
		return noopPublisher{reason: "no kafka brokers"}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logging.Warn().Msgf("kafka: "+msg, args...)
		}),
	}
	logging.Info().Strs("brokers", brokers).Str("topic", topic).Msg("kafka writer ready")
	return &kafkaPublisher{w: w}
}

func (p *kafkaPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	headers := []kafka.Header{{Key: "routing_key", Value: []byte(routingKey)}}
	for k, v := range observability.HeadersFromContext(ctx) {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(routingKey),
		Value:   body,
		Headers: headers,
		Time:    time.Now(),
	})
}

func (p *kafkaPublisher) Close() error {
	return p.w.Close()
}
