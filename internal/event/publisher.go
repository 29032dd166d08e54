// Package event publishes order-lifecycle events for downstream consumers
// (vendor dashboards, analytics). Publishing is best effort: a failure is
// logged and never feeds back into order state.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

type Type string

const (
	TypeOrderCreated   Type = "order.created"
	TypeOrderPaid      Type = "order.paid"
	TypeOrderExpired   Type = "order.expired"
	TypeOrderCancelled Type = "order.cancelled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     Type            `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type Publisher interface {
	Publish(eventType Type, correlationID string, payload any)
	Close()
}

// Noop discards events; the default when no broker is configured and in tests.
type Noop struct{}

func (Noop) Publish(Type, string, any) {}
func (Noop) Close()                    {}

// KafkaPublisher writes envelopes asynchronously through an inbox channel so
// a slow broker never blocks an order transition.
type KafkaPublisher struct {
	writer   *kafka.Writer
	producer string
	inbox    chan kafka.Message
	done     chan struct{}
}

func NewKafkaPublisher(brokers []string, topic, producer string, buf int) *KafkaPublisher {
	p := &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		producer: producer,
		inbox:    make(chan kafka.Message, buf),
		done:     make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *KafkaPublisher) loop() {
	defer close(p.done)
	for m := range p.inbox {
		if err := p.writer.WriteMessages(context.Background(), m); err != nil {
			log.Error().Err(err).Str("topic", p.writer.Topic).Msg("event: failed to publish")
		}
	}
	if err := p.writer.Close(); err != nil {
		log.Error().Err(err).Msg("event: failed to close writer")
	}
}

func (p *KafkaPublisher) Publish(eventType Type, correlationID string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("event: failed to marshal payload")
		return
	}
	env := Envelope{
		EventID:       uuid.Must(uuid.NewV4()).String(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.producer,
		CorrelationID: correlationID,
		Payload:       body,
	}
	value, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("event: failed to marshal envelope")
		return
	}

	m := kafka.Message{
		// partition by order id so events of one order keep their order
		Key:   []byte(correlationID),
		Value: value,
		Time:  time.Now(),
	}
	select {
	case p.inbox <- m:
	default:
		log.Warn().Str("event_type", string(eventType)).Msg("event: inbox full, dropping event")
	}
}

// Close flushes the inbox and shuts the writer down.
func (p *KafkaPublisher) Close() {
	close(p.inbox)
	<-p.done
}
