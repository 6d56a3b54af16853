package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"medinotify/internal/types"
)

// PublishChannel is the subset of *amqp.Channel the Publisher uses.
type PublishChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher emits domain events in the shared envelope format, routed by
// event type.
type Publisher struct {
	ch        PublishChannel
	exchange  string
	serviceID string
	version   string
	clock     types.Clock
}

// NewPublisher declares the exchange and returns a Publisher on it.
func NewPublisher(ch PublishChannel, exchange, serviceID, version string) (*Publisher, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, types.NewAppError(types.ErrCodeBrokerConnection, "failed to declare exchange", err)
	}
	return &Publisher{ch: ch, exchange: exchange, serviceID: serviceID, version: version, clock: types.RealClock{}}, nil
}

// Publish wraps payload in an envelope and publishes it persistently. An
// empty correlationID is replaced with a fresh one, which is returned.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload any, correlationID string) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeMalformedEvent, "failed to encode event payload", err)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	env := types.EventEnvelope{
		EventType: eventType,
		Timestamp: p.clock.Now().UTC(),
		Metadata: types.EventMetadata{
			ServiceID:     p.serviceID,
			Version:       p.version,
			CorrelationID: correlationID,
		},
		Payload: raw,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeMalformedEvent, "failed to encode event envelope", err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, eventType, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: correlationID,
		Timestamp:     env.Timestamp,
		Type:          eventType,
		AppId:         p.serviceID,
		Body:          body,
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeBrokerConnection, "failed to publish event", err)
	}
	return correlationID, nil
}
