package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"medinotify/internal/types"
)

// Channel is the subset of *amqp.Channel the consumer uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// Connection is the subset of *amqp.Connection the consumer uses.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Dialer opens a broker connection.
type Dialer func(url string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialAMQP is the production Dialer.
func DialAMQP(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// Dispatcher handles one parsed envelope.
type Dispatcher interface {
	Dispatch(ctx context.Context, env types.EventEnvelope) error
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	URL            string
	Exchange       string
	Queue          string
	Bindings       []string
	Prefetch       int
	ReconnectDelay time.Duration
	ConsumerTag    string
}

// Consumer subscribes a durable queue to the event exchange and dispatches
// every delivery. It runs Prefetch handlers concurrently and reconnects
// after a fixed delay whenever the broker session ends.
type Consumer struct {
	cfg        ConsumerConfig
	dial       Dialer
	dispatcher Dispatcher
	logger     types.Logger
	connected  atomic.Bool
}

// NewConsumer creates a Consumer. A nil dial uses DialAMQP.
func NewConsumer(cfg ConsumerConfig, dial Dialer, dispatcher Dispatcher, logger types.Logger) *Consumer {
	if dial == nil {
		dial = DialAMQP
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Consumer{
		cfg:        cfg,
		dial:       dial,
		dispatcher: dispatcher,
		logger:     logger.With("component", "event-consumer", "queue", cfg.Queue),
	}
}

// Connected reports whether a broker session is currently consuming.
func (c *Consumer) Connected() bool { return c.connected.Load() }

// Run consumes until ctx is cancelled. In-flight deliveries are finished and
// acknowledged before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.Info("event consumer stopped")
			return nil
		}
		c.logger.Error("broker session ended, reconnecting",
			"error", errString(err),
			"delay", c.cfg.ReconnectDelay.String(),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Consumer) session(ctx context.Context) error {
	conn, err := c.dial(c.cfg.URL)
	if err != nil {
		return types.NewAppError(types.ErrCodeBrokerConnection, "failed to connect to broker", err)
	}
	defer conn.Close()
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	ch, err := conn.Channel()
	if err != nil {
		return types.NewAppError(types.ErrCodeBrokerConnection, "failed to open channel", err)
	}
	defer ch.Close()

	if err := c.declare(ch); err != nil {
		return err
	}

	deliveries, err := ch.Consume(c.cfg.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeBrokerConnection, "failed to start consuming", err)
	}

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.logger.Info("event consumer connected",
		"exchange", c.cfg.Exchange,
		"bindings", c.cfg.Bindings,
		"prefetch", c.cfg.Prefetch,
	)

	// Handlers outlive ctx so in-flight messages are settled on shutdown.
	handlerCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Prefetch; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				c.handle(handlerCtx, d)
			}
		}()
	}
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-ctx.Done():
		if err := ch.Cancel(c.cfg.ConsumerTag, false); err != nil {
			c.logger.Warn("failed to cancel consumer", "error", err.Error())
		}
		<-drained
		return nil
	case amqpErr := <-closed:
		<-drained
		if amqpErr == nil {
			return types.NewAppError(types.ErrCodeBrokerConnection, "broker connection closed", nil)
		}
		return types.NewAppError(types.ErrCodeBrokerConnection, "broker connection lost", amqpErr)
	case <-drained:
		return types.NewAppError(types.ErrCodeBrokerConnection, "delivery stream closed", nil)
	}
}

func (c *Consumer) declare(ch Channel) error {
	if err := ch.ExchangeDeclare(c.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return types.NewAppError(types.ErrCodeBrokerConnection, "failed to declare exchange", err)
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return types.NewAppError(types.ErrCodeBrokerConnection, "failed to declare queue", err)
	}
	for _, key := range c.cfg.Bindings {
		if err := ch.QueueBind(c.cfg.Queue, key, c.cfg.Exchange, false, nil); err != nil {
			return types.NewAppErrorWithDetails(types.ErrCodeBrokerConnection,
				"failed to bind queue", err, map[string]any{"routing_key": key})
		}
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return types.NewAppError(types.ErrCodeBrokerConnection, "failed to set prefetch", err)
	}
	return nil
}

// handle settles one delivery: ack on success or unknown type, nack with
// requeue on any other failure.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	log := c.logger.With("routing_key", d.RoutingKey, "delivery_tag", d.DeliveryTag)

	env, err := ParseEnvelope(d.Body)
	if err != nil {
		log.Error("undecodable event, requeueing", "error", err.Error(), "redelivered", d.Redelivered)
		c.settle(log, d, false)
		return
	}

	correlationID := env.Metadata.CorrelationID
	if correlationID == "" {
		correlationID = d.CorrelationId
		env.Metadata.CorrelationID = correlationID
	}
	log = log.With("event_type", env.EventType, "correlation_id", correlationID)
	ctx = types.WithLogger(types.WithCorrelationID(ctx, correlationID), log)

	err = c.dispatcher.Dispatch(ctx, env)
	switch {
	case err == nil:
		c.settle(log, d, true)
	case types.IsCode(err, types.ErrCodeUnknownEventType):
		log.Warn("dropping event with unknown type")
		c.settle(log, d, true)
	default:
		log.Error("event handling failed, requeueing",
			"error", err.Error(),
			"error_code", string(types.CodeOf(err)),
			"redelivered", d.Redelivered,
		)
		c.settle(log, d, false)
	}
}

func (c *Consumer) settle(log types.Logger, d amqp.Delivery, ack bool) {
	var err error
	if ack {
		err = d.Ack(false)
	} else {
		err = d.Nack(false, true)
	}
	if err != nil {
		log.Error("failed to settle delivery", "ack", ack, "error", err.Error())
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
