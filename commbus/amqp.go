package commbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
)

// AMQPChannel is the subset of *amqp.Channel the forwarder uses.
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPForwarder republishes bus events to a RabbitMQ topic exchange as
// JSON. Routing keys are "zoe.<event_type>".
type AMQPForwarder struct {
	conn     *amqp.Connection
	ch       AMQPChannel
	exchange string
	timeout  time.Duration
	logger   logging.Logger
}

// DialAMQPForwarder connects to url and declares a durable topic exchange.
func DialAMQPForwarder(url, exchange string, logger logging.Logger) (*AMQPForwarder, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if exchange == "" {
		exchange = "zoe.events"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	f := NewAMQPForwarder(ch, exchange, logger)
	f.conn = conn
	return f, nil
}

// NewAMQPForwarder wraps an already open channel.
func NewAMQPForwarder(ch AMQPChannel, exchange string, logger logging.Logger) *AMQPForwarder {
	if logger == nil {
		logger = logging.Nop()
	}
	return &AMQPForwarder{
		ch:       ch,
		exchange: exchange,
		timeout:  2 * time.Second,
		logger:   logger.Bind("component", "amqp_forwarder"),
	}
}

// Attach subscribes the forwarder to eventTypes and returns a function that
// removes every subscription.
func (f *AMQPForwarder) Attach(bus CommBus, eventTypes []string) func() {
	unsubs := make([]func(), 0, len(eventTypes))
	for _, t := range eventTypes {
		unsubs = append(unsubs, bus.Subscribe(t, f.Forward))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Forward publishes one message. It satisfies HandlerFunc.
func (f *AMQPForwarder) Forward(ctx context.Context, msg Message) (any, error) {
	msgType := GetMessageType(msg)
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, NewForwardError(msgType, err)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	err = f.ch.PublishWithContext(pubCtx, f.exchange, RoutingKey(msgType), false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        msgType,
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		f.logger.Warn("amqp_forward_failed", "message_type", msgType, "error", err.Error())
		return nil, NewForwardError(msgType, err)
	}
	return nil, nil
}

// Close releases the channel and connection.
func (f *AMQPForwarder) Close() error {
	if f == nil {
		return nil
	}
	if f.ch != nil {
		_ = f.ch.Close()
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// RoutingKey converts a message type such as "WorkflowFinished" into
// "zoe.workflow_finished".
func RoutingKey(messageType string) string {
	var b strings.Builder
	b.WriteString("zoe.")
	for i, r := range messageType {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
