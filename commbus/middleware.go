package commbus

import (
	"context"
	"sync"
	"time"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/observability"
)

// LoggingMiddleware traces bus traffic at debug level and failed deliveries
// at warn.
type LoggingMiddleware struct {
	logger logging.Logger
}

// NewLoggingMiddleware returns a LoggingMiddleware writing to logger.
func NewLoggingMiddleware(logger logging.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = logging.Nop()
	}
	return &LoggingMiddleware{logger: logger.Bind("component", "commbus")}
}

func (m *LoggingMiddleware) Before(_ context.Context, message Message) (Message, error) {
	m.logger.Debug("commbus_message", "category", message.Category(), "message_type", GetMessageType(message))
	return message, nil
}

func (m *LoggingMiddleware) After(_ context.Context, message Message, result any, err error) (any, error) {
	if err != nil {
		m.logger.Warn("commbus_message_failed", "message_type", GetMessageType(message), "error", err.Error())
		return result, nil
	}
	m.logger.Debug("commbus_message_completed", "message_type", GetMessageType(message))
	return result, nil
}

type breakerState string

const (
	breakerClosed   breakerState = "closed"
	breakerOpen     breakerState = "open"
	breakerHalfOpen breakerState = "half-open"
)

type circuit struct {
	state    breakerState
	failures int
	openedAt time.Time
}

// CircuitBreakerMiddleware stops delivering a message type after repeated
// handler failures and probes again once resetTimeout has passed. One
// circuit is kept per message type. The AMQP forwarder relies on it so a
// dead broker does not cost a publish attempt per pipeline event.
//
// A threshold of zero never opens.
type CircuitBreakerMiddleware struct {
	threshold    int
	resetTimeout time.Duration
	excluded     map[string]bool
	logger       logging.Logger
	now          func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

// NewCircuitBreakerMiddleware returns a breaker. Message types listed in
// excludedTypes are never blocked.
func NewCircuitBreakerMiddleware(threshold int, resetTimeout time.Duration, excludedTypes []string, logger logging.Logger) *CircuitBreakerMiddleware {
	if logger == nil {
		logger = logging.Nop()
	}
	excluded := make(map[string]bool, len(excludedTypes))
	for _, t := range excludedTypes {
		excluded[t] = true
	}
	return &CircuitBreakerMiddleware{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		excluded:     excluded,
		logger:       logger.Bind("component", "circuit_breaker"),
		now:          time.Now,
		circuits:     make(map[string]*circuit),
	}
}

func (m *CircuitBreakerMiddleware) circuitFor(msgType string) *circuit {
	c, ok := m.circuits[msgType]
	if !ok {
		c = &circuit{state: breakerClosed}
		m.circuits[msgType] = c
	}
	return c
}

func (m *CircuitBreakerMiddleware) transition(msgType string, c *circuit, to breakerState) {
	c.state = to
	observability.RecordBreakerTransition(msgType, string(to))
	switch to {
	case breakerOpen:
		m.logger.Warn("circuit_opened", "message_type", msgType, "failures", c.failures)
	case breakerHalfOpen:
		m.logger.Info("circuit_half_open", "message_type", msgType)
	case breakerClosed:
		m.logger.Info("circuit_closed", "message_type", msgType)
	}
}

// Before returns nil while the circuit for the message type is open, which
// makes the bus drop the delivery.
func (m *CircuitBreakerMiddleware) Before(_ context.Context, message Message) (Message, error) {
	msgType := GetMessageType(message)
	if m.excluded[msgType] {
		return message, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.circuitFor(msgType)
	if c.state != breakerOpen {
		return message, nil
	}
	if m.now().Sub(c.openedAt) < m.resetTimeout {
		m.logger.Debug("circuit_open_blocking", "message_type", msgType)
		return nil, nil
	}
	m.transition(msgType, c, breakerHalfOpen)
	return message, nil
}

// After counts the delivery result against the circuit.
func (m *CircuitBreakerMiddleware) After(_ context.Context, message Message, result any, err error) (any, error) {
	msgType := GetMessageType(message)
	if m.excluded[msgType] {
		return result, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.circuitFor(msgType)

	if err == nil {
		if c.state == breakerHalfOpen {
			c.failures = 0
			m.transition(msgType, c, breakerClosed)
		}
		return result, nil
	}

	c.failures++
	switch {
	case c.state == breakerHalfOpen:
		c.openedAt = m.now()
		m.transition(msgType, c, breakerOpen)
	case c.state == breakerClosed && m.threshold > 0 && c.failures >= m.threshold:
		c.openedAt = m.now()
		m.transition(msgType, c, breakerOpen)
	}
	return result, nil
}

// GetStates reports the state of every circuit seen so far, keyed by
// message type.
func (m *CircuitBreakerMiddleware) GetStates() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.circuits))
	for k, c := range m.circuits {
		out[k] = string(c.state)
	}
	return out
}

// Reset forgets the circuit for msgType, or every circuit when msgType is
// nil.
func (m *CircuitBreakerMiddleware) Reset(msgType *string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msgType == nil {
		m.circuits = make(map[string]*circuit)
		return
	}
	delete(m.circuits, *msgType)
}

var (
	_ Middleware = (*LoggingMiddleware)(nil)
	_ Middleware = (*CircuitBreakerMiddleware)(nil)
)
