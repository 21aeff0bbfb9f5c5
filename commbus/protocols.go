// Package commbus is the in-process bus the pipeline reports through.
//
// Stages publish typed events (classification completed, workflow
// finished, feedback received) without knowing who listens; the AMQP
// forwarder and the kernel's health and rate-limit handlers sit on the
// other side.
package commbus

import "context"

// Message is anything carried by the bus.
type Message interface {
	// Category is "event", "query" or "command".
	Category() string
}

// Query is a Message answered by exactly one handler.
type Query interface {
	Message
	IsQuery()
}

// HandlerFunc handles one message. Event subscribers return a nil result.
type HandlerFunc func(ctx context.Context, message Message) (any, error)

// Middleware wraps every delivery. Before may replace the message or
// return nil to drop it; After sees the handler outcome and may replace
// the result.
type Middleware interface {
	Before(ctx context.Context, message Message) (Message, error)
	After(ctx context.Context, message Message, result any, err error) (any, error)
}

// CommBus offers fan-out events (Publish), routed commands (Send) and
// request-response queries (QuerySync).
type CommBus interface {
	Publish(ctx context.Context, event Message) error
	Send(ctx context.Context, command Message) error
	QuerySync(ctx context.Context, query Query) (any, error)

	// Subscribe returns the matching unsubscribe function.
	Subscribe(eventType string, handler HandlerFunc) func()
	RegisterHandler(messageType string, handler HandlerFunc) error
	AddMiddleware(middleware Middleware)

	HasHandler(messageType string) bool
	SubscriberCount(eventType string) int
	Clear()
}
