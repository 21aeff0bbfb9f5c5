package commbus

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
)

type subscription struct {
	id      uint64
	handler HandlerFunc
}

// InMemoryCommBus is the single-process CommBus. Pipeline stages publish
// to it and the kernel registers its health and rate-limit handlers on it.
//
//	bus := NewInMemoryCommBus(5*time.Second, logger)
//	bus.Subscribe("ClassificationCompleted", telemetryHandler)
//	bus.Publish(ctx, &ClassificationCompleted{...})
type InMemoryCommBus struct {
	queryTimeout time.Duration
	logger       logging.Logger

	mu          sync.RWMutex
	handlers    map[string]HandlerFunc
	subscribers map[string][]subscription
	middleware  []Middleware
	nextID      uint64
}

// NewInMemoryCommBus returns an empty bus whose queries give up after
// queryTimeout. A nil logger discards.
func NewInMemoryCommBus(queryTimeout time.Duration, logger logging.Logger) *InMemoryCommBus {
	if logger == nil {
		logger = logging.Nop()
	}
	return &InMemoryCommBus{
		queryTimeout: queryTimeout,
		logger:       logger.Bind("component", "commbus"),
		handlers:     make(map[string]HandlerFunc),
		subscribers:  make(map[string][]subscription),
	}
}

// Publish delivers event to every subscriber concurrently and waits for
// them. Subscriber failures and panics are logged and reported to the
// middleware chain, never to the publisher.
func (b *InMemoryCommBus) Publish(ctx context.Context, event Message) error {
	eventType := GetMessageType(event)
	msg, err := b.before(ctx, event)
	if err != nil {
		return err
	}
	if msg == nil {
		b.logger.Debug("commbus_event_aborted", "event_type", eventType)
		return nil
	}

	b.mu.RLock()
	subs := slices.Clone(b.subscribers[eventType])
	b.mu.RUnlock()

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		i, sub := i, sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("commbus_subscriber_panic", "event_type", eventType, "panic", r)
				}
			}()
			if _, err := sub.handler(ctx, msg); err != nil {
				errs[i] = err
				b.logger.Warn("commbus_subscriber_failed", "event_type", eventType, "error", err.Error())
			}
		}()
	}
	wg.Wait()

	_, _ = b.after(ctx, event, nil, errors.Join(errs...))
	return nil
}

// Send routes command to its handler, if any, and returns the handler's
// error.
func (b *InMemoryCommBus) Send(ctx context.Context, command Message) error {
	messageType := GetMessageType(command)
	msg, err := b.before(ctx, command)
	if err != nil {
		return err
	}
	if msg == nil {
		b.logger.Debug("commbus_command_aborted", "message_type", messageType)
		return nil
	}

	handler, ok := b.handler(messageType)
	if !ok {
		b.logger.Debug("commbus_no_handler", "message_type", messageType)
		return nil
	}
	_, herr := handler(ctx, msg)
	if herr != nil {
		b.logger.Warn("commbus_command_failed", "message_type", messageType, "error", herr.Error())
	}
	_, _ = b.after(ctx, command, nil, herr)
	return herr
}

// QuerySync asks the registered handler and waits at most the bus query
// timeout. An aborted or unrouted query is a NoHandlerError.
func (b *InMemoryCommBus) QuerySync(ctx context.Context, query Query) (any, error) {
	messageType := GetMessageType(query)
	msg, err := b.before(ctx, query)
	if err != nil {
		return nil, err
	}
	handler, ok := b.handler(messageType)
	if msg == nil || !ok {
		return nil, NewNoHandlerError(messageType)
	}

	qctx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()

	type reply struct {
		value any
		err   error
	}
	done := make(chan reply, 1)
	go func() {
		v, e := handler(qctx, msg)
		done <- reply{v, e}
	}()

	select {
	case <-qctx.Done():
		terr := NewQueryTimeoutError(messageType, b.queryTimeout.Seconds())
		_, _ = b.after(ctx, query, nil, terr)
		return nil, terr
	case r := <-done:
		value, merr := b.after(ctx, query, r.value, r.err)
		if merr != nil {
			return value, merr
		}
		return value, r.err
	}
}

// Subscribe adds a subscriber and returns the function that removes it.
func (b *InMemoryCommBus) Subscribe(eventType string, handler HandlerFunc) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()
	b.logger.Debug("commbus_subscribed", "event_type", eventType)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subscribers[eventType] = slices.DeleteFunc(slices.Clone(b.subscribers[eventType]), func(s subscription) bool {
			return s.id == id
		})
	}
}

// RegisterHandler claims messageType for handler. A type has at most one
// handler.
func (b *InMemoryCommBus) RegisterHandler(messageType string, handler HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, taken := b.handlers[messageType]; taken {
		return NewHandlerAlreadyRegisteredError(messageType)
	}
	b.handlers[messageType] = handler
	b.logger.Debug("commbus_handler_registered", "message_type", messageType)
	return nil
}

// AddMiddleware appends to the chain. Before hooks run in insertion order
// and After hooks in reverse.
func (b *InMemoryCommBus) AddMiddleware(middleware Middleware) {
	b.mu.Lock()
	b.middleware = append(b.middleware, middleware)
	b.mu.Unlock()
}

func (b *InMemoryCommBus) HasHandler(messageType string) bool {
	_, ok := b.handler(messageType)
	return ok
}

func (b *InMemoryCommBus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}

// Clear drops every handler, subscriber and middleware.
func (b *InMemoryCommBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string]HandlerFunc)
	b.subscribers = make(map[string][]subscription)
	b.middleware = nil
}

func (b *InMemoryCommBus) handler(messageType string) (HandlerFunc, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[messageType]
	return h, ok
}

func (b *InMemoryCommBus) chain() []Middleware {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.middleware)
}

// before returns nil without error when a middleware drops the message.
func (b *InMemoryCommBus) before(ctx context.Context, message Message) (Message, error) {
	current := message
	for _, mw := range b.chain() {
		next, err := mw.Before(ctx, current)
		if err != nil || next == nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

func (b *InMemoryCommBus) after(ctx context.Context, message Message, result any, err error) (any, error) {
	mws := b.chain()
	for i := len(mws) - 1; i >= 0; i-- {
		r, aerr := mws[i].After(ctx, message, result, err)
		if aerr != nil {
			err = aerr
		}
		if r != nil {
			result = r
		}
	}
	return result, err
}

var _ CommBus = (*InMemoryCommBus)(nil)
