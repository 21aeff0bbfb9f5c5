package commbus

import (
	"errors"
	"fmt"
	"strings"
)

// ErrForward marks failures to hand an event to an external broker.
var ErrForward = errors.New("forward")

// CommBusError wraps a delivery failure with the message type it concerns.
type CommBusError struct {
	Message string
	Cause   error
}

func (e *CommBusError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *CommBusError) Unwrap() error { return e.Cause }

// Is reports forward failures as ErrForward.
func (e *CommBusError) Is(target error) bool {
	return target == ErrForward && strings.HasPrefix(e.Message, "forward ")
}

// NewForwardError reports that the broker rejected or never received
// messageType.
func NewForwardError(messageType string, cause error) *CommBusError {
	return &CommBusError{Message: "forward " + messageType, Cause: cause}
}

// NoHandlerError is returned by Send and QuerySync for an unrouted type.
type NoHandlerError struct{ MessageType string }

func (e *NoHandlerError) Error() string {
	return "no handler registered for " + e.MessageType
}

func NewNoHandlerError(messageType string) *NoHandlerError {
	return &NoHandlerError{MessageType: messageType}
}

// HandlerAlreadyRegisteredError rejects a second command or query handler.
type HandlerAlreadyRegisteredError struct{ MessageType string }

func (e *HandlerAlreadyRegisteredError) Error() string {
	return "handler already registered for " + e.MessageType
}

func NewHandlerAlreadyRegisteredError(messageType string) *HandlerAlreadyRegisteredError {
	return &HandlerAlreadyRegisteredError{MessageType: messageType}
}

// QueryTimeoutError means a QuerySync handler outlived the bus query
// timeout. Timeout is in seconds.
type QueryTimeoutError struct {
	MessageType string
	Timeout     float64
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("query %s timed out after %.2fs", e.MessageType, e.Timeout)
}

func NewQueryTimeoutError(messageType string, timeout float64) *QueryTimeoutError {
	return &QueryTimeoutError{MessageType: messageType, Timeout: timeout}
}
