package commbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageCategories(t *testing.T) {
	events := []Message{
		&ClassificationCompleted{},
		&ContextDecided{},
		&WorkflowPlanned{},
		&WorkflowFinished{},
		&InteractionCompleted{},
		&FeedbackReceived{},
	}
	for _, m := range events {
		assert.Equal(t, "event", m.Category(), GetMessageType(m))
	}
	assert.Equal(t, "command", (&ExpireSessions{}).Category())
	assert.Equal(t, "query", (&HealthCheckRequest{}).Category())
}

func TestGetMessageType(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{&ClassificationCompleted{}, "ClassificationCompleted"},
		{&ContextDecided{}, "ContextDecided"},
		{&WorkflowPlanned{}, "WorkflowPlanned"},
		{&WorkflowFinished{}, "WorkflowFinished"},
		{&InteractionCompleted{}, "InteractionCompleted"},
		{&FeedbackReceived{}, "FeedbackReceived"},
		{&ExpireSessions{}, "ExpireSessions"},
		{&HealthCheckRequest{}, "HealthCheckRequest"},
		{typedMessage{name: "Custom"}, "Custom"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GetMessageType(tt.msg))
	}
}

func TestPipelineEventTypesAreRoutable(t *testing.T) {
	known := map[string]bool{}
	for _, m := range []Message{
		&ClassificationCompleted{}, &ContextDecided{}, &WorkflowPlanned{},
		&WorkflowFinished{}, &InteractionCompleted{}, &FeedbackReceived{},
	} {
		known[GetMessageType(m)] = true
	}
	for _, name := range PipelineEventTypes {
		assert.True(t, known[name], name)
	}
}

func TestErrors(t *testing.T) {
	assert.Equal(t, "no handler registered for X", NewNoHandlerError("X").Error())
	assert.Equal(t, "handler already registered for X", NewHandlerAlreadyRegisteredError("X").Error())
	assert.Equal(t, "query X timed out after 1.50s", NewQueryTimeoutError("X", 1.5).Error())
	assert.Equal(t, "forward X: boom", NewForwardError("X", assertError("boom")).Error())
	assert.ErrorIs(t, NewForwardError("X", assertError("boom")), ErrForward)
	assert.NotErrorIs(t, &CommBusError{Message: "other"}, ErrForward)
}

type typedMessage struct{ name string }

func (m typedMessage) Category() string    { return "event" }
func (m typedMessage) MessageType() string { return m.name }

type assertError string

func (e assertError) Error() string { return string(e) }
