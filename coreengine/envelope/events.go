package envelope

import (
	"sync"
	"time"
)

// Event is one item of the chat stream.
type Event struct {
	Type          EventType      `json:"type"`
	InteractionID string         `json:"interaction_id,omitempty"`
	WorkflowID    string         `json:"workflow_id,omitempty"`
	StepID        string         `json:"step_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(t EventType, data map[string]any) Event {
	return Event{Type: t, Data: data, Timestamp: time.Now().UTC()}
}

// EventSink receives stream events. The pipeline delivers to a caller's
// sink from its own writer goroutine, one event at a time, so a slow sink
// delays only its own stream.
type EventSink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ev Event)

// Emit implements EventSink.
func (f SinkFunc) Emit(ev Event) { f(ev) }

// DiscardSink drops every event.
var DiscardSink EventSink = SinkFunc(func(Event) {})

type guardedSink struct {
	mu     sync.Mutex
	sink   EventSink
	closed bool
}

func (g *guardedSink) Emit(ev Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.sink.Emit(ev)
	}
}

// Guard wraps sink for a transport that must stop writing when its handler
// returns. release waits for an Emit in progress and drops all later ones.
func Guard(sink EventSink) (guarded EventSink, release func()) {
	g := &guardedSink{sink: sink}
	return g, func() {
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()
	}
}
