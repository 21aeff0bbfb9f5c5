package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
)

// Response is what the caller receives for one utterance.
type Response struct {
	InteractionID string             `json:"interaction_id"`
	WorkflowID    string             `json:"workflow_id,omitempty"`
	Intent        string             `json:"intent,omitempty"`
	Text          string             `json:"text"`
	Outcome       envelope.Outcome   `json:"outcome"`
	ErrorKind     envelope.ErrorKind `json:"error_kind,omitempty"`
	InterruptID   string             `json:"interrupt_id,omitempty"`
	TimedOut      bool               `json:"timed_out,omitempty"`
	Cancelled     bool               `json:"cancelled,omitempty"`
	Latency       time.Duration      `json:"latency"`
}

const (
	apologyText   = "Sorry, that took longer than it should. Please try again in a moment."
	failureText   = "Sorry, something went wrong while handling that."
	cancelledText = "The request was cancelled."
)

// Supervisor enforces the outer deadline of a request. Inner deadlines
// belong to each component.
type Supervisor struct {
	budget time.Duration
	logger logging.Logger
}

// NewSupervisor creates a supervisor with the given outer budget.
func NewSupervisor(budget time.Duration, logger logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Supervisor{budget: budget, logger: logger.Bind("component", "supervisor")}
}

// Budget returns the outer deadline.
func (s *Supervisor) Budget() time.Duration { return s.budget }

// Run races body against the outer deadline. When the deadline fires first
// the body context is cancelled and partial builds the response from
// whatever state exists; Run does not wait for body to return.
func (s *Supervisor) Run(ctx context.Context, body func(ctx context.Context) Response, partial func() Response) Response {
	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	done := make(chan Response, 1)
	kernel.SafeGo(s.logger, "pipeline body", func() {
		done <- body(ctx)
	}, func(any) {
		done <- Response{Text: failureText, Outcome: envelope.OutcomeFailed}
	})

	select {
	case resp := <-done:
		return resp
	case <-ctx.Done():
	}

	cause := ctx.Err()
	cancel()
	resp := partial()
	if errors.Is(cause, context.DeadlineExceeded) {
		terr := &envelope.OuterTimeout{Budget: s.budget}
		resp.TimedOut = true
		resp.Outcome = envelope.OutcomeTimeout
		resp.ErrorKind = envelope.KindOf(terr)
		if resp.Text == "" {
			resp.Text = apologyText
		}
		s.logger.Warn("outer_deadline_exceeded",
			"interaction_id", resp.InteractionID,
			"budget", s.budget.String(),
		)
		return resp
	}

	resp.Cancelled = true
	resp.Outcome = envelope.OutcomeFailed
	if resp.Text == "" {
		resp.Text = cancelledText
	}
	s.logger.Info("request_cancelled", "interaction_id", resp.InteractionID)
	return resp
}
