package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/commbus"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/workflow"
)

// ErrCorrectionRequired is returned for modify feedback without a
// correction on a pending confirmation.
var ErrCorrectionRequired = errors.New("modify feedback requires a correction")

// Feedback applies user feedback to a retained interaction. A pending
// confirmation is resolved: approve runs the parked workflow, reject
// cancels it and modify corrects a step's inputs before running it. Any
// other feedback only updates the satisfaction record.
func (p *Pipeline) Feedback(ctx context.Context, req FeedbackRequest, sink envelope.EventSink) (Response, error) {
	if !req.Type.IsValid() {
		return Response{}, ErrInvalidFeedback
	}
	if req.SessionID == "" && req.InteractionID == "" {
		return Response{}, ErrMissingSession
	}

	ctx, span := tracer.Start(ctx, "pipeline.feedback")
	defer span.End()
	span.SetAttributes(attribute.String("feedback.type", string(req.Type)))

	sess, err := p.Kernel.Sessions().Lookup(ctx, req.SessionID, req.InteractionID)
	if err != nil {
		return Response{}, err
	}
	log := p.logger.Bind("interaction_id", sess.InteractionID, "session_id", sess.SessionID)

	var resp Response
	if irq, ok := p.pendingConfirmation(sess); ok {
		resp, err = p.resolveConfirmation(ctx, sess, irq, req, sink)
		if err != nil {
			return Response{}, err
		}
	} else {
		resp = Response{
			InteractionID: sess.InteractionID,
			Intent:        sess.Classification.Intent,
			Text:          "Thanks, noted.",
			Outcome:       feedbackOutcome(req.Type),
		}
		if sess.Workflow != nil {
			resp.WorkflowID = sess.Workflow.ID
		}
	}

	sess.Feedback = req.Type
	sess.Outcome = resp.Outcome
	if err := p.Kernel.Sessions().Update(sess.InteractionID, func(s *kernel.Session) {
		s.Feedback = sess.Feedback
		s.Outcome = sess.Outcome
	}); errors.Is(err, kernel.ErrSessionNotFound) {
		// Restored from a snapshot: retain it again.
		p.Kernel.Sessions().Put(sess)
	}
	p.track(sess)
	p.publish(&commbus.FeedbackReceived{
		InteractionID: sess.InteractionID,
		SessionID:     sess.SessionID,
		FeedbackType:  string(req.Type),
		StepID:        req.StepID,
	})

	log.Info("feedback_applied",
		"feedback", string(req.Type),
		"outcome", string(resp.Outcome),
	)
	return resp, nil
}

func (p *Pipeline) pendingConfirmation(sess *kernel.Session) (*kernel.Interrupt, bool) {
	if sess.InterruptID == "" || sess.Workflow == nil {
		return nil, false
	}
	irq, ok := p.Kernel.Interrupts().Get(sess.InterruptID)
	if !ok || !irq.IsPending() || irq.IsExpired(time.Now().UTC()) {
		return nil, false
	}
	return irq, true
}

// resolveConfirmation answers the interrupt and, unless rejected, runs the
// parked workflow under the outer deadline.
func (p *Pipeline) resolveConfirmation(ctx context.Context, sess *kernel.Session, irq *kernel.Interrupt, req FeedbackRequest, sink envelope.EventSink) (Response, error) {
	wf := sess.Workflow
	stepID := req.StepID
	if req.Type == envelope.FeedbackModify {
		if len(req.Correction) == 0 {
			return Response{}, ErrCorrectionRequired
		}
		if stepID == "" {
			stepID = firstSideEffect(wf)
		}
		if _, ok := wf.Step(stepID); !ok {
			return Response{}, fmt.Errorf("%w: %s", workflow.ErrUnknownStep, stepID)
		}
	}

	if _, err := p.Kernel.Interrupts().Resolve(irq.ID, kernel.Resolution{
		Feedback:   req.Type,
		StepID:     stepID,
		Correction: req.Correction,
	}, ""); err != nil {
		return Response{}, err
	}

	if req.Type == envelope.FeedbackModify {
		if err := wf.ModifyInputs(stepID, req.Correction); err != nil {
			return Response{}, err
		}
	}

	gate := newGatedSink(sink, sess.InteractionID)
	start := time.Now()

	if req.Type == envelope.FeedbackReject {
		if err := wf.Transition(workflow.StateCancelled); err != nil {
			p.logger.Warn("workflow_cancel_failed", "workflow_id", wf.ID, "error", err.Error())
		}
		text := "Okay, I won't do that."
		gate.Emit(envelope.NewEvent(envelope.EventContentDelta, map[string]any{"text": text}))
		resp := Response{
			InteractionID: sess.InteractionID,
			WorkflowID:    wf.ID,
			Intent:        sess.Classification.Intent,
			Text:          text,
			Outcome:       envelope.OutcomeRejected,
			Latency:       time.Since(start),
		}
		gate.close()
		p.finish(gate, resp, start)
		return resp, nil
	}

	resp := p.supervisor.Run(ctx,
		func(ctx context.Context) Response {
			return p.executeAndSynthesize(ctx, sess.InteractionID, wf.Goal, wf, gate, nil)
		},
		func() Response {
			return Response{WorkflowID: wf.ID, Text: PartialReply(wf)}
		},
	)
	gate.close()

	resp.InteractionID = sess.InteractionID
	resp.Intent = sess.Classification.Intent
	resp.Latency = time.Since(start)
	if resp.Outcome == envelope.OutcomeSuccess {
		resp.Outcome = feedbackOutcome(req.Type)
	}
	if !p.finish(gate, resp, start) {
		p.logger.Warn("feedback_sink_too_slow", "interaction_id", sess.InteractionID)
	}
	return resp, nil
}

func feedbackOutcome(t envelope.FeedbackType) envelope.Outcome {
	switch t {
	case envelope.FeedbackApprove:
		return envelope.OutcomeApproved
	case envelope.FeedbackReject:
		return envelope.OutcomeRejected
	default:
		return envelope.OutcomeCorrected
	}
}

func firstSideEffect(wf *workflow.Workflow) string {
	for _, s := range wf.Steps() {
		if s.SideEffect {
			return s.ID
		}
	}
	if steps := wf.Steps(); len(steps) > 0 {
		return steps[0].ID
	}
	return ""
}
