package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/commbus"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/contextgate"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/intent"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/llm"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/memory"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/observability"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/planner"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/satisfaction"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/workflow"
)

// Pipeline errors surfaced to transports.
var (
	ErrEmptyMessage    = errors.New("message is required")
	ErrInvalidFeedback = errors.New("feedback_type must be approve, reject or modify")
	ErrMissingSession  = errors.New("session_id or interaction_id is required")
)

// ChatRequest is one utterance with its conversational context.
type ChatRequest struct {
	Message        string             `json:"message"`
	UserID         string             `json:"user_id"`
	SessionID      string             `json:"session_id"`
	RecentEpisodes []envelope.Episode `json:"recent_episodes,omitempty"`
}

// FeedbackRequest answers a delivered response or a pending confirmation.
type FeedbackRequest struct {
	SessionID     string                `json:"session_id"`
	InteractionID string                `json:"interaction_id,omitempty"`
	Type          envelope.FeedbackType `json:"feedback_type"`
	StepID        string                `json:"step_id,omitempty"`
	Correction    map[string]any        `json:"correction,omitempty"`
}

// Components are the collaborators of a Pipeline. Tracker, Bus and Model
// are optional.
type Components struct {
	Classifier *intent.Classifier
	Validator  *contextgate.Validator
	Retriever  *memory.Retriever
	Planner    *planner.Planner
	Executor   *DAGExecutor
	Kernel     *kernel.Kernel
	Tracker    *satisfaction.Tracker
	Bus        commbus.CommBus
	Model      llm.ModelClient
}

// Pipeline drives one utterance from classification to the final response.
type Pipeline struct {
	Components
	cfg         *config.CoreConfig
	logger      logging.Logger
	supervisor  *Supervisor
	synthesizer *Synthesizer
}

// NewPipeline validates the components and builds a pipeline.
func NewPipeline(c Components, cfg *config.CoreConfig, logger logging.Logger) (*Pipeline, error) {
	switch {
	case c.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case c.Validator == nil:
		return nil, errors.New("pipeline: validator is required")
	case c.Retriever == nil:
		return nil, errors.New("pipeline: retriever is required")
	case c.Planner == nil:
		return nil, errors.New("pipeline: planner is required")
	case c.Executor == nil:
		return nil, errors.New("pipeline: executor is required")
	case c.Kernel == nil:
		return nil, errors.New("pipeline: kernel is required")
	}
	if cfg == nil {
		cfg = config.GetCoreConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Bind("component", "pipeline")
	return &Pipeline{
		Components:  c,
		cfg:         cfg,
		logger:      logger,
		supervisor:  NewSupervisor(cfg.OuterTimeout(), logger),
		synthesizer: NewSynthesizer(c.Model, cfg.GenerateTimeout(), logger),
	}, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() *config.CoreConfig { return p.cfg }

// RegisterHealth registers the pipeline probe with the kernel.
func (p *Pipeline) RegisterHealth() {
	p.Kernel.RegisterHealthProbe("pipeline", func(context.Context) commbus.HealthCheckResponse {
		return commbus.HealthCheckResponse{
			Component: "pipeline",
			Status:    commbus.HealthStatusHealthy,
			Details: map[string]any{
				"intents":          len(p.Classifier.Catalog().Labels()),
				"outer_timeout_ms": p.cfg.OuterTimeoutMS,
				"max_parallel":     p.cfg.MaxParallel,
			},
		}
	})
}

// requestState is what the body has produced so far. The supervisor reads
// it when the outer deadline fires.
type requestState struct {
	mu  sync.Mutex
	env *envelope.Envelope
	wf  *workflow.Workflow
}

func (s *requestState) setWorkflow(wf *workflow.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wf = wf
}

func (s *requestState) workflow() *workflow.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wf
}

func (s *requestState) update(fn func(env *envelope.Envelope)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.env)
}

func (s *requestState) snapshot() *envelope.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env.Clone()
}

// flushGrace is how long past the outer deadline Handle waits for a slow
// sink to take the final events.
const flushGrace = 100 * time.Millisecond

// gatedSink stamps the interaction id and queues events for a writer
// goroutine, so the pipeline never waits on the caller's sink. Once closed
// it drops body events; a body still running after the outer deadline
// cannot write to the stream.
type gatedSink struct {
	sink          envelope.EventSink
	interactionID string
	wake          chan struct{}
	drained       chan struct{}

	mu        sync.Mutex
	queue     []envelope.Event
	closed    bool
	done      bool
	abandoned bool
}

func newGatedSink(sink envelope.EventSink, interactionID string) *gatedSink {
	if sink == nil {
		sink = envelope.DiscardSink
	}
	g := &gatedSink{
		sink:          sink,
		interactionID: interactionID,
		wake:          make(chan struct{}, 1),
		drained:       make(chan struct{}),
	}
	go g.write()
	return g
}

func (g *gatedSink) Emit(ev envelope.Event) {
	g.enqueue(ev, false)
}

func (g *gatedSink) enqueue(ev envelope.Event, final bool) {
	g.mu.Lock()
	if g.done || (g.closed && !final) {
		g.mu.Unlock()
		return
	}
	ev.InteractionID = g.interactionID
	g.queue = append(g.queue, ev)
	g.mu.Unlock()
	g.signal()
}

func (g *gatedSink) signal() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *gatedSink) write() {
	defer close(g.drained)
	for {
		g.mu.Lock()
		if g.abandoned || (g.done && len(g.queue) == 0) {
			g.mu.Unlock()
			return
		}
		if len(g.queue) == 0 {
			g.mu.Unlock()
			<-g.wake
			continue
		}
		ev := g.queue[0]
		g.queue = g.queue[1:]
		g.mu.Unlock()
		g.sink.Emit(ev)
	}
}

// close stops accepting body events; final events go through emitFinal.
func (g *gatedSink) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *gatedSink) emitFinal(ev envelope.Event) {
	g.enqueue(ev, true)
}

// flush ends the stream and waits until the writer has delivered the queue
// or deadline passes. Past the deadline undelivered events are dropped and
// flush reports false; a sink call already in progress is left to finish.
func (g *gatedSink) flush(deadline time.Time) bool {
	g.mu.Lock()
	g.closed, g.done = true, true
	g.mu.Unlock()
	g.signal()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-g.drained:
		return true
	case <-timer.C:
		g.mu.Lock()
		g.abandoned = true
		g.queue = nil
		g.mu.Unlock()
		return false
	}
}

// Handle processes one utterance. Events stream to sink; the returned
// response is always produced within the outer deadline. The only error
// is input validation.
func (p *Pipeline) Handle(ctx context.Context, req ChatRequest, sink envelope.EventSink) (Response, error) {
	utt := envelope.NewUtterance(req.Message, req.UserID, req.SessionID)
	if utt.Text == "" {
		return Response{}, ErrEmptyMessage
	}
	start := time.Now()
	env := envelope.New(utt, req.RecentEpisodes)

	ctx, span := tracer.Start(ctx, "pipeline.handle")
	defer span.End()
	span.SetAttributes(attribute.String("interaction.id", env.InteractionID))

	log := p.logger.Bind("interaction_id", env.InteractionID, "session_id", utt.SessionID)
	log.Info("pipeline_started", "user_id", utt.UserID)

	st := &requestState{env: env}
	gate := newGatedSink(sink, env.InteractionID)

	resp := p.supervisor.Run(ctx,
		func(ctx context.Context) Response { return p.run(ctx, st, gate, log) },
		func() Response { return p.partial(st) },
	)
	gate.close()

	resp.InteractionID = env.InteractionID
	resp.Latency = time.Since(start)
	if !p.finish(gate, resp, start) {
		log.Warn("pipeline_sink_too_slow", "outcome", string(resp.Outcome))
	}

	final := st.snapshot()
	path := "fast"
	if wf := st.workflow(); wf != nil && wf.Orchestrated {
		path = "orchestrated"
	}
	observability.RecordPipelineRequest(path, string(resp.Outcome), int(resp.Latency.Milliseconds()))
	span.SetAttributes(
		attribute.String("pipeline.outcome", string(resp.Outcome)),
		attribute.String("pipeline.path", path),
	)
	if resp.TimedOut {
		span.SetStatus(codes.Error, "outer timeout")
	}
	log.Info("pipeline_completed",
		"outcome", string(resp.Outcome),
		"intent", resp.Intent,
		"path", path,
		"latency_ms", resp.Latency.Milliseconds(),
		"timed_out", resp.TimedOut,
	)

	p.afterResponse(final, st.workflow(), resp)
	return resp, nil
}

// run is the supervised body of Handle.
func (p *Pipeline) run(ctx context.Context, st *requestState, sink *gatedSink, log logging.Logger) Response {
	env := st.snapshot()
	utt := env.Utterance

	// Classification.
	res := p.Classifier.Classify(ctx, utt, env.RecentEpisodes)
	st.update(func(e *envelope.Envelope) {
		e.Classification = &res
		if res.ErrorKind != "" {
			e.RecordError(res.ErrorKind)
		}
	})
	sink.Emit(envelope.NewEvent(envelope.EventClassificationResult, ClassificationData(res)))

	// Context gate and retrieval.
	decision := p.Validator.Decide(res, utt)
	var episodes []envelope.Episode
	memDegraded := false
	if decision.Fetch {
		found := p.Retriever.Search(ctx, utt.Text, utt.UserID, p.cfg.MemorySearchLimit)
		merged := append(append([]envelope.Episode(nil), found.Episodes...), env.RecentEpisodes...)
		episodes = memory.Normalize(merged, p.cfg.MemorySearchLimit)
		memDegraded = found.Degraded
		if found.Degraded {
			log.Warn("pipeline_memory_degraded", "reason", found.Reason)
		}
		st.update(func(e *envelope.Envelope) {
			e.Episodes = episodes
			e.MemoryDegraded = found.Degraded
			if found.Degraded {
				kind := envelope.KindOf(found.Err)
				if kind == "" {
					kind = envelope.KindMemoryTimeout
				}
				e.RecordError(kind)
			}
		})
	}
	st.update(func(e *envelope.Envelope) { e.Context = &decision })
	sink.Emit(envelope.NewEvent(envelope.EventContextDecision, map[string]any{
		"fetch":    decision.Fetch,
		"reason":   decision.Reason,
		"episodes": len(episodes),
		"degraded": memDegraded,
	}))
	p.publish(&commbus.ContextDecided{
		InteractionID: env.InteractionID,
		Fetch:         decision.Fetch,
		Reason:        decision.Reason,
		Episodes:      len(episodes),
		Degraded:      memDegraded,
	})

	// Planning.
	goal := st.snapshot().Goal()
	wf, err := p.Planner.Plan(ctx, goal)
	if err != nil {
		kind := envelope.KindOf(err)
		st.update(func(e *envelope.Envelope) { e.RecordError(kind) })
		text := fallbackReply(goal)
		sink.Emit(envelope.NewEvent(envelope.EventContentDelta, map[string]any{"text": text}))
		return Response{
			Intent:    res.Intent,
			Text:      text,
			Outcome:   envelope.OutcomeDegraded,
			ErrorKind: kind,
		}
	}
	st.setWorkflow(wf)
	sink.Emit(envelope.NewEvent(envelope.EventWorkflowPlan, PlanData(wf)))

	gated := p.cfg.RequireApprovalForSideEffects && wf.Orchestrated && wf.HasSideEffects()
	p.publish(&commbus.WorkflowPlanned{
		InteractionID:  env.InteractionID,
		WorkflowID:     wf.ID,
		Orchestrated:   wf.Orchestrated,
		Steps:          len(wf.Steps()),
		CriticalPath:   wf.CriticalPath,
		RequiresReview: gated,
	})

	if gated {
		return p.requestConfirmation(st, wf, sink, log)
	}

	return p.executeAndSynthesize(ctx, env.InteractionID, goal, wf, sink, st.snapshot().Errors)
}

// requestConfirmation parks the workflow behind a confirmation interrupt.
func (p *Pipeline) requestConfirmation(st *requestState, wf *workflow.Workflow, sink *gatedSink, log logging.Logger) Response {
	env := st.snapshot()
	prompt := ConfirmationPrompt(wf)
	steps := make([]any, 0, len(wf.Steps()))
	for _, s := range wf.Steps() {
		if s.SideEffect {
			steps = append(steps, s.ID)
		}
	}
	irq := p.Kernel.Interrupts().CreateConfirmation(kernel.InterruptRequest{
		InteractionID: env.InteractionID,
		WorkflowID:    wf.ID,
		UserID:        env.Utterance.UserID,
		SessionID:     env.Utterance.SessionID,
		Message:       prompt,
		Data:          map[string]any{"steps": steps},
	})
	sink.Emit(envelope.Event{
		Type:       envelope.EventConfirmationRequired,
		WorkflowID: wf.ID,
		Data: map[string]any{
			"interrupt_id": irq.ID,
			"message":      prompt,
			"steps":        steps,
		},
		Timestamp: time.Now().UTC(),
	})
	sink.Emit(envelope.NewEvent(envelope.EventContentDelta, map[string]any{"text": prompt}))
	log.Info("workflow_awaiting_confirmation", "workflow_id", wf.ID, "interrupt_id", irq.ID)

	return Response{
		WorkflowID:  wf.ID,
		Intent:      wf.Goal.Classification.Intent,
		Text:        prompt,
		Outcome:     envelope.OutcomePending,
		InterruptID: irq.ID,
	}
}

// executeAndSynthesize runs the workflow and composes the reply.
func (p *Pipeline) executeAndSynthesize(ctx context.Context, interactionID string, goal envelope.Goal, wf *workflow.Workflow, sink *gatedSink, prior []envelope.ErrorKind) Response {
	state := p.Executor.Execute(ctx, wf, sink)
	p.publish(&commbus.WorkflowFinished{
		InteractionID: interactionID,
		WorkflowID:    wf.ID,
		State:         string(state),
		DurationMS:    wf.Duration().Milliseconds(),
		StepStatus:    wf.StatusCounts(),
		RolledBack:    wf.RolledBack(),
	})

	var text string
	for _, part := range p.synthesizer.Compose(ctx, goal, wf) {
		sink.Emit(envelope.NewEvent(envelope.EventContentDelta, map[string]any{"text": part}))
		if text != "" {
			text += " "
		}
		text += part
	}

	outcome, kind := workflowOutcome(wf, state)
	if outcome == envelope.OutcomeSuccess && len(prior) > 0 {
		outcome, kind = envelope.OutcomeDegraded, prior[0]
	}
	return Response{
		WorkflowID: wf.ID,
		Intent:     goal.Classification.Intent,
		Text:       text,
		Outcome:    outcome,
		ErrorKind:  kind,
	}
}

// workflowOutcome maps a terminal workflow onto the outcome flag.
func workflowOutcome(wf *workflow.Workflow, state workflow.State) (envelope.Outcome, envelope.ErrorKind) {
	counts := wf.StatusCounts()
	completed := counts[string(workflow.StepCompleted)]
	failed := counts[string(workflow.StepFailed)]
	switch state {
	case workflow.StateCompleted:
		if failed > 0 {
			return envelope.OutcomePartial, envelope.KindStepExecutionError
		}
		return envelope.OutcomeSuccess, ""
	case workflow.StateFailed:
		if completed > 0 {
			return envelope.OutcomePartial, envelope.KindStepExecutionError
		}
		return envelope.OutcomeFailed, envelope.KindStepExecutionError
	default:
		return envelope.OutcomeTimeout, envelope.KindOuterTimeout
	}
}

// partial builds the response from the state gathered before the deadline.
func (p *Pipeline) partial(st *requestState) Response {
	st.mu.Lock()
	wf := st.wf
	intentName := ""
	if st.env.Classification != nil {
		intentName = st.env.Classification.Intent
	}
	st.mu.Unlock()

	resp := Response{Intent: intentName, Text: PartialReply(wf)}
	if wf != nil {
		resp.WorkflowID = wf.ID
	}
	return resp
}

// finish emits the closing events of a stream and flushes it. It gives up
// on the sink flushGrace after the outer deadline measured from start and
// reports whether everything was delivered.
func (p *Pipeline) finish(gate *gatedSink, resp Response, start time.Time) bool {
	data := map[string]any{
		"text":       resp.Text,
		"outcome":    string(resp.Outcome),
		"intent":     resp.Intent,
		"latency_ms": resp.Latency.Milliseconds(),
	}
	if resp.ErrorKind != "" {
		data["error_kind"] = string(resp.ErrorKind)
	}
	if resp.InterruptID != "" {
		data["interrupt_id"] = resp.InterruptID
	}
	if resp.TimedOut {
		data["timed_out"] = true
	}
	gate.emitFinal(envelope.Event{
		Type:       envelope.EventFinalResponse,
		WorkflowID: resp.WorkflowID,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	})
	gate.emitFinal(envelope.NewEvent(envelope.EventSessionEnd, map[string]any{
		"outcome":    string(resp.Outcome),
		"latency_ms": resp.Latency.Milliseconds(),
	}))
	return gate.flush(start.Add(p.supervisor.Budget() + flushGrace))
}

// afterResponse retains the session and hands outcome recording, episode
// capture and telemetry to background work.
func (p *Pipeline) afterResponse(env *envelope.Envelope, wf *workflow.Workflow, resp Response) {
	sess := &kernel.Session{
		InteractionID: env.InteractionID,
		SessionID:     env.Utterance.SessionID,
		UserID:        env.Utterance.UserID,
		Utterance:     env.Utterance,
		Workflow:      wf,
		InterruptID:   resp.InterruptID,
		Outcome:       resp.Outcome,
		Latency:       resp.Latency,
	}
	if env.Classification != nil {
		sess.Classification = *env.Classification
	}
	p.Kernel.Sessions().Put(sess)
	p.track(sess)

	errs := make([]string, 0, len(env.Errors))
	for _, k := range env.Errors {
		errs = append(errs, string(k))
	}
	if resp.ErrorKind != "" && !containsKind(env.Errors, resp.ErrorKind) {
		errs = append(errs, string(resp.ErrorKind))
	}

	capture := p.cfg.CaptureEpisodes && !resp.TimedOut && sess.Classification.Intent != "memory.recall"
	kernel.SafeGo(p.logger, "post response", func() {
		if capture {
			ep := envelope.NewEpisode(env.Utterance.UserID, env.Utterance.Text, env.Utterance.ReceivedAt)
			if err := p.Retriever.Insert(context.Background(), ep); err != nil {
				p.logger.Warn("episode_capture_failed", "interaction_id", env.InteractionID, "error", err.Error())
			}
		}
		p.publish(&commbus.InteractionCompleted{
			InteractionID: env.InteractionID,
			UserID:        env.Utterance.UserID,
			SessionID:     env.Utterance.SessionID,
			Outcome:       string(resp.Outcome),
			LatencyMS:     resp.Latency.Milliseconds(),
			Errors:        errs,
		})
	}, nil)
}

func (p *Pipeline) track(sess *kernel.Session) {
	if p.Tracker == nil {
		return
	}
	p.Tracker.Track(recordFor(sess))
}

func recordFor(sess *kernel.Session) satisfaction.Record {
	rec := satisfaction.Record{
		InteractionID: sess.InteractionID,
		UserID:        sess.UserID,
		SessionID:     sess.SessionID,
		Tier:          sess.Classification.Tier,
		Intent:        sess.Classification.Intent,
		Latency:       sess.Latency,
		Outcome:       sess.Outcome,
		Feedback:      sess.Feedback,
	}
	switch {
	case sess.Workflow != nil:
		rec.WorkflowID = sess.Workflow.ID
	case sess.View != nil:
		rec.WorkflowID = sess.View.ID
	}
	return rec
}

// publish sends a telemetry event without blocking the caller on
// subscribers.
func (p *Pipeline) publish(msg commbus.Message) {
	if p.Bus == nil {
		return
	}
	bus := p.Bus
	kernel.SafeGo(p.logger, "commbus publish", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := bus.Publish(ctx, msg); err != nil {
			p.logger.Debug("commbus_publish_failed", "message_type", commbus.GetMessageType(msg), "error", err.Error())
		}
	}, nil)
}

func containsKind(kinds []envelope.ErrorKind, k envelope.ErrorKind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

// ClassificationData is the wire form of a classification result.
func ClassificationData(res envelope.ClassificationResult) map[string]any {
	data := map[string]any{
		"tier":          int(res.Tier),
		"intent":        res.Intent,
		"confidence":    res.Confidence,
		"strategy":      res.Strategy,
		"latency_ms":    float64(res.Latency.Microseconds()) / 1000,
		"needs_context": res.NeedsContext,
	}
	if len(res.Slots) > 0 {
		slots := make(map[string]any, len(res.Slots))
		for k, v := range res.Slots {
			slots[k] = v
		}
		data["slots"] = slots
	}
	if res.Degraded {
		data["degraded"] = true
	}
	if res.ErrorKind != "" {
		data["error_kind"] = string(res.ErrorKind)
	}
	return data
}

// PlanData is the wire form of a compiled workflow.
func PlanData(wf *workflow.Workflow) map[string]any {
	steps := make([]any, 0, len(wf.Steps()))
	for _, s := range wf.Steps() {
		deps := make([]any, 0, len(s.DependsOn))
		for _, d := range s.DependsOn {
			deps = append(deps, d)
		}
		steps = append(steps, map[string]any{
			"id":          s.ID,
			"role":        string(s.Role),
			"intent":      s.Intent,
			"tool":        s.Tool,
			"clause":      s.Clause,
			"depends_on":  deps,
			"optional":    s.Optional,
			"side_effect": s.SideEffect,
		})
	}
	critical := make([]any, 0, len(wf.CriticalPath))
	for _, id := range wf.CriticalPath {
		critical = append(critical, id)
	}
	return map[string]any{
		"workflow_id":          wf.ID,
		"orchestrated":         wf.Orchestrated,
		"steps":                steps,
		"critical_path":        critical,
		"critical_path_length": wf.CriticalPathLength,
	}
}

// Stream runs Handle in the background and delivers its events on a
// channel. The response channel yields exactly one value after the events
// channel closes. Events are dropped once ctx ends.
func (p *Pipeline) Stream(ctx context.Context, req ChatRequest) (<-chan envelope.Event, <-chan Response, error) {
	if envelope.Normalize(req.Message) == "" {
		return nil, nil, ErrEmptyMessage
	}
	events := make(chan envelope.Event, 32)
	result := make(chan Response, 1)
	sink, release := envelope.Guard(envelope.SinkFunc(func(ev envelope.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}))
	kernel.SafeGo(p.logger, "pipeline stream", func() {
		resp, err := p.Handle(ctx, req, sink)
		if err != nil {
			resp = Response{Text: err.Error(), Outcome: envelope.OutcomeFailed}
		}
		result <- resp
		close(result)
		// A writer abandoned by Handle may still be sending.
		release()
		close(events)
	}, func(any) {
		result <- Response{Text: failureText, Outcome: envelope.OutcomeFailed}
		close(result)
		release()
		close(events)
	})
	return events, result, nil
}
