// Package runtime executes planned workflows and drives a request through
// the pipeline under its latency budget.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/agents"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/observability"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/workflow"
)

var tracer = otel.Tracer("zoe/runtime")

// StepRunner executes one step and its compensation.
type StepRunner interface {
	Run(ctx context.Context, req agents.Request) (map[string]any, error)
	Rollback(ctx context.Context, req agents.Request, tool string) error
}

// DAGExecutor runs workflow steps as their dependencies complete.
//
// A single coordinator goroutine owns all scheduling decisions: it keeps an
// in-degree counter per step and a ready queue, starts at most maxParallel
// steps at once and reacts to results arriving on one channel. Step
// goroutines never touch scheduling state.
type DAGExecutor struct {
	runner      StepRunner
	logger      logging.Logger
	maxParallel int
	stepTimeout time.Duration
	rollback    bool
}

// NewDAGExecutor creates an executor. A nil cfg uses the global config.
func NewDAGExecutor(runner StepRunner, cfg *config.CoreConfig, logger logging.Logger) *DAGExecutor {
	if cfg == nil {
		cfg = config.GetCoreConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &DAGExecutor{
		runner:      runner,
		logger:      logger.Bind("executor", "dag"),
		maxParallel: cfg.MaxParallel,
		stepTimeout: cfg.StepTimeout(),
		rollback:    cfg.RollbackOnFailure,
	}
}

// SetMaxParallel overrides the concurrency bound. Zero means unbounded.
func (d *DAGExecutor) SetMaxParallel(n int) {
	d.maxParallel = n
}

type stepOutcome struct {
	id     string
	result map[string]any
	err    error
}

// dagRun is the coordinator state of one Execute call.
type dagRun struct {
	d        *DAGExecutor
	wf       *workflow.Workflow
	sink     envelope.EventSink
	inDegree map[string]int
	children map[string][]string
	inputs   map[string]map[string]any
	ready    []string
	results  chan stepOutcome
	running  int
	pending  int
}

// Execute runs wf to a terminal state and returns it. Events are emitted to
// sink from the coordinator and from step goroutines, so sink must be safe
// for concurrent use.
func (d *DAGExecutor) Execute(ctx context.Context, wf *workflow.Workflow, sink envelope.EventSink) workflow.State {
	if sink == nil {
		sink = envelope.DiscardSink
	}
	ctx, span := tracer.Start(ctx, "dag.execute", trace.WithAttributes(
		attribute.String("zoe.workflow.id", wf.ID),
		attribute.Int("zoe.workflow.steps", len(wf.Steps())),
	))
	defer span.End()

	start := time.Now()
	log := d.logger.Bind("workflow_id", wf.ID)
	if err := wf.Transition(workflow.StateExecuting); err != nil {
		log.Warn("dag_execution_rejected", "error", err.Error(), "state", string(wf.State()))
		return wf.State()
	}
	log.Info("dag_execution_started",
		"step_count", len(wf.Steps()),
		"critical_path_length", wf.CriticalPathLength,
		"max_parallel", d.maxParallel,
	)
	if wf.Orchestrated {
		emit(sink, wf, "", envelope.EventThinking, map[string]any{
			"text": fmt.Sprintf("Working through %d steps", len(wf.Steps())),
		})
	}

	run := d.newRun(wf, sink)
	cancelled := run.loop(ctx) || ctx.Err() != nil

	final := workflow.StateCompleted
	switch {
	case cancelled:
		final = workflow.StateCancelled
	case wf.RequiredFailed():
		final = workflow.StateFailed
		if d.rollback {
			run.rollbackFailed(ctx)
		}
	}
	if err := wf.Transition(final); err != nil {
		log.Error("dag_transition_failed", "error", err.Error(), "to", string(final))
	}

	ms := int(time.Since(start).Milliseconds())
	observability.RecordWorkflowExecution(string(final), ms)
	span.SetAttributes(attribute.String("zoe.workflow.state", string(final)))
	log.Info("dag_execution_completed",
		"state", string(final),
		"duration_ms", ms,
		"statuses", wf.StatusCounts(),
		"rolled_back", len(wf.RolledBack()),
	)
	return wf.State()
}

// ExecuteStreaming runs Execute in a goroutine. The events channel must be
// drained; it closes before the final state is sent.
func (d *DAGExecutor) ExecuteStreaming(ctx context.Context, wf *workflow.Workflow) (<-chan envelope.Event, <-chan workflow.State) {
	events := make(chan envelope.Event, 64)
	states := make(chan workflow.State, 1)
	go func() {
		state := d.Execute(ctx, wf, envelope.SinkFunc(func(ev envelope.Event) { events <- ev }))
		close(events)
		states <- state
		close(states)
	}()
	return events, states
}

func (d *DAGExecutor) newRun(wf *workflow.Workflow, sink envelope.EventSink) *dagRun {
	steps := wf.Steps()
	r := &dagRun{
		d:        d,
		wf:       wf,
		sink:     sink,
		inDegree: make(map[string]int, len(steps)),
		children: make(map[string][]string, len(steps)),
		inputs:   make(map[string]map[string]any, len(steps)),
		results:  make(chan stepOutcome, len(steps)),
		pending:  len(steps),
	}
	for _, s := range steps {
		r.inDegree[s.ID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			r.children[dep] = append(r.children[dep], s.ID)
		}
	}
	for _, s := range steps {
		if r.inDegree[s.ID] == 0 {
			r.enqueue(s.ID)
		}
	}
	return r
}

func (r *dagRun) enqueue(id string) {
	if err := r.wf.MarkReady(id); err != nil {
		r.d.logger.Error("dag_step_not_ready", "step_id", id, "error", err.Error())
		return
	}
	r.ready = append(r.ready, id)
}

// loop schedules until every step is terminal. It reports whether ctx was
// cancelled first.
func (r *dagRun) loop(ctx context.Context) bool {
	done := ctx.Done()
	cancelled := false
	for r.pending > 0 {
		// Nothing is dispatched once ctx is done, including before the first step.
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			done = nil
		}
		for !cancelled && len(r.ready) > 0 && (r.d.maxParallel <= 0 || r.running < r.d.maxParallel) {
			id := r.ready[0]
			r.ready = r.ready[1:]
			r.dispatch(ctx, id)
		}
		if r.running == 0 {
			break
		}
		select {
		case out := <-r.results:
			r.running--
			r.handle(out)
		case <-done:
			cancelled = true
			done = nil
			r.d.logger.Info("dag_execution_cancelled", "workflow_id", r.wf.ID, "running", r.running)
		}
	}
	reason := "cancelled"
	if !cancelled {
		reason = "unreachable"
	}
	for _, s := range r.wf.Steps() {
		if st := s.Status(); st == workflow.StepPending || st == workflow.StepReady {
			r.skip(s.ID, reason)
		}
	}
	return cancelled
}

func (r *dagRun) dispatch(ctx context.Context, id string) {
	step, _ := r.wf.Step(id)
	if err := r.wf.MarkRunning(id); err != nil {
		r.fail(id, err)
		return
	}
	inputs, err := r.wf.ResolveInputs(id)
	if err != nil {
		r.fail(id, err)
		return
	}
	r.inputs[id] = inputs
	r.running++
	emit(r.sink, r.wf, id, envelope.EventStepStart, map[string]any{
		"role":   string(step.Role),
		"tool":   step.Tool,
		"intent": step.Intent,
		"clause": step.Clause,
	})
	r.d.logger.Debug("dag_step_started", "workflow_id", r.wf.ID, "step_id", id, "role", string(step.Role))

	req := agents.Request{WorkflowID: r.wf.ID, Goal: r.wf.Goal, Step: step, Inputs: inputs, Sink: r.sink}
	go func() {
		stepCtx, cancel := context.WithTimeout(ctx, r.d.stepTimeout)
		defer cancel()
		res, err := kernel.SafeExecuteWithResult(r.d.logger, "step "+id, func() (map[string]any, error) {
			return r.d.runner.Run(stepCtx, req)
		})
		var panicErr *kernel.PanicError
		if errors.As(err, &panicErr) {
			err = agents.StepError(id, step.Tool, err)
		}
		r.results <- stepOutcome{id: id, result: res, err: err}
	}()
}

func (r *dagRun) handle(out stepOutcome) {
	if out.err != nil {
		r.fail(out.id, out.err)
		return
	}
	r.pending--
	if err := r.wf.Complete(out.id, out.result); err != nil {
		r.d.logger.Error("dag_step_complete_rejected", "step_id", out.id, "error", err.Error())
		return
	}
	step, _ := r.wf.Step(out.id)
	emit(r.sink, r.wf, out.id, envelope.EventStepComplete, map[string]any{
		"status":      string(workflow.StepCompleted),
		"duration_ms": step.Duration().Milliseconds(),
		"result":      out.result,
	})
	for _, child := range r.children[out.id] {
		r.inDegree[child]--
		if r.inDegree[child] == 0 {
			if c, _ := r.wf.Step(child); c.Status() == workflow.StepPending {
				r.enqueue(child)
			}
		}
	}
}

// fail records a failed step and cascades skips to its transitive
// dependents. Independent branches keep running.
func (r *dagRun) fail(id string, cause error) {
	if err := r.wf.Fail(id, cause); err != nil {
		r.d.logger.Error("dag_step_fail_rejected", "step_id", id, "error", err.Error())
	}
	r.pending--
	step, _ := r.wf.Step(id)
	kind := envelope.KindOf(cause)
	if kind == "" {
		kind = envelope.KindStepExecutionError
	}
	r.d.logger.Warn("dag_step_failed",
		"workflow_id", r.wf.ID,
		"step_id", id,
		"optional", step.Optional,
		"error", cause.Error(),
	)
	emit(r.sink, r.wf, id, envelope.EventStepComplete, map[string]any{
		"status":     string(workflow.StepFailed),
		"error_kind": string(kind),
		"optional":   step.Optional,
	})
	for _, dep := range r.wf.Dependents(id) {
		if s, _ := r.wf.Step(dep); !s.Status().IsTerminal() && s.Status() != workflow.StepRunning {
			r.skip(dep, "dependency "+id+" failed")
		}
	}
}

func (r *dagRun) skip(id, reason string) {
	if err := r.wf.Skip(id, reason); err != nil {
		return
	}
	r.pending--
	for i, rid := range r.ready {
		if rid == id {
			r.ready = append(r.ready[:i], r.ready[i+1:]...)
			break
		}
	}
	emit(r.sink, r.wf, id, envelope.EventStepComplete, map[string]any{
		"status": string(workflow.StepSkipped),
		"reason": reason,
	})
}

// rollbackFailed compensates completed side-effect ancestors of each failed
// required step, best effort and each under its own deadline.
func (r *dagRun) rollbackFailed(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	done := make(map[string]bool)
	for _, s := range r.wf.Steps() {
		if s.Optional || s.Status() != workflow.StepFailed {
			continue
		}
		for _, aid := range r.wf.Ancestors(s.ID) {
			a, _ := r.wf.Step(aid)
			if done[aid] || !a.SideEffect || a.RollbackRef == "" || a.Status() != workflow.StepCompleted {
				continue
			}
			done[aid] = true
			req := agents.Request{WorkflowID: r.wf.ID, Goal: r.wf.Goal, Step: a, Inputs: r.inputs[aid], Sink: r.sink}
			rctx, cancel := context.WithTimeout(base, r.d.stepTimeout)
			err := kernel.SafeExecute(r.d.logger, "rollback "+aid, func() error {
				return r.d.runner.Rollback(rctx, req, a.RollbackRef)
			})
			cancel()
			if err != nil {
				r.d.logger.Warn("dag_rollback_failed", "workflow_id", r.wf.ID, "step_id", aid, "tool", a.RollbackRef, "error", err.Error())
				continue
			}
			r.wf.RecordRollback(aid)
			r.d.logger.Info("dag_step_rolled_back", "workflow_id", r.wf.ID, "step_id", aid, "tool", a.RollbackRef)
		}
	}
}

func emit(sink envelope.EventSink, wf *workflow.Workflow, stepID string, t envelope.EventType, data map[string]any) {
	ev := envelope.NewEvent(t, data)
	ev.WorkflowID = wf.ID
	ev.StepID = stepID
	sink.Emit(ev)
}
