package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/llm"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/observability"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/tools"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/typeutil"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/workflow"
)

var tracer = otel.Tracer("zoe/agents")

// ErrNoTool is returned for an executor step that names no tool.
var ErrNoTool = errors.New("executor step has no tool")

// Request is one step invocation. Inputs are already resolved.
type Request struct {
	WorkflowID string
	Goal       envelope.Goal
	Step       *workflow.Step
	Inputs     map[string]any
	Sink       envelope.EventSink
}

func (r Request) emit(t envelope.EventType, data map[string]any) {
	if r.Sink == nil {
		return
	}
	ev := envelope.NewEvent(t, data)
	ev.WorkflowID = r.WorkflowID
	if r.Step != nil {
		ev.StepID = r.Step.ID
	}
	r.Sink.Emit(ev)
}

// Runner executes steps. Tool-bearing steps call the tool backend; the
// remaining roles are handled in process or through the model.
type Runner struct {
	tools           tools.Executor
	model           llm.ModelClient
	logger          logging.Logger
	generateTimeout time.Duration
}

// NewRunner creates a Runner. model may be nil, in which case planner
// steps report the clause as unresolved.
func NewRunner(te tools.Executor, model llm.ModelClient, cfg *config.CoreConfig, logger logging.Logger) *Runner {
	if cfg == nil {
		cfg = config.GetCoreConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{tools: te, model: model, logger: logger, generateTimeout: cfg.GenerateTimeout()}
}

// Run executes a step and returns its result. Failures are returned as
// *envelope.StepExecutionError.
func (r *Runner) Run(ctx context.Context, req Request) (result map[string]any, err error) {
	step := req.Step
	ctx, span := tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("zoe.step.id", step.ID),
		attribute.String("zoe.step.role", string(step.Role)),
		attribute.String("zoe.step.tool", step.Tool),
	))
	defer span.End()

	start := time.Now()
	log := r.logger.Bind("step_id", step.ID, "role", string(step.Role))
	defer func() {
		ms := int(time.Since(start).Milliseconds())
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, string(envelope.KindOf(err)))
			log.Warn("agent_step_failed", "error", err.Error(), "duration_ms", ms)
		} else {
			span.SetStatus(codes.Ok, "success")
			log.Debug("agent_step_completed", "duration_ms", ms)
		}
		observability.RecordStepExecution(string(step.Role), status, ms)
	}()

	switch {
	case step.Tool != "":
		return r.callTool(ctx, req, step.Tool, req.Inputs)
	case step.Role == workflow.RoleExecutor:
		return nil, StepError(step.ID, "", ErrNoTool)
	case step.Role == workflow.RolePlanner:
		return r.plan(ctx, req)
	case step.Role == workflow.RoleValidator:
		return validate(req)
	case step.Role == workflow.RoleCoordinator:
		return aggregate(req), nil
	default:
		return answer(req), nil
	}
}

// Rollback invokes a compensating tool with the original inputs overlaid by
// the step's result.
func (r *Runner) Rollback(ctx context.Context, req Request, tool string) error {
	params := make(map[string]any, len(req.Inputs))
	for k, v := range req.Inputs {
		params[k] = v
	}
	for k, v := range req.Step.Result() {
		params[k] = v
	}
	_, err := r.callTool(ctx, req, tool, params)
	return err
}

func (r *Runner) callTool(ctx context.Context, req Request, tool string, params map[string]any) (map[string]any, error) {
	if r.tools == nil || !r.tools.Has(tool) {
		err := fmt.Errorf("%w: %s", tools.ErrToolNotFound, tool)
		req.emit(envelope.EventToolResult, NewToolResult(tool, nil, err).ToMap())
		return nil, StepError(req.Step.ID, tool, err)
	}
	req.emit(envelope.EventToolCall, map[string]any{"tool": tool, "params": params})
	out, err := r.tools.Execute(ctx, tool, params)
	req.emit(envelope.EventToolResult, NewToolResult(tool, out, err).ToMap())
	if err != nil {
		return nil, StepError(req.Step.ID, tool, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// plan asks the model to work out a clause no deterministic tier resolved.
func (r *Runner) plan(ctx context.Context, req Request) (map[string]any, error) {
	clause := req.Step.Clause
	req.emit(envelope.EventThinking, map[string]any{"text": "Working out: " + clause})
	if r.model == nil {
		return map[string]any{"clause": clause, "unresolved": true}, nil
	}

	var b strings.Builder
	b.WriteString("Handle this part of the user's request in one or two sentences.\n")
	if prev, ok := typeutil.Map(req.Inputs["previous"]); ok {
		fmt.Fprintf(&b, "Result of the previous step: %v\n", prev)
	}
	fmt.Fprintf(&b, "Request: %s", clause)

	gctx, cancel := context.WithTimeout(ctx, r.generateTimeout)
	defer cancel()
	text, err := r.model.Generate(gctx, b.String(), llm.GenerateOptions{Temperature: 0.2, MaxTokens: 200})
	if err != nil {
		return nil, StepError(req.Step.ID, "", err)
	}
	return map[string]any{"clause": clause, "text": strings.TrimSpace(text)}, nil
}

func validate(req Request) (map[string]any, error) {
	action, ok := typeutil.Map(req.Inputs["action"])
	if !ok || len(action) == 0 {
		return nil, StepError(req.Step.ID, "", errors.New("validation: action produced no result"))
	}
	if _, failed := action["error"]; failed {
		return nil, StepError(req.Step.ID, "", errors.New("validation: action reported an error"))
	}
	return map[string]any{"valid": true, "checked": req.Step.Intent}, nil
}

func aggregate(req Request) map[string]any {
	keys := make([]string, 0, len(req.Inputs))
	for k := range req.Inputs {
		if k != "text" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	merged := make(map[string]any, len(keys))
	for _, k := range keys {
		merged[k] = req.Inputs[k]
	}
	return map[string]any{"aggregated": merged, "sources": keys}
}

// answer handles tool-less specialists: conversation, greetings and
// memory recall, which draw on the retrieved episodes.
func answer(req Request) map[string]any {
	episodes := make([]any, 0, len(req.Goal.Episodes))
	for _, ep := range req.Goal.Episodes {
		episodes = append(episodes, ep.Text)
	}
	out := map[string]any{"intent": req.Step.Intent, "clause": req.Step.Clause}
	if len(episodes) > 0 {
		out["episodes"] = episodes
	}
	return out
}
