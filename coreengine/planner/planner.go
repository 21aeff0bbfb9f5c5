// Package planner turns a classified goal into a workflow DAG.
package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/intent"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/workflow"
)

var tracer = otel.Tracer("zoe/planner")

// Orchestration trigger reasons.
const (
	TriggerConnector  = "multi_step_connector"
	TriggerSubsystems = "multiple_subsystems"
	TriggerAggregate  = "aggregate_request"
)

var (
	connectorPattern = regexp.MustCompile(`\b(?:and then|after that|then|also)\b`)
	aggregatePattern = regexp.MustCompile(`\ball (?:of )?my (\w+)`)
	anaphoraPattern  = regexp.MustCompile(`\b(?:it|that|them|those)\b`)
	splitPattern     = regexp.MustCompile(`\s*(,|;|\band then\b|\bafter that\b|\bthen\b|\balso\b|\band\b)\s*`)

	genericAggregates = map[string]bool{"stuff": true, "things": true}
)

// ClauseClassifier classifies a clause with the deterministic tiers.
type ClauseClassifier interface {
	ClassifyClause(text string) (envelope.ClassificationResult, bool)
}

// Planner decides between the single-step fast path and a multi-step DAG.
type Planner struct {
	catalog *intent.Catalog
	clauses ClauseClassifier
	cfg     *config.CoreConfig
	logger  logging.Logger
}

// New creates a Planner. A nil cfg uses the global core config.
func New(catalog *intent.Catalog, clauses ClauseClassifier, cfg *config.CoreConfig, logger logging.Logger) *Planner {
	if cfg == nil {
		cfg = config.GetCoreConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Planner{catalog: catalog, clauses: clauses, cfg: cfg, logger: logger}
}

// NeedsOrchestration reports whether the goal needs more than one step and
// which heuristics fired.
func (p *Planner) NeedsOrchestration(goal envelope.Goal) (bool, []string) {
	text := envelope.Normalize(goal.Text())
	var reasons []string
	if connectorPattern.MatchString(text) {
		reasons = append(reasons, TriggerConnector)
	}
	if len(p.catalog.Subsystems(text)) >= 2 {
		reasons = append(reasons, TriggerSubsystems)
	}
	if len(p.aggregateTargets(text)) > 0 {
		reasons = append(reasons, TriggerAggregate)
	}
	return len(reasons) > 0, reasons
}

// Plan builds and compiles the workflow for a goal.
func (p *Planner) Plan(ctx context.Context, goal envelope.Goal) (*workflow.Workflow, error) {
	_, span := tracer.Start(ctx, "planner.plan")
	defer span.End()

	specs := p.singleStep(goal)
	orchestrate, reasons := p.NeedsOrchestration(goal)
	if orchestrate {
		if decomposed, clauses := p.Decompose(goal); len(decomposed) > 1 {
			specs = decomposed
			goal.Clauses = clauses
		}
	}

	wf, err := p.Compile(goal, specs)
	if err != nil {
		span.RecordError(err)
		p.logger.Warn("plan_rejected", "error", err.Error(), "steps", len(specs))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.Int("workflow.steps", len(specs)),
		attribute.Bool("workflow.orchestrated", wf.Orchestrated),
	)
	p.logger.Debug("plan_compiled",
		"workflow_id", wf.ID,
		"steps", len(specs),
		"orchestrated", wf.Orchestrated,
		"triggers", strings.Join(reasons, ","),
		"critical_path_length", wf.CriticalPathLength,
	)
	return wf, nil
}

// Decompose produces step specs for an orchestrated goal along with the
// clauses they were derived from. An "all my X" clause becomes a group of
// specialists fanned in by a coordinator that stands for the clause.
func (p *Planner) Decompose(goal envelope.Goal) ([]StepSpec, []string) {
	text := envelope.Normalize(goal.Text())
	var (
		specs   []StepSpec
		clauses []string
		prevID  string
	)
	for i, c := range p.splitClauses(text) {
		clauses = append(clauses, c.text)
		id := fmt.Sprintf("step_%d", i+1)
		linked := prevID != "" && (c.sequential || anaphoraPattern.MatchString(c.text))

		if targets := p.aggregateTargets(c.text); len(targets) > 0 {
			group := p.aggregate(id, c.text, targets)
			if linked {
				for j := range group[:len(group)-1] {
					group[j].DependsOn = append(group[j].DependsOn, prevID)
					group[j].Inputs["previous"] = workflow.Ref(prevID, "")
				}
			}
			specs = append(specs, group...)
			prevID = id
			continue
		}

		spec := p.clauseStep(id, c.text)
		if linked {
			spec.DependsOn = append(spec.DependsOn, prevID)
			spec.Inputs["previous"] = workflow.Ref(prevID, "")
		}
		specs = append(specs, spec)
		if spec.Role == workflow.RoleExecutor && p.cfg.ValidateSideEffects {
			specs = append(specs, StepSpec{
				ID:        id + "_check",
				Role:      workflow.RoleValidator,
				Intent:    spec.Intent,
				Clause:    spec.Clause,
				Inputs:    map[string]workflow.Binding{"action": workflow.Ref(id, "")},
				DependsOn: []string{id},
				Optional:  true,
			})
		}
		prevID = id
	}
	return specs, clauses
}

func (p *Planner) singleStep(goal envelope.Goal) []StepSpec {
	res := goal.Classification
	spec := StepSpec{
		ID:     "step_1",
		Role:   workflow.RoleSpecialist,
		Intent: res.Intent,
		Clause: goal.Text(),
		Inputs: literalInputs(goal.Text(), res.Slots),
	}
	if is, ok := p.catalog.Lookup(res.Intent); ok {
		spec.Tool = is.Tool
		spec.SideEffect = is.SideEffect
		if is.SideEffect && is.Tool != "" {
			spec.Role = workflow.RoleExecutor
		}
	}
	return []StepSpec{spec}
}

func (p *Planner) clauseStep(id, text string) StepSpec {
	res, ok := p.clauses.ClassifyClause(text)
	is, known := p.catalog.Lookup(res.Intent)
	if !ok || !known {
		return StepSpec{
			ID:     id,
			Role:   workflow.RolePlanner,
			Clause: text,
			Inputs: literalInputs(text, nil),
		}
	}
	role := workflow.RoleSpecialist
	if is.SideEffect && is.Tool != "" {
		role = workflow.RoleExecutor
	}
	return StepSpec{
		ID:         id,
		Role:       role,
		Intent:     is.Name,
		Tool:       is.Tool,
		Clause:     text,
		Inputs:     literalInputs(text, res.Slots),
		SideEffect: is.SideEffect,
	}
}

// aggregate fans out one specialist per matching query intent and fans in
// through a coordinator with the clause's id, which comes last.
func (p *Planner) aggregate(id, text string, targets []*intent.Spec) []StepSpec {
	coordinator := StepSpec{
		ID:     id,
		Role:   workflow.RoleCoordinator,
		Clause: text,
		Inputs: map[string]workflow.Binding{"text": workflow.Lit(text)},
	}
	var specs []StepSpec
	for j, is := range targets {
		sid := fmt.Sprintf("%s_%d", id, j+1)
		specs = append(specs, StepSpec{
			ID:     sid,
			Role:   workflow.RoleSpecialist,
			Intent: is.Name,
			Tool:   is.Tool,
			Clause: text,
			Inputs: literalInputs(text, nil),
		})
		coordinator.DependsOn = append(coordinator.DependsOn, sid)
		coordinator.Inputs[is.Name] = workflow.Ref(sid, "")
	}
	return append(specs, coordinator)
}

// aggregateTargets resolves "all my X" to the query intents serving X.
func (p *Planner) aggregateTargets(text string) []*intent.Spec {
	m := aggregatePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	noun := m[1]
	singular := strings.TrimSuffix(noun, "s")
	var out []*intent.Spec
	for _, is := range p.catalog.Specs() {
		if is.SideEffect || is.Tool == "" || is.Subsystem == "system" {
			continue
		}
		_, kw := is.Keywords[noun]
		_, kwSingular := is.Keywords[singular]
		if genericAggregates[noun] || kw || kwSingular || strings.HasPrefix(is.Subsystem, singular) {
			out = append(out, is)
		}
	}
	return out
}

type clause struct {
	text       string
	sequential bool
}

// splitClauses splits on connectors. Weak connectors ("and", ",") only
// split when the right side classifies to a different intent, so
// "add milk and eggs to my list" stays one clause.
func (p *Planner) splitClauses(text string) []clause {
	var (
		parts      []string
		connectors []string
		last       int
	)
	for _, loc := range splitPattern.FindAllStringSubmatchIndex(text, -1) {
		parts = append(parts, text[last:loc[0]])
		connectors = append(connectors, text[loc[2]:loc[3]])
		last = loc[1]
	}
	parts = append(parts, text[last:])

	var out []clause
	cur := clause{text: strings.TrimSpace(parts[0])}
	for i, next := range parts[1:] {
		next = strings.TrimSpace(next)
		conn := connectors[i]
		if next == "" {
			continue
		}
		if cur.text == "" {
			cur = clause{text: next, sequential: isSequential(conn)}
			continue
		}
		if isWeak(conn) && !p.distinctIntents(cur.text, next) {
			sep := " " + conn + " "
			if conn == "," {
				sep = ", "
			}
			cur.text += sep + next
			continue
		}
		out = append(out, cur)
		cur = clause{text: next, sequential: isSequential(conn)}
	}
	if cur.text != "" {
		out = append(out, cur)
	}
	return out
}

func (p *Planner) distinctIntents(left, right string) bool {
	r, ok := p.clauses.ClassifyClause(right)
	if !ok {
		return false
	}
	l, ok := p.clauses.ClassifyClause(left)
	return !ok || l.Intent != r.Intent
}

func isSequential(conn string) bool {
	return conn == "and then" || conn == "after that" || conn == "then"
}

func isWeak(conn string) bool {
	return conn == "and" || conn == ","
}

func literalInputs(text string, slots map[string]string) map[string]workflow.Binding {
	in := map[string]workflow.Binding{"text": workflow.Lit(text)}
	for k, v := range slots {
		in[k] = workflow.Lit(v)
	}
	return in
}
