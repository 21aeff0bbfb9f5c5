package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/llm"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/typeutil"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/workflow"
)

// Synthesizer turns workflow results into the reply text. Tool results are
// rendered from templates; conversation and recall go through the model
// when one is configured.
type Synthesizer struct {
	model   llm.ModelClient
	timeout time.Duration
	logger  logging.Logger
}

// NewSynthesizer creates a synthesizer. model may be nil.
func NewSynthesizer(model llm.ModelClient, timeout time.Duration, logger logging.Logger) *Synthesizer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Synthesizer{model: model, timeout: timeout, logger: logger}
}

// Compose builds the reply. Each returned part is streamed as one
// content_delta.
func (s *Synthesizer) Compose(ctx context.Context, goal envelope.Goal, wf *workflow.Workflow) []string {
	if s.model != nil && needsModel(wf) {
		if text, err := s.generate(ctx, goal, wf); err == nil && text != "" {
			return []string{text}
		} else if err != nil {
			s.logger.Warn("synthesis_generate_failed", "workflow_id", wf.ID, "error", err.Error())
		}
	}
	parts := templateParts(wf)
	if len(parts) == 0 {
		parts = []string{fallbackReply(goal)}
	}
	return parts
}

// needsModel reports whether the reply depends on free text rather than a
// tool result.
func needsModel(wf *workflow.Workflow) bool {
	for _, st := range wf.Steps() {
		if st.Tool != "" {
			return false
		}
	}
	return true
}

func (s *Synthesizer) generate(ctx context.Context, goal envelope.Goal, wf *workflow.Workflow) (string, error) {
	var b strings.Builder
	b.WriteString("You are Zoe, a concise home assistant. Answer the user in one to three sentences.\n")
	if len(goal.Episodes) > 0 {
		b.WriteString("Things the user said earlier, newest first:\n")
		for _, ep := range goal.Episodes {
			fmt.Fprintf(&b, "- %s\n", ep.Text)
		}
	}
	for _, st := range wf.Steps() {
		if text, ok := typeutil.String(st.Result(), "text"); ok && text != "" {
			fmt.Fprintf(&b, "Worked out for %q: %s\n", st.Clause, text)
		}
	}
	fmt.Fprintf(&b, "User: %s", goal.Text())

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	text, err := s.model.Generate(gctx, b.String(), llm.GenerateOptions{Temperature: 0.4, MaxTokens: 160})
	return strings.TrimSpace(text), err
}

// templateParts renders one sentence per completed or failed step in plan
// order. Validators stay silent.
func templateParts(wf *workflow.Workflow) []string {
	var parts []string
	for _, st := range wf.Steps() {
		if st.Role == workflow.RoleValidator {
			continue
		}
		var text string
		switch st.Status() {
		case workflow.StepCompleted:
			text = describeResult(st)
		case workflow.StepFailed:
			text = describeFailure(st)
		case workflow.StepSkipped:
			if !st.Optional {
				text = fmt.Sprintf("I didn't get to %s.", quoteClause(st))
			}
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	if rolled := wf.RolledBack(); len(rolled) > 0 {
		parts = append(parts, "I undid the changes I had already made.")
	}
	return parts
}

func describeResult(st *workflow.Step) string {
	res := st.Result()
	str := func(key string) string { return typeutil.StringOr(res, key, "") }

	switch st.Tool {
	case "smart_home.set_lights":
		return fmt.Sprintf("The %s lights are %s.", orDefault(str("room"), "room"), orDefault(str("state"), "on"))
	case "smart_home.restore_lights":
		return fmt.Sprintf("The %s lights are back to %s.", str("room"), str("state"))
	case "music.play":
		return fmt.Sprintf("Playing %s.", orDefault(str("now_playing"), "music"))
	case "music.stop":
		return "Music stopped."
	case "timer.create":
		return fmt.Sprintf("Timer set for %s.", orDefault(str("duration"), "you"))
	case "timer.cancel":
		return "Timer cancelled."
	case "system.time":
		return fmt.Sprintf("It's %s.", str("time"))
	case "calendar.create_event":
		ev, _ := typeutil.Map(res["event"])
		return fmt.Sprintf("Added %q to your calendar for %s.",
			typeutil.StringOr(ev, "title", "the event"), typeutil.StringOr(ev, "when", "today"))
	case "calendar.list_events":
		n, _ := typeutil.Int(res["count"])
		if n == 0 {
			return "Your calendar is clear."
		}
		return fmt.Sprintf("You have %d event%s coming up.", n, plural(n))
	case "lists.add_item":
		items, _ := typeutil.Strings(res["items"])
		return fmt.Sprintf("Added %s to your %s list.", joinItems(items), orDefault(str("list"), "shopping"))
	case "lists.get_items":
		return describeLists(res)
	case "journal.create_entry":
		return "Saved that to your journal."
	}

	switch st.Role {
	case workflow.RoleCoordinator:
		return describeAggregate(res)
	case workflow.RolePlanner:
		if text := str("text"); text != "" {
			return text
		}
		return fmt.Sprintf("I'm not sure how to handle %s yet.", quoteClause(st))
	}
	if st.Tool != "" {
		return fmt.Sprintf("Done: %s.", st.Tool)
	}
	return specialistReply(st)
}

func describeFailure(st *workflow.Step) string {
	if st.Optional {
		return ""
	}
	return fmt.Sprintf("I couldn't finish %s.", quoteClause(st))
}

func describeLists(res map[string]any) string {
	if list := typeutil.StringOr(res, "list", ""); list != "" {
		items, _ := typeutil.Strings(res["items"])
		if len(items) == 0 {
			return fmt.Sprintf("Your %s list is empty.", list)
		}
		return fmt.Sprintf("Your %s list has %s.", list, joinItems(items))
	}
	all, _ := typeutil.Map(res["lists"])
	if len(all) == 0 {
		return "You don't have any lists yet."
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	var parts []string
	for _, name := range names {
		items, _ := typeutil.Strings(all[name])
		if len(items) == 0 {
			parts = append(parts, fmt.Sprintf("%s is empty", name))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s has %s", name, joinItems(items)))
	}
	return "Your lists: " + strings.Join(parts, "; ") + "."
}

// describeAggregate summarizes the sources a coordinator merged.
func describeAggregate(res map[string]any) string {
	agg, _ := typeutil.Map(res["aggregated"])
	sources, _ := typeutil.Strings(res["sources"])
	var parts []string
	for _, src := range sources {
		m, ok := typeutil.Map(agg[src])
		if !ok {
			continue
		}
		if _, isList := m["lists"]; isList || m["list"] != nil {
			parts = append(parts, describeLists(m))
			continue
		}
		if n, ok := typeutil.Int(m["count"]); ok {
			parts = append(parts, fmt.Sprintf("%s: %d found.", src, n))
		}
	}
	return strings.Join(parts, " ")
}

func specialistReply(st *workflow.Step) string {
	res := st.Result()
	switch st.Intent {
	case "greeting":
		return "Hi! What can I do for you?"
	case "memory.recall":
		eps, _ := typeutil.Strings(res["episodes"])
		if len(eps) == 0 {
			return "I don't remember you telling me anything about that."
		}
		return fmt.Sprintf("You told me: %q.", eps[0])
	}
	if text := typeutil.StringOr(res, "text", ""); text != "" {
		return text
	}
	return "I'm here. Could you tell me a bit more?"
}

// fallbackReply is the direct conversational reply used when no workflow
// could be built.
func fallbackReply(goal envelope.Goal) string {
	if goal.Classification.Intent == "greeting" {
		return "Hi! What can I do for you?"
	}
	return "I'm not sure I can do that yet. Could you put it another way?"
}

// PartialReply describes what finished before the outer deadline.
func PartialReply(wf *workflow.Workflow) string {
	if wf == nil {
		return apologyText
	}
	var done []string
	for _, st := range wf.Steps() {
		if st.Status() == workflow.StepCompleted && st.Role != workflow.RoleValidator {
			if text := describeResult(st); text != "" {
				done = append(done, text)
			}
		}
	}
	if len(done) == 0 {
		return apologyText
	}
	return "I ran out of time before finishing everything. So far: " + strings.Join(done, " ")
}

// ConfirmationPrompt asks the user to approve a gated workflow.
func ConfirmationPrompt(wf *workflow.Workflow) string {
	var actions []string
	for _, st := range wf.Steps() {
		if st.SideEffect && st.Clause != "" {
			actions = append(actions, st.Clause)
		}
	}
	if len(actions) == 0 {
		return "This request changes things in your home. Shall I go ahead?"
	}
	return fmt.Sprintf("I'm about to %s. Shall I go ahead?", joinItems(actions))
}

func quoteClause(st *workflow.Step) string {
	if st.Clause != "" {
		return fmt.Sprintf("%q", st.Clause)
	}
	return "that"
}

func joinItems(items []string) string {
	switch len(items) {
	case 0:
		return "nothing"
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
