package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/typeutil"
)

// State is the lifecycle state of a workflow.
type State string

const (
	StatePlanning  State = "planning"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether the workflow has finished.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var stateTransitions = map[State][]State{
	StatePlanning:  {StateExecuting, StateCancelled},
	StateExecuting: {StateCompleted, StateFailed, StateCancelled},
}

// Workflow is the compiled step graph of one request. Only the executor
// mutates it, and only through the methods below.
type Workflow struct {
	ID                 string
	Goal               envelope.Goal
	Orchestrated       bool
	CreatedAt          time.Time
	CriticalPath       []string
	CriticalPathLength int

	steps []*Step
	index map[string]*Step

	mu         sync.RWMutex
	state      State
	finishedAt time.Time
	rolledBack []string
}

// New assembles a workflow from already validated steps. Every step starts
// pending. Use the planner to build workflows from untrusted specs.
func New(goal envelope.Goal, steps []*Step, orchestrated bool) *Workflow {
	wf := &Workflow{
		ID:           "wf_" + uuid.New().String(),
		Goal:         goal,
		Orchestrated: orchestrated,
		CreatedAt:    time.Now().UTC(),
		steps:        steps,
		index:        make(map[string]*Step, len(steps)),
		state:        StatePlanning,
	}
	for _, s := range steps {
		s.status = StepPending
		wf.index[s.ID] = s
	}
	return wf
}

// Steps returns the steps in plan order.
func (w *Workflow) Steps() []*Step { return w.steps }

// Step looks up a step by id.
func (w *Workflow) Step(id string) (*Step, bool) {
	s, ok := w.index[id]
	return s, ok
}

// State returns the current state.
func (w *Workflow) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Duration is the time from creation to the terminal state.
func (w *Workflow) Duration() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.finishedAt.IsZero() {
		return time.Since(w.CreatedAt)
	}
	return w.finishedAt.Sub(w.CreatedAt)
}

// Transition moves the workflow to state to.
func (w *Workflow) Transition(to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrWorkflowTerminal, w.state)
	}
	for _, allowed := range stateTransitions[w.state] {
		if allowed == to {
			w.state = to
			if to.IsTerminal() {
				w.finishedAt = time.Now().UTC()
			}
			return nil
		}
	}
	return fmt.Errorf("invalid workflow transition %s -> %s", w.state, to)
}

// mutable returns the step after checking the workflow accepts mutation.
func (w *Workflow) mutable(id string) (*Step, error) {
	if w.State().IsTerminal() {
		return nil, ErrWorkflowTerminal
	}
	s, ok := w.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	return s, nil
}

// MarkReady moves a pending step to ready.
func (w *Workflow) MarkReady(id string) error {
	s, err := w.mutable(id)
	if err != nil {
		return err
	}
	return s.transition(StepReady)
}

// MarkRunning starts a step. It fails unless every dependency completed.
func (w *Workflow) MarkRunning(id string) error {
	s, err := w.mutable(id)
	if err != nil {
		return err
	}
	for _, dep := range s.DependsOn {
		d, ok := w.index[dep]
		if !ok || d.Status() != StepCompleted {
			return fmt.Errorf("%w: %s waits on %s", ErrDependenciesIncomplete, id, dep)
		}
	}
	return s.transition(StepRunning)
}

// Complete records a successful result.
func (w *Workflow) Complete(id string, result map[string]any) error {
	s, err := w.mutable(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StepCompleted); err != nil {
		return err
	}
	s.result = result
	return nil
}

// Fail records a failure.
func (w *Workflow) Fail(id string, cause error) error {
	s, err := w.mutable(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StepFailed); err != nil {
		return err
	}
	s.err = cause
	return nil
}

// Skip marks a pending or ready step as skipped.
func (w *Workflow) Skip(id, reason string) error {
	s, err := w.mutable(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StepSkipped); err != nil {
		return err
	}
	s.skipReason = reason
	return nil
}

// ResolveInputs materializes a step's bindings from completed dependencies.
func (w *Workflow) ResolveInputs(id string) (map[string]any, error) {
	s, ok := w.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	s.mu.Lock()
	inputs := make(map[string]Binding, len(s.Inputs))
	for k, b := range s.Inputs {
		inputs[k] = b
	}
	s.mu.Unlock()

	out := make(map[string]any, len(inputs))
	for name, b := range inputs {
		if !b.IsRef() {
			out[name] = b.Literal
			continue
		}
		src, ok := w.index[b.FromStep]
		if !ok {
			return nil, fmt.Errorf("%w: %s input %s refers to %s", ErrUnknownStep, id, name, b.FromStep)
		}
		if src.Status() != StepCompleted {
			return nil, fmt.Errorf("%w: %s input %s", ErrDependenciesIncomplete, id, name)
		}
		res := src.Result()
		if b.Field == "" {
			out[name] = res
		} else {
			out[name], _ = typeutil.Lookup(res, b.Field)
		}
	}
	return out, nil
}

// ModifyInputs merges literal corrections into a step that has not run yet.
func (w *Workflow) ModifyInputs(id string, correction map[string]any) error {
	if w.State() != StatePlanning {
		return fmt.Errorf("%w: inputs can only change before execution", ErrWorkflowTerminal)
	}
	s, ok := w.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Inputs == nil {
		s.Inputs = make(map[string]Binding, len(correction))
	}
	for k, v := range correction {
		s.Inputs[k] = Lit(v)
	}
	return nil
}

// Dependents returns the transitive dependents of id in plan order.
func (w *Workflow) Dependents(id string) []string {
	children := make(map[string][]string)
	for _, s := range w.steps {
		for _, dep := range s.DependsOn {
			children[dep] = append(children[dep], s.ID)
		}
	}
	seen := make(map[string]bool)
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if !seen[c] {
				seen[c] = true
				queue = append(queue, c)
			}
		}
	}
	var out []string
	for _, s := range w.steps {
		if seen[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out
}

// Ancestors returns the transitive dependencies of id in plan order.
func (w *Workflow) Ancestors(id string) []string {
	seen := make(map[string]bool)
	var visit func(string)
	visit = func(cur string) {
		s, ok := w.index[cur]
		if !ok {
			return
		}
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				seen[dep] = true
				visit(dep)
			}
		}
	}
	visit(id)
	var out []string
	for _, s := range w.steps {
		if seen[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out
}

// HasSideEffects reports whether any step changes external state.
func (w *Workflow) HasSideEffects() bool {
	for _, s := range w.steps {
		if s.SideEffect {
			return true
		}
	}
	return false
}

// RecordRollback notes that id was compensated.
func (w *Workflow) RecordRollback(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rolledBack = append(w.rolledBack, id)
}

// RolledBack returns the compensated step ids.
func (w *Workflow) RolledBack() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.rolledBack...)
}

// StatusCounts tallies steps by status.
func (w *Workflow) StatusCounts() map[string]int {
	out := make(map[string]int)
	for _, s := range w.steps {
		out[string(s.Status())]++
	}
	return out
}

// RequiredFailed reports whether a non-optional step failed.
func (w *Workflow) RequiredFailed() bool {
	for _, s := range w.steps {
		if !s.Optional && s.Status() == StepFailed {
			return true
		}
	}
	return false
}
