// Package workflow holds the per-request workflow graph and the state
// machines of its steps.
package workflow

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Role is the kind of agent that executes a step.
type Role string

const (
	RolePlanner     Role = "planner"
	RoleExecutor    Role = "executor"
	RoleValidator   Role = "validator"
	RoleSpecialist  Role = "specialist"
	RoleCoordinator Role = "coordinator"
)

// StepStatus is the state of one step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepReady     StepStatus = "ready"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// IsTerminal reports whether no further transition is possible.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

var stepTransitions = map[StepStatus][]StepStatus{
	StepPending: {StepReady, StepSkipped, StepFailed},
	StepReady:   {StepRunning, StepSkipped},
	StepRunning: {StepCompleted, StepFailed},
}

var (
	ErrInvalidTransition      = errors.New("invalid step transition")
	ErrDependenciesIncomplete = errors.New("step dependencies not completed")
	ErrUnknownStep            = errors.New("unknown step")
	ErrWorkflowTerminal       = errors.New("workflow is terminal")
)

// Binding supplies one input of a step: a literal, or a field of another
// step's result.
type Binding struct {
	Literal  any    `json:"literal,omitempty"`
	FromStep string `json:"from_step,omitempty"`
	Field    string `json:"field,omitempty"`
}

// Lit binds a literal value.
func Lit(v any) Binding { return Binding{Literal: v} }

// Ref binds field of step's result. An empty field binds the whole result.
func Ref(step, field string) Binding { return Binding{FromStep: step, Field: field} }

// IsRef reports whether b refers to another step.
func (b Binding) IsRef() bool { return b.FromStep != "" }

// Step is one unit of work. Definition fields are fixed at planning time;
// runtime fields are guarded by the step's own mutex.
type Step struct {
	ID          string
	Role        Role
	Intent      string
	Tool        string
	Clause      string
	Inputs      map[string]Binding
	DependsOn   []string
	Optional    bool
	SideEffect  bool
	RollbackRef string

	mu         sync.Mutex
	status     StepStatus
	result     map[string]any
	err        error
	skipReason string
	startedAt  time.Time
	finishedAt time.Time
}

// Status returns the current status.
func (s *Step) Status() StepStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Result returns the step output once completed.
func (s *Step) Result() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Err returns the failure cause.
func (s *Step) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Duration is the running time of a finished step.
func (s *Step) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() || s.finishedAt.IsZero() {
		return 0
	}
	return s.finishedAt.Sub(s.startedAt)
}

func (s *Step) transition(to StepStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Step) transitionLocked(to StepStatus) error {
	for _, allowed := range stepTransitions[s.status] {
		if allowed == to {
			s.status = to
			now := time.Now()
			switch to {
			case StepRunning:
				s.startedAt = now
			case StepCompleted, StepFailed, StepSkipped:
				s.finishedAt = now
			}
			return nil
		}
	}
	return fmt.Errorf("%w: step %s %s -> %s", ErrInvalidTransition, s.ID, s.status, to)
}
