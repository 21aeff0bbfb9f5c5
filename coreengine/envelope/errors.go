package envelope

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the taxonomy label attached to events, logs and metrics.
type ErrorKind string

const (
	KindClassificationTimeout ErrorKind = "classification_timeout"
	KindPlanningError         ErrorKind = "planning_error"
	KindStepExecutionError    ErrorKind = "step_execution_error"
	KindMemoryTimeout         ErrorKind = "memory_timeout"
	KindOuterTimeout          ErrorKind = "outer_timeout"
	KindTrackerError          ErrorKind = "tracker_error"
)

// ClassificationTimeout is returned when tier 2 exceeds its budget.
type ClassificationTimeout struct {
	Budget time.Duration
	Cause  error
}

func (e *ClassificationTimeout) Error() string {
	return fmt.Sprintf("classification exceeded %s: %v", e.Budget, e.Cause)
}

func (e *ClassificationTimeout) Unwrap() error { return e.Cause }

// PlanningError rejects an invalid plan before any step is created.
type PlanningError struct {
	Reason string
	Steps  []string
}

func (e *PlanningError) Error() string {
	if len(e.Steps) == 0 {
		return "planning failed: " + e.Reason
	}
	return fmt.Sprintf("planning failed: %s involving steps: %v", e.Reason, e.Steps)
}

// StepExecutionError wraps a tool or agent failure for one step.
type StepExecutionError struct {
	StepID string
	Tool   string
	Cause  error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s (%s) failed: %v", e.StepID, e.Tool, e.Cause)
}

func (e *StepExecutionError) Unwrap() error { return e.Cause }

// MemoryTimeout marks a memory search that did not finish within budget.
type MemoryTimeout struct {
	Budget time.Duration
	Cause  error
}

func (e *MemoryTimeout) Error() string {
	return fmt.Sprintf("memory search exceeded %s: %v", e.Budget, e.Cause)
}

func (e *MemoryTimeout) Unwrap() error { return e.Cause }

// OuterTimeout is the authoritative pipeline deadline expiring.
type OuterTimeout struct {
	Budget time.Duration
}

func (e *OuterTimeout) Error() string {
	return fmt.Sprintf("pipeline exceeded outer deadline of %s", e.Budget)
}

// TrackerError is a satisfaction persistence failure. It is only logged.
type TrackerError struct {
	InteractionID string
	Cause         error
}

func (e *TrackerError) Error() string {
	return fmt.Sprintf("satisfaction record %s not persisted: %v", e.InteractionID, e.Cause)
}

func (e *TrackerError) Unwrap() error { return e.Cause }

// KindOf maps an error onto the taxonomy. Unknown errors return "".
func KindOf(err error) ErrorKind {
	var (
		ct *ClassificationTimeout
		pe *PlanningError
		se *StepExecutionError
		mt *MemoryTimeout
		ot *OuterTimeout
		te *TrackerError
	)
	switch {
	case errors.As(err, &ct):
		return KindClassificationTimeout
	case errors.As(err, &pe):
		return KindPlanningError
	case errors.As(err, &se):
		return KindStepExecutionError
	case errors.As(err, &mt):
		return KindMemoryTimeout
	case errors.As(err, &ot):
		return KindOuterTimeout
	case errors.As(err, &te):
		return KindTrackerError
	}
	return ""
}

// IsTerminal reports whether err ends the whole request.
func IsTerminal(err error) bool {
	k := KindOf(err)
	return k == KindPlanningError || k == KindOuterTimeout
}
