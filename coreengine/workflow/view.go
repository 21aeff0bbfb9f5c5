package workflow

import "time"

// StepView is a serializable snapshot of a step.
type StepView struct {
	ID          string             `json:"id"`
	Role        Role               `json:"role"`
	Intent      string             `json:"intent,omitempty"`
	Tool        string             `json:"tool,omitempty"`
	Clause      string             `json:"clause,omitempty"`
	Inputs      map[string]Binding `json:"inputs,omitempty"`
	DependsOn   []string           `json:"depends_on,omitempty"`
	Optional    bool               `json:"optional,omitempty"`
	SideEffect  bool               `json:"side_effect,omitempty"`
	RollbackRef string             `json:"rollback_ref,omitempty"`
	Status      StepStatus         `json:"status"`
	Result      map[string]any     `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
	SkipReason  string             `json:"skip_reason,omitempty"`
	DurationMS  int64              `json:"duration_ms,omitempty"`
}

// View is a serializable snapshot of a workflow.
type View struct {
	ID                 string     `json:"id"`
	State              State      `json:"state"`
	Orchestrated       bool       `json:"orchestrated"`
	Intent             string     `json:"intent"`
	CriticalPath       []string   `json:"critical_path"`
	CriticalPathLength int        `json:"critical_path_length"`
	RolledBack         []string   `json:"rolled_back,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	Steps              []StepView `json:"steps"`
}

// Snapshot captures the current state of the workflow.
func (w *Workflow) Snapshot() View {
	v := View{
		ID:                 w.ID,
		State:              w.State(),
		Orchestrated:       w.Orchestrated,
		Intent:             w.Goal.Classification.Intent,
		CriticalPath:       append([]string(nil), w.CriticalPath...),
		CriticalPathLength: w.CriticalPathLength,
		RolledBack:         w.RolledBack(),
		CreatedAt:          w.CreatedAt,
		Steps:              make([]StepView, 0, len(w.steps)),
	}
	for _, s := range w.steps {
		v.Steps = append(v.Steps, s.view())
	}
	return v
}

func (s *Step) view() StepView {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv := StepView{
		ID:          s.ID,
		Role:        s.Role,
		Intent:      s.Intent,
		Tool:        s.Tool,
		Clause:      s.Clause,
		DependsOn:   append([]string(nil), s.DependsOn...),
		Optional:    s.Optional,
		SideEffect:  s.SideEffect,
		RollbackRef: s.RollbackRef,
		Status:      s.status,
		Result:      s.result,
		SkipReason:  s.skipReason,
	}
	if len(s.Inputs) > 0 {
		sv.Inputs = make(map[string]Binding, len(s.Inputs))
		for k, b := range s.Inputs {
			sv.Inputs[k] = b
		}
	}
	if s.err != nil {
		sv.Error = s.err.Error()
	}
	if !s.startedAt.IsZero() && !s.finishedAt.IsZero() {
		sv.DurationMS = s.finishedAt.Sub(s.startedAt).Milliseconds()
	}
	return sv
}
