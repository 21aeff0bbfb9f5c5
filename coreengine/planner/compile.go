package planner

import (
	"sort"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/observability"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/workflow"
)

// StepSpec is the untrusted description of a step before compilation.
type StepSpec struct {
	ID          string
	Role        workflow.Role
	Intent      string
	Tool        string
	Clause      string
	Inputs      map[string]workflow.Binding
	DependsOn   []string
	Optional    bool
	SideEffect  bool
	RollbackRef string
}

func planningError(reason string, steps ...string) *envelope.PlanningError {
	observability.RecordPlanningError()
	return &envelope.PlanningError{Reason: reason, Steps: steps}
}

// Compile validates specs and builds a workflow. Invalid ids, dangling
// dependencies, bindings outside the declared dependencies and cycles are
// rejected with a *envelope.PlanningError before any step exists.
func (p *Planner) Compile(goal envelope.Goal, specs []StepSpec) (*workflow.Workflow, error) {
	if len(specs) == 0 {
		return nil, planningError("empty plan")
	}
	if p.cfg.MaxPlanSteps > 0 && len(specs) > p.cfg.MaxPlanSteps {
		return nil, planningError("plan exceeds max_plan_steps")
	}

	index := make(map[string]int, len(specs))
	for i, s := range specs {
		if s.ID == "" {
			return nil, planningError("step without id")
		}
		if _, dup := index[s.ID]; dup {
			return nil, planningError("duplicate step id", s.ID)
		}
		index[s.ID] = i
	}

	for _, s := range specs {
		deps := make(map[string]bool, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return nil, planningError("dependency cycle", s.ID)
			}
			if _, ok := index[dep]; !ok {
				return nil, planningError("unknown dependency", s.ID, dep)
			}
			deps[dep] = true
		}
		for name, b := range s.Inputs {
			if b.IsRef() && !deps[b.FromStep] {
				return nil, planningError("input "+name+" binds a step outside depends_on", s.ID, b.FromStep)
			}
		}
	}

	order, cyclic := topoOrder(specs, index)
	if len(cyclic) > 0 {
		return nil, planningError("dependency cycle", cyclic...)
	}

	steps := make([]*workflow.Step, len(specs))
	for i, s := range specs {
		rollback := s.RollbackRef
		sideEffect := s.SideEffect
		if spec, ok := p.catalog.Lookup(s.Intent); ok {
			sideEffect = sideEffect || spec.SideEffect
			if rollback == "" && sideEffect {
				rollback = spec.Rollback
			}
		}
		inputs := make(map[string]workflow.Binding, len(s.Inputs))
		for k, v := range s.Inputs {
			inputs[k] = v
		}
		steps[i] = &workflow.Step{
			ID:          s.ID,
			Role:        s.Role,
			Intent:      s.Intent,
			Tool:        s.Tool,
			Clause:      s.Clause,
			Inputs:      inputs,
			DependsOn:   append([]string(nil), s.DependsOn...),
			Optional:    s.Optional,
			SideEffect:  sideEffect,
			RollbackRef: rollback,
		}
	}

	wf := workflow.New(goal, steps, len(specs) > 1)
	wf.CriticalPath = criticalPath(specs, index, order)
	wf.CriticalPathLength = len(wf.CriticalPath)
	return wf, nil
}

// topoOrder runs Kahn's algorithm. Ties keep plan order. Steps left over
// are on or behind a cycle and are returned sorted.
func topoOrder(specs []StepSpec, index map[string]int) (order []int, cyclic []string) {
	inDegree := make([]int, len(specs))
	children := make([][]int, len(specs))
	for i, s := range specs {
		inDegree[i] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			children[index[dep]] = append(children[index[dep]], i)
		}
	}

	var queue []int
	for i := range specs {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, c := range children[cur] {
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}

	if len(order) < len(specs) {
		for i, s := range specs {
			if inDegree[i] > 0 {
				cyclic = append(cyclic, s.ID)
			}
		}
		sort.Strings(cyclic)
	}
	return order, cyclic
}

// criticalPath is the longest dependency chain, every step weighing one.
func criticalPath(specs []StepSpec, index map[string]int, order []int) []string {
	length := make([]int, len(specs))
	prev := make([]int, len(specs))
	for i := range prev {
		prev[i] = -1
	}
	end := -1
	for _, i := range order {
		length[i] = 1
		for _, dep := range specs[i].DependsOn {
			d := index[dep]
			if length[d]+1 > length[i] {
				length[i] = length[d] + 1
				prev[i] = d
			}
		}
		if end == -1 || length[i] > length[end] {
			end = i
		}
	}

	var path []string
	for i := end; i != -1; i = prev[i] {
		path = append(path, specs[i].ID)
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path
}
