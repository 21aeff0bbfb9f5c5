package runtime

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/agents"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/testutil"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/workflow"
)

// scriptedRunner plays back per-step behavior and checks that every step
// starts only after its dependencies completed.
type scriptedRunner struct {
	wf     *workflow.Workflow
	delay  map[string]time.Duration
	fail   map[string]error
	panics map[string]bool
	block  map[string]bool

	running    int32
	maxRunning int32

	mu         sync.Mutex
	started    []string
	finished   []string
	rollbacks  []string
	violations []string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		delay:  map[string]time.Duration{},
		fail:   map[string]error{},
		panics: map[string]bool{},
		block:  map[string]bool{},
	}
}

func (s *scriptedRunner) Run(ctx context.Context, req agents.Request) (map[string]any, error) {
	id := req.Step.ID
	cur := atomic.AddInt32(&s.running, 1)
	defer atomic.AddInt32(&s.running, -1)
	for {
		prev := atomic.LoadInt32(&s.maxRunning)
		if cur <= prev || atomic.CompareAndSwapInt32(&s.maxRunning, prev, cur) {
			break
		}
	}

	s.mu.Lock()
	s.started = append(s.started, id)
	if s.wf != nil {
		for _, dep := range req.Step.DependsOn {
			if d, _ := s.wf.Step(dep); d.Status() != workflow.StepCompleted {
				s.violations = append(s.violations, fmt.Sprintf("%s started before %s completed", id, dep))
			}
		}
	}
	s.mu.Unlock()

	if s.block[id] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d := s.delay[id]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.panics[id] {
		panic("step exploded")
	}

	s.mu.Lock()
	s.finished = append(s.finished, id)
	s.mu.Unlock()
	if err := s.fail[id]; err != nil {
		return nil, err
	}
	return map[string]any{"step": id}, nil
}

func (s *scriptedRunner) Rollback(_ context.Context, req agents.Request, tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbacks = append(s.rollbacks, req.Step.ID+":"+tool)
	return nil
}

func step(id string, deps ...string) *workflow.Step {
	return &workflow.Step{ID: id, Role: workflow.RoleSpecialist, DependsOn: deps}
}

func newWorkflow(steps ...*workflow.Step) *workflow.Workflow {
	return workflow.New(envelope.Goal{}, steps, len(steps) > 1)
}

func executorConfig() *config.CoreConfig {
	cfg := config.DefaultCoreConfig()
	cfg.StepTimeoutMS = 2000
	return cfg
}

func status(t *testing.T, wf *workflow.Workflow, id string) workflow.StepStatus {
	t.Helper()
	s, ok := wf.Step(id)
	require.True(t, ok, id)
	return s.Status()
}

func TestExecuteSingleStep(t *testing.T) {
	runner := newScriptedRunner()
	exec := NewDAGExecutor(runner, executorConfig(), testutil.NewRecordingLogger())
	wf := newWorkflow(step("step_1"))
	rec := testutil.NewEventRecorder()

	state := exec.Execute(context.Background(), wf, rec)

	assert.Equal(t, workflow.StateCompleted, state)
	assert.Equal(t, []envelope.EventType{envelope.EventStepStart, envelope.EventStepComplete}, rec.Types())
	s, _ := wf.Step("step_1")
	assert.Equal(t, "step_1", s.Result()["step"])
}

func TestExecuteRejectsWorkflowNotInPlanning(t *testing.T) {
	exec := NewDAGExecutor(newScriptedRunner(), executorConfig(), nil)
	wf := newWorkflow(step("a"))
	require.Equal(t, workflow.StateCompleted, exec.Execute(context.Background(), wf, nil))
	assert.Equal(t, workflow.StateCompleted, exec.Execute(context.Background(), wf, nil))
}

func TestExecuteRunsStepsOnlyAfterDependencies(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 100; trial++ {
		n := 2 + rng.Intn(9)
		steps := make([]*workflow.Step, n)
		for i := 0; i < n; i++ {
			var deps []string
			for j := 0; j < i; j++ {
				if rng.Float64() < 0.3 {
					deps = append(deps, fmt.Sprintf("s%d", j))
				}
			}
			steps[i] = step(fmt.Sprintf("s%d", i), deps...)
		}
		wf := newWorkflow(steps...)
		runner := newScriptedRunner()
		runner.wf = wf
		for i := 0; i < n; i++ {
			runner.delay[fmt.Sprintf("s%d", i)] = time.Duration(rng.Intn(3)) * time.Millisecond
		}
		exec := NewDAGExecutor(runner, executorConfig(), nil)
		exec.SetMaxParallel(rng.Intn(4))

		state := exec.Execute(context.Background(), wf, nil)

		require.Equal(t, workflow.StateCompleted, state, "trial %d", trial)
		assert.Empty(t, runner.violations, "trial %d", trial)
		assert.Len(t, runner.finished, n, "trial %d", trial)
		for _, s := range wf.Steps() {
			assert.Equal(t, workflow.StepCompleted, s.Status(), "trial %d step %s", trial, s.ID)
		}
	}
}

func TestExecuteIndependentStepsRunConcurrently(t *testing.T) {
	runner := newScriptedRunner()
	runner.delay["a"] = 40 * time.Millisecond
	runner.delay["b"] = 40 * time.Millisecond
	exec := NewDAGExecutor(runner, executorConfig(), nil)

	state := exec.Execute(context.Background(), newWorkflow(step("a"), step("b")), nil)

	assert.Equal(t, workflow.StateCompleted, state)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runner.maxRunning))
}

func TestExecuteRespectsMaxParallel(t *testing.T) {
	runner := newScriptedRunner()
	var steps []*workflow.Step
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("s%d", i)
		runner.delay[id] = 15 * time.Millisecond
		steps = append(steps, step(id))
	}
	exec := NewDAGExecutor(runner, executorConfig(), nil)
	exec.SetMaxParallel(2)

	state := exec.Execute(context.Background(), newWorkflow(steps...), nil)

	assert.Equal(t, workflow.StateCompleted, state)
	assert.LessOrEqual(t, atomic.LoadInt32(&runner.maxRunning), int32(2))
}

func TestExecuteFailureCascadesSkips(t *testing.T) {
	runner := newScriptedRunner()
	runner.fail["a"] = errors.New("tool down")
	exec := NewDAGExecutor(runner, executorConfig(), nil)
	wf := newWorkflow(step("a"), step("b", "a"), step("c", "b"), step("d"))
	rec := testutil.NewEventRecorder()

	state := exec.Execute(context.Background(), wf, rec)

	assert.Equal(t, workflow.StateFailed, state)
	assert.Equal(t, workflow.StepFailed, status(t, wf, "a"))
	assert.Equal(t, workflow.StepSkipped, status(t, wf, "b"))
	assert.Equal(t, workflow.StepSkipped, status(t, wf, "c"))
	assert.Equal(t, workflow.StepCompleted, status(t, wf, "d"))
	assert.NotContains(t, runner.started, "b")

	var failed envelope.Event
	for _, ev := range rec.OfType(envelope.EventStepComplete) {
		if ev.StepID == "a" {
			failed = ev
		}
	}
	assert.Equal(t, "failed", failed.Data["status"])
	assert.Equal(t, string(envelope.KindStepExecutionError), failed.Data["error_kind"])
}

func TestExecuteOptionalFailureStillCompletes(t *testing.T) {
	runner := newScriptedRunner()
	runner.fail["a_check"] = errors.New("validation failed")
	exec := NewDAGExecutor(runner, executorConfig(), nil)
	check := step("a_check", "a")
	check.Optional = true
	wf := newWorkflow(step("a"), check)

	assert.Equal(t, workflow.StateCompleted, exec.Execute(context.Background(), wf, nil))
	assert.False(t, wf.RequiredFailed())
}

func TestExecuteRollsBackCompletedSideEffects(t *testing.T) {
	runner := newScriptedRunner()
	runner.fail["play"] = errors.New("speaker offline")
	cfg := executorConfig()
	cfg.RollbackOnFailure = true
	exec := NewDAGExecutor(runner, cfg, nil)

	lights := step("lights")
	lights.SideEffect = true
	lights.RollbackRef = "smart_home.restore_lights"
	readOnly := step("time")
	play := step("play", "lights", "time")
	play.SideEffect = true
	wf := newWorkflow(lights, readOnly, play)

	state := exec.Execute(context.Background(), wf, nil)

	assert.Equal(t, workflow.StateFailed, state)
	assert.Equal(t, []string{"lights:smart_home.restore_lights"}, runner.rollbacks)
	assert.Equal(t, []string{"lights"}, wf.RolledBack())
}

func TestExecuteWithoutRollbackLeavesSideEffects(t *testing.T) {
	runner := newScriptedRunner()
	runner.fail["b"] = errors.New("boom")
	cfg := executorConfig()
	cfg.RollbackOnFailure = false
	a := step("a")
	a.SideEffect = true
	a.RollbackRef = "undo"

	exec := NewDAGExecutor(runner, cfg, nil)
	exec.Execute(context.Background(), newWorkflow(a, step("b", "a")), nil)
	assert.Empty(t, runner.rollbacks)
}

func TestExecutePanicFailsOnlyThatStep(t *testing.T) {
	runner := newScriptedRunner()
	runner.panics["a"] = true
	exec := NewDAGExecutor(runner, executorConfig(), testutil.NewRecordingLogger())
	wf := newWorkflow(step("a"), step("b"))

	state := exec.Execute(context.Background(), wf, nil)

	assert.Equal(t, workflow.StateFailed, state)
	a, _ := wf.Step("a")
	var se *envelope.StepExecutionError
	assert.ErrorAs(t, a.Err(), &se)
	assert.Equal(t, workflow.StepCompleted, status(t, wf, "b"))
}

func TestExecuteStepTimeout(t *testing.T) {
	runner := newScriptedRunner()
	runner.block["slow"] = true
	cfg := executorConfig()
	cfg.StepTimeoutMS = 20
	exec := NewDAGExecutor(runner, cfg, nil)
	wf := newWorkflow(step("slow"), step("fast"))

	state := exec.Execute(context.Background(), wf, nil)

	assert.Equal(t, workflow.StateFailed, state)
	slow, _ := wf.Step("slow")
	assert.ErrorIs(t, slow.Err(), context.DeadlineExceeded)
	assert.Equal(t, workflow.StepCompleted, status(t, wf, "fast"))
}

func TestExecuteCancellation(t *testing.T) {
	runner := newScriptedRunner()
	runner.block["a"] = true
	exec := NewDAGExecutor(runner, executorConfig(), nil)
	wf := newWorkflow(step("a"), step("b", "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	state := exec.Execute(ctx, wf, nil)

	assert.Equal(t, workflow.StateCancelled, state)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, workflow.StepSkipped, status(t, wf, "b"))
}

func TestExecuteAlreadyCancelledRunsNothing(t *testing.T) {
	runner := newScriptedRunner()
	exec := NewDAGExecutor(runner, executorConfig(), nil)
	wf := newWorkflow(step("a"), step("b"), step("c", "a", "b"))
	rec := testutil.NewEventRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state := exec.Execute(ctx, wf, rec)

	assert.Equal(t, workflow.StateCancelled, state)
	assert.Empty(t, runner.started)
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, workflow.StepSkipped, status(t, wf, id), id)
	}
	assert.Empty(t, rec.OfType(envelope.EventStepStart))
}

func TestExecuteStreaming(t *testing.T) {
	exec := NewDAGExecutor(newScriptedRunner(), executorConfig(), nil)
	events, states := exec.ExecuteStreaming(context.Background(), newWorkflow(step("a"), step("b", "a")))

	var types []envelope.EventType
	for ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, workflow.StateCompleted, <-states)
	assert.Equal(t, envelope.EventThinking, types[0])
	assert.Len(t, types, 5)
}
