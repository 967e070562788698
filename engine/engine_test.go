package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/gobby/action"
	"github.com/GoCodeAlone/gobby/definition"
	"github.com/GoCodeAlone/gobby/hook"
	"github.com/GoCodeAlone/gobby/loader"
	"github.com/GoCodeAlone/gobby/state"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	engine  *Engine
	store   *state.Store
	loader  *loader.Loader
	project string
	clock   *fakeClock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	st, err := state.Open(filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ld := loader.New(loader.WithUserDir(t.TempDir()))
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock)}, opts...)
	return &testEnv{
		engine:  New(ld, st, opts...),
		store:   st,
		loader:  ld,
		project: t.TempDir(),
		clock:   clock,
	}
}

func (env *testEnv) writeWorkflow(t *testing.T, name, content string) {
	t.Helper()
	dir := filepath.Join(env.project, ".gobby", "workflows")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0o644))
	env.loader.ClearCache()
}

// seedState puts a session into a workflow step directly, bypassing
// activation.
func (env *testEnv) seedState(t *testing.T, sessionID, workflow, step string, vars map[string]any) *state.WorkflowState {
	t.Helper()
	st := state.NewWorkflowState(sessionID, workflow)
	st.Step = step
	st.InitialStep = step
	entered := env.clock.Now()
	st.StepEnteredAt = &entered
	for k, v := range vars {
		st.Variables[k] = v
	}
	require.NoError(t, env.store.SaveState(context.Background(), st))
	return st
}

func (env *testEnv) event(typ hook.EventType, sessionID string, data map[string]any) *hook.Event {
	return &hook.Event{
		Type:     typ,
		CWD:      env.project,
		Data:     data,
		Metadata: map[string]any{"_platform_session_id": sessionID},
	}
}

func (env *testEnv) toolEvent(typ hook.EventType, sessionID, tool string, input map[string]any) *hook.Event {
	data := map[string]any{"tool_name": tool}
	if input != nil {
		data["tool_input"] = input
	}
	return env.event(typ, sessionID, data)
}

func (env *testEnv) promptEvent(sessionID, prompt string) *hook.Event {
	return env.event(hook.BeforeAgent, sessionID, map[string]any{"prompt": prompt})
}

func (env *testEnv) mustState(t *testing.T, sessionID string) *state.WorkflowState {
	t.Helper()
	st, err := env.store.GetState(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

const devWorkflow = `
name: dev
steps:
  - name: plan
    blocked_tools: [Write, Edit]
  - name: implement
    blocked_tools: [Bash]
  - name: reflect
`

func TestBlockedToolInStep(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "dev", devWorkflow)
	env.seedState(t, "sess-1", "dev", "implement", nil)
	ctx := context.Background()

	resp, err := env.engine.HandleEvent(ctx, env.toolEvent(hook.BeforeTool, "sess-1", "Bash", nil), nil)
	require.NoError(t, err)
	assert.True(t, resp.IsBlocking())
	assert.Contains(t, resp.Reason, "blocked in step 'implement'")

	// a permitted tool passes
	resp, err = env.engine.HandleEvent(ctx, env.toolEvent(hook.BeforeTool, "sess-1", "Read", nil), nil)
	require.NoError(t, err)
	assert.False(t, resp.IsBlocking())

	rows, err := env.store.ListAudit(ctx, "sess-1", state.AuditToolCall)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "allow", rows[0].Result)
	assert.Equal(t, "block", rows[1].Result)
	assert.Equal(t, "Bash", rows[1].Tool)
}

func TestTriggerDrivesTransition(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "flow", `
name: flow
triggers:
  after_tool:
    - action: set_variable
      name: ready
      value: "true"
steps:
  - name: a
    transitions:
      - to: b
        when: ready
  - name: b
    status_message: "now in b"
    on_enter:
      - action: inject_context
        content: "in b"
`)
	env.seedState(t, "sess-1", "flow", "a", map[string]any{
		"mcp_calls": map[string]any{"gobby-tasks": []any{"claim_task"}},
	})
	env.clock.Advance(2 * time.Minute)
	ctx := context.Background()

	resp, err := env.engine.HandleEvent(ctx, env.toolEvent(hook.AfterTool, "sess-1", "Read", nil), nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Context, "in b")
	assert.Equal(t, "now in b", resp.SystemMessage)

	st := env.mustState(t, "sess-1")
	assert.Equal(t, "b", st.Step)
	require.NotNil(t, st.StepEnteredAt)
	assert.True(t, st.StepEnteredAt.Equal(env.clock.Now()))
	// MCP tracking resets on step entry
	assert.Equal(t, map[string]any{}, st.Variables["mcp_calls"])
	assert.Equal(t, map[string]any{}, st.Variables["mcp_results"])
}

func TestLifecycleWorkflowsAccumulateContext(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "a-guard", `
name: a-guard
enabled: true
priority: 1
triggers:
  before_agent:
    - action: inject_context
      content: "A"
`)
	env.writeWorkflow(t, "b-guard", `
name: b-guard
enabled: true
priority: 2
triggers:
  before_agent:
    - action: inject_context
      content: "B"
`)

	resp, err := env.engine.ProcessEvent(context.Background(), env.promptEvent("sess-1", "hello"))
	require.NoError(t, err)
	assert.Equal(t, hook.DecisionAllow, resp.Decision)
	assert.Equal(t, "A\n\nB", resp.Context)
}

func TestLifecycleTriggerChainWithinOneEvent(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "chain", `
name: chain
enabled: true
triggers:
  before_agent:
    - action: inject_context
      when: step_two
      content: "late"
    - action: set_variable
      name: step_two
      value: "true"
`)

	// the first trigger's condition only holds after the second trigger
	// runs; the sweep loops so it still fires on this event
	resp, err := env.engine.ProcessEvent(context.Background(), env.promptEvent("sess-1", "hello"))
	require.NoError(t, err)
	assert.Contains(t, resp.Context, "late")

	st := env.mustState(t, "sess-1")
	assert.Equal(t, state.LifecycleWorkflow, st.WorkflowName)
	assert.Equal(t, "true", st.Variables["step_two"])
}

func TestLifecycleBlockShortCircuitsStepWorkflow(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Actions().Register("halt", func(context.Context, *action.Context, map[string]any) (*action.Result, error) {
		return &action.Result{Decision: "block", Reason: "halted"}, nil
	})
	env.writeWorkflow(t, "guard", `
name: guard
enabled: true
triggers:
  before_agent:
    - halt
`)
	env.writeWorkflow(t, "dev", devWorkflow)
	env.seedState(t, "sess-1", "dev", "plan", nil)

	resp, err := env.engine.ProcessEvent(context.Background(), env.promptEvent("sess-1", "hello"))
	require.NoError(t, err)
	assert.True(t, resp.IsBlocking())
	assert.Equal(t, "halted", resp.Reason)
}

func TestPlanModeReminderDetection(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "dev", devWorkflow)
	env.seedState(t, "sess-1", "dev", "plan", nil)
	ctx := context.Background()

	prompt := "do the thing\n<system-reminder>\nPlan mode is active.\n</system-reminder>"
	_, err := env.engine.HandleEvent(ctx, env.promptEvent("sess-1", prompt), nil)
	require.NoError(t, err)
	assert.Equal(t, true, env.mustState(t, "sess-1").Variables["plan_mode"])

	// the phrase outside a system-reminder tag is user text, not a notice
	_, err = env.engine.HandleEvent(ctx, env.promptEvent("sess-2", "Plan mode is active"), nil)
	require.NoError(t, err)
	st, err := env.store.GetState(ctx, "sess-2")
	require.NoError(t, err)
	assert.Nil(t, st)

	prompt = "<system-reminder>Exited Plan Mode</system-reminder>"
	_, err = env.engine.HandleEvent(ctx, env.promptEvent("sess-1", prompt), nil)
	require.NoError(t, err)
	assert.Equal(t, false, env.mustState(t, "sess-1").Variables["plan_mode"])
}

const releaseWorkflow = `
name: release
steps:
  - name: gate
    exit_conditions:
      - type: user_approval
        condition_id: go
        prompt: "Proceed?"
        timeout_seconds: 60
  - name: ship
`

func TestApprovalGrantFlow(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "release", releaseWorkflow)
	env.seedState(t, "sess-1", "release", "gate", nil)
	ctx := context.Background()

	resp, err := env.engine.HandleEvent(ctx, env.promptEvent("sess-1", "release it"), nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Context, "Proceed?")

	st := env.mustState(t, "sess-1")
	assert.True(t, st.ApprovalPending)
	assert.Equal(t, "go", st.ApprovalConditionID)

	// tool calls are held while the question is open
	resp, err = env.engine.HandleEvent(ctx, env.toolEvent(hook.BeforeTool, "sess-1", "Bash", nil), nil)
	require.NoError(t, err)
	assert.True(t, resp.IsBlocking())
	assert.Contains(t, resp.Reason, "Waiting for user approval")

	resp, err = env.engine.HandleEvent(ctx, env.promptEvent("sess-1", "yes"), nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Context, "Approval granted")

	st = env.mustState(t, "sess-1")
	assert.False(t, st.ApprovalPending)
	assert.Equal(t, true, st.Variables["_approval_go_granted"])
}

func TestApprovalRejectionAndAmbiguity(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "release", releaseWorkflow)
	env.seedState(t, "sess-1", "release", "gate", nil)
	ctx := context.Background()

	_, err := env.engine.HandleEvent(ctx, env.promptEvent("sess-1", "go ahead?"), nil)
	require.NoError(t, err)
	require.True(t, env.mustState(t, "sess-1").ApprovalPending)

	// an unrelated reply re-surfaces the question
	resp, err := env.engine.HandleEvent(ctx, env.promptEvent("sess-1", "what color is the sky"), nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Context, "Proceed?")
	assert.True(t, env.mustState(t, "sess-1").ApprovalPending)

	resp, err = env.engine.HandleEvent(ctx, env.promptEvent("sess-1", "no."), nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Context, "Approval rejected")

	st := env.mustState(t, "sess-1")
	assert.False(t, st.ApprovalPending)
	assert.Equal(t, false, st.Variables["_approval_go_granted"])
}

func TestApprovalTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "release", releaseWorkflow)
	env.seedState(t, "sess-1", "release", "gate", nil)
	ctx := context.Background()

	_, err := env.engine.HandleEvent(ctx, env.promptEvent("sess-1", "release it"), nil)
	require.NoError(t, err)

	env.clock.Advance(2 * time.Minute)
	resp, err := env.engine.HandleEvent(ctx, env.promptEvent("sess-1", "anything"), nil)
	require.NoError(t, err)
	assert.Contains(t, resp.SystemMessage, "timed out")

	st := env.mustState(t, "sess-1")
	assert.False(t, st.ApprovalPending)
	assert.Equal(t, false, st.Variables["_approval_go_granted"])
}

func TestRequireApprovalRule(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "careful", `
name: careful
steps:
  - name: work
    rules:
      - name: push_guard
        when: '"git push" in command'
        action: require_approval
        message: "Push to remote?"
`)
	env.seedState(t, "sess-1", "careful", "work", nil)
	ctx := context.Background()

	event := env.toolEvent(hook.BeforeTool, "sess-1", "Bash", map[string]any{"command": "git push origin main"})
	resp, err := env.engine.HandleEvent(ctx, event, nil)
	require.NoError(t, err)
	assert.True(t, resp.IsBlocking())
	assert.Contains(t, resp.Reason, "Waiting for user approval: push_guard")

	st := env.mustState(t, "sess-1")
	assert.True(t, st.ApprovalPending)
	assert.Equal(t, "push_guard", st.ApprovalConditionID)
	assert.Equal(t, "Push to remote?", st.ApprovalPrompt)
}

func TestWorkflowToolRulesRunBeforeStepRules(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "locked", `
name: locked
tool_rules:
  - name: no_push
    when: '"git push" in command'
    action: block
    message: "Pushes are locked down"
steps:
  - name: work
    rules:
      - name: open_door
        action: allow
`)
	env.seedState(t, "sess-1", "locked", "work", nil)
	ctx := context.Background()

	// the step's allow rule cannot shadow a workflow-level block
	event := env.toolEvent(hook.BeforeTool, "sess-1", "Bash", map[string]any{"command": "git push origin main"})
	resp, err := env.engine.HandleEvent(ctx, event, nil)
	require.NoError(t, err)
	assert.True(t, resp.IsBlocking())
	assert.Equal(t, "Pushes are locked down", resp.Reason)

	event = env.toolEvent(hook.BeforeTool, "sess-1", "Bash", map[string]any{"command": "git status"})
	resp, err = env.engine.HandleEvent(ctx, event, nil)
	require.NoError(t, err)
	assert.False(t, resp.IsBlocking())
}

func TestStepTriggerConditionSeesEventContext(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "watcher", `
name: watcher
triggers:
  after_tool:
    - action: set_variable
      when: tool_name == "Bash"
      name: saw_bash
      value: "true"
    - action: set_variable
      when: gate
      name: gated
      value: "true"
steps:
  - name: work
`)
	env.seedState(t, "sess-1", "watcher", "work", map[string]any{"gate": false})
	ctx := context.Background()
	// session variables override state variables in trigger conditions
	require.NoError(t, env.store.SetSessionVariable(ctx, "sess-1", "gate", true))

	_, err := env.engine.HandleEvent(ctx, env.toolEvent(hook.AfterTool, "sess-1", "Read", nil), nil)
	require.NoError(t, err)
	st := env.mustState(t, "sess-1")
	assert.Nil(t, st.Variables["saw_bash"])
	assert.Equal(t, "true", st.Variables["gated"])

	_, err = env.engine.HandleEvent(ctx, env.toolEvent(hook.AfterTool, "sess-1", "Bash", nil), nil)
	require.NoError(t, err)
	assert.Equal(t, "true", env.mustState(t, "sess-1").Variables["saw_bash"])
}

func TestCheckRulesResolveThroughTiers(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "guarded", `
name: guarded
rule_definitions:
  no_force_push:
    tools: [Bash]
    command_pattern: "push\\s+--force"
    action: block
    reason: "Force pushes are not allowed"
steps:
  - name: work
    check_rules: [no_force_push, stored_rule]
`)
	env.seedState(t, "sess-1", "guarded", "work", nil)
	ctx := context.Background()

	// rules absent from the workflow come from the tiered DB store
	require.NoError(t, env.store.SaveRule(ctx, "stored_rule", state.TierUser, "", &definition.RuleDefinition{
		Tools:          []string{"Bash"},
		CommandPattern: "rm -rf",
		Action:         definition.RuleWarn,
		Reason:         "Careful with recursive deletes",
	}))

	event := env.toolEvent(hook.BeforeTool, "sess-1", "Bash", map[string]any{"command": "git push --force"})
	resp, err := env.engine.HandleEvent(ctx, event, nil)
	require.NoError(t, err)
	assert.True(t, resp.IsBlocking())
	assert.Equal(t, "Force pushes are not allowed", resp.Reason)

	event = env.toolEvent(hook.BeforeTool, "sess-1", "Bash", map[string]any{"command": "rm -rf build"})
	resp, err = env.engine.HandleEvent(ctx, event, nil)
	require.NoError(t, err)
	assert.False(t, resp.IsBlocking())
	assert.Equal(t, "Careful with recursive deletes", resp.SystemMessage)

	// a command that misses both patterns passes clean
	event = env.toolEvent(hook.BeforeTool, "sess-1", "Bash", map[string]any{"command": "git push"})
	resp, err = env.engine.HandleEvent(ctx, event, nil)
	require.NoError(t, err)
	assert.False(t, resp.IsBlocking())
	assert.Empty(t, resp.SystemMessage)
}

func TestTransitionChainWithinOneEvent(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "chain3", `
name: chain3
steps:
  - name: a
    transitions:
      - to: b
        when: go
  - name: b
    transitions:
      - to: c
        when: go
  - name: c
`)
	env.seedState(t, "sess-1", "chain3", "a", map[string]any{"go": true})

	_, err := env.engine.HandleEvent(context.Background(), env.toolEvent(hook.AfterTool, "sess-1", "Read", nil), nil)
	require.NoError(t, err)
	assert.Equal(t, "c", env.mustState(t, "sess-1").Step)
}

func TestTransitionChainDepthBounded(t *testing.T) {
	env := newTestEnv(t)
	var b strings.Builder
	b.WriteString("name: deep\nsteps:\n")
	for i := 0; i <= 11; i++ {
		fmt.Fprintf(&b, "  - name: s%d\n", i)
		if i < 11 {
			fmt.Fprintf(&b, "    transitions:\n      - to: s%d\n        when: go\n", i+1)
		}
	}
	env.writeWorkflow(t, "deep", b.String())
	env.seedState(t, "sess-1", "deep", "s0", map[string]any{"go": true})

	_, err := env.engine.HandleEvent(context.Background(), env.toolEvent(hook.AfterTool, "sess-1", "Read", nil), nil)
	require.NoError(t, err)
	// ten hops, then the chain stops short of the final step
	assert.Equal(t, "s10", env.mustState(t, "sess-1").Step)
}

func TestWorkflowCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "oneshot", `
name: oneshot
steps:
  - name: only
    exit_when: done
`)
	env.seedState(t, "sess-1", "oneshot", "only", map[string]any{"done": true, "carry": "over"})

	resp, err := env.engine.HandleEvent(context.Background(), env.toolEvent(hook.AfterTool, "sess-1", "Read", nil), nil)
	require.NoError(t, err)
	assert.Equal(t, "Workflow 'oneshot' complete", resp.SystemMessage)

	st := env.mustState(t, "sess-1")
	assert.Equal(t, state.EndedWorkflow, st.WorkflowName)
	assert.Empty(t, st.Step)
	assert.Equal(t, "over", st.Variables["carry"])
}

func TestStuckSessionForcedToReflect(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "dev", `
name: dev
stuck_timeout_minutes: 10
steps:
  - name: implement
  - name: reflect
`)
	env.seedState(t, "sess-1", "dev", "implement", nil)
	env.clock.Advance(15 * time.Minute)

	resp, err := env.engine.HandleEvent(context.Background(), env.toolEvent(hook.AfterTool, "sess-1", "Read", nil), nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Context, "You have been in step 'implement' for 15 minutes")
	assert.Equal(t, "reflect", env.mustState(t, "sess-1").Step)
}

func TestSessionVariableOverridesWorkflowVariable(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "flow", `
name: flow
steps:
  - name: a
    transitions:
      - to: b
        when: ready
  - name: b
`)
	env.seedState(t, "sess-1", "flow", "a", map[string]any{"ready": false})
	ctx := context.Background()
	require.NoError(t, env.store.SetSessionVariable(ctx, "sess-1", "ready", true))

	_, err := env.engine.HandleEvent(ctx, env.toolEvent(hook.AfterTool, "sess-1", "Read", nil), nil)
	require.NoError(t, err)
	assert.Equal(t, "b", env.mustState(t, "sess-1").Step)
}

func TestMCPCallTracking(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "dev", devWorkflow)
	env.seedState(t, "sess-1", "dev", "implement", nil)
	ctx := context.Background()

	event := env.event(hook.AfterTool, "sess-1", map[string]any{
		"tool_name":   "mcp__gobby-tasks__claim_task",
		"tool_input":  map[string]any{"task_id": "T-7"},
		"tool_output": map[string]any{"status": "claimed"},
	})
	_, err := env.engine.HandleEvent(ctx, event, nil)
	require.NoError(t, err)

	st := env.mustState(t, "sess-1")
	calls := st.Variables["mcp_calls"].(map[string]any)
	assert.Equal(t, []any{"claim_task"}, calls["gobby-tasks"])
	results := st.Variables["mcp_results"].(map[string]any)
	assert.Contains(t, results["gobby-tasks"].(map[string]any), "claim_task")
	assert.Equal(t, true, st.Variables["task_claimed"])
	assert.Equal(t, "T-7", st.Variables["claimed_task_id"])

	// a failed call lands in mcp_errors instead
	event = env.event(hook.AfterTool, "sess-1", map[string]any{
		"tool_name":   "mcp__gobby-tasks__list_tasks",
		"tool_output": map[string]any{"isError": true},
	})
	_, err = env.engine.HandleEvent(ctx, event, nil)
	require.NoError(t, err)

	st = env.mustState(t, "sess-1")
	errs := st.Variables["mcp_errors"].(map[string]any)
	assert.Equal(t, []any{"list_tasks"}, errs["gobby-tasks"])
}

func TestActivateWorkflow(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "feature", `
name: feature
variables:
  b: 2
  c: 2
steps:
  - name: plan
    status_message: "planning"
    on_enter:
      - action: inject_context
        content: "Start planning"
  - name: implement
`)
	ctx := context.Background()

	// lifecycle variables from an earlier run survive activation,
	// workflow defaults shadow them, caller values win
	sentinel := state.NewWorkflowState("sess-1", state.LifecycleWorkflow)
	sentinel.Variables["a"] = 1
	sentinel.Variables["b"] = 1
	sentinel.Variables["c"] = 1
	require.NoError(t, env.store.SaveState(ctx, sentinel))

	act, err := env.engine.ActivateWorkflow(ctx, "sess-1", "feature", env.project, map[string]any{"c": 3})
	require.NoError(t, err)
	assert.Equal(t, "feature", act.WorkflowName)
	assert.Equal(t, "plan", act.Step)
	assert.Contains(t, act.Context, "Start planning")
	assert.Equal(t, "planning", act.SystemMessage)

	st := env.mustState(t, "sess-1")
	assert.Equal(t, "plan", st.Step)
	assert.Equal(t, float64(1), st.Variables["a"])
	assert.Equal(t, 2, st.Variables["b"])
	assert.Equal(t, 3, st.Variables["c"])

	inst, err := env.store.GetInstance(ctx, "sess-1", "feature")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.True(t, inst.Enabled)

	// a second activation on the same session is rejected
	_, err = env.engine.ActivateWorkflow(ctx, "sess-1", "feature", env.project, nil)
	require.Error(t, err)
}

func TestActivateWorkflowRejectsAlwaysOn(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "guard", `
name: guard
enabled: true
steps:
  - name: only
`)
	ctx := context.Background()

	_, err := env.engine.ActivateWorkflow(ctx, "sess-1", "guard", env.project, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "always-on")

	st, err := env.store.GetState(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestDeactivateWorkflow(t *testing.T) {
	env := newTestEnv(t)
	env.writeWorkflow(t, "dev", devWorkflow)
	env.seedState(t, "sess-1", "dev", "plan", map[string]any{"keep": "me"})
	ctx := context.Background()

	require.NoError(t, env.engine.DeactivateWorkflow(ctx, "sess-1"))
	st := env.mustState(t, "sess-1")
	assert.Equal(t, state.EndedWorkflow, st.WorkflowName)
	assert.Equal(t, "me", st.Variables["keep"])

	assert.ErrorIs(t, env.engine.DeactivateWorkflow(ctx, "ghost"), state.ErrSessionNotFound)
}
