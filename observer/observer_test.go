package observer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/gobby/definition"
	"github.com/GoCodeAlone/gobby/hook"
	"github.com/GoCodeAlone/gobby/state"
)

func afterToolEvent(tool string, data map[string]any) *hook.Event {
	if data == nil {
		data = map[string]any{}
	}
	data["tool_name"] = tool
	return &hook.Event{Type: hook.AfterTool, Data: data}
}

func TestApplySetVariables(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	st := state.NewWorkflowState("sess-1", "dev")
	st.Variables["count"] = 1

	observers := []definition.Observer{
		{On: "after_tool", Set: map[string]string{"edited": "true"}},
		{On: "before_tool", Set: map[string]string{"never": "true"}},
	}
	updates := e.Apply(context.Background(), observers, afterToolEvent("Edit", nil), st)
	assert.Equal(t, map[string]any{"edited": true}, updates)
}

func TestApplyMatchFilters(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	st := state.NewWorkflowState("sess-1", "dev")

	observers := []definition.Observer{
		{
			On:    "after_tool",
			Match: &definition.ObserverMatch{Tool: "Bash"},
			Set:   map[string]string{"ran_bash": "true"},
		},
		{
			On:    "after_tool",
			Match: &definition.ObserverMatch{MCPServer: "gobby-tasks", MCPTool: "claim_task"},
			Set:   map[string]string{"claimed": "true"},
		},
	}

	updates := e.Apply(context.Background(), observers, afterToolEvent("Edit", nil), st)
	assert.Empty(t, updates)

	updates = e.Apply(context.Background(), observers, afterToolEvent("Bash", nil), st)
	assert.Equal(t, map[string]any{"ran_bash": true}, updates)

	mcpEvent := afterToolEvent("mcp__gobby-tasks__claim_task", nil)
	updates = e.Apply(context.Background(), observers, mcpEvent, st)
	assert.Equal(t, map[string]any{"claimed": true}, updates)
}

func TestApplyRendersAgainstVariablesAndEventData(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	st := state.NewWorkflowState("sess-1", "dev")
	st.Variables["branch"] = "main"

	observers := []definition.Observer{
		{On: "after_tool", Set: map[string]string{
			"last_branch": "{{ variables.branch }}",
			"last_file":   "{{ event_data.file_path }}",
		}},
	}
	event := afterToolEvent("Edit", map[string]any{"file_path": "main.go"})
	updates := e.Apply(context.Background(), observers, event, st)
	assert.Equal(t, "main", updates["last_branch"])
	assert.Equal(t, "main.go", updates["last_file"])
}

func TestApplyPendingUpdatesVisibleToLaterObservers(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	st := state.NewWorkflowState("sess-1", "dev")

	observers := []definition.Observer{
		{On: "after_tool", Set: map[string]string{"first": "42"}},
		{On: "after_tool", Set: map[string]string{"second": "{{ variables.first }}"}},
	}
	updates := e.Apply(context.Background(), observers, afterToolEvent("Edit", nil), st)
	assert.Equal(t, 42, updates["first"])
	assert.Equal(t, 42, updates["second"])
}

func TestApplyBehaviorObserver(t *testing.T) {
	reg := NewBehaviorRegistry()
	var gotArgs map[string]any
	reg.Register("track_files", func(_ context.Context, event *hook.Event, st *state.WorkflowState, args map[string]any) error {
		gotArgs = args
		st.FilesModifiedThisTask = append(st.FilesModifiedThisTask, "main.go")
		return nil
	})
	e := NewEngine(nil, reg, nil)
	st := state.NewWorkflowState("sess-1", "dev")

	observers := []definition.Observer{
		{On: "after_tool", Behavior: "track_files", Args: map[string]any{"glob": "*.go"}},
	}
	updates := e.Apply(context.Background(), observers, afterToolEvent("Edit", nil), st)
	assert.Empty(t, updates)
	assert.Equal(t, map[string]any{"glob": "*.go"}, gotArgs)
	assert.Equal(t, []string{"main.go"}, st.FilesModifiedThisTask)
}

func TestApplySurvivesBehaviorPanicAndError(t *testing.T) {
	reg := NewBehaviorRegistry()
	reg.Register("boom", func(context.Context, *hook.Event, *state.WorkflowState, map[string]any) error {
		panic("boom")
	})
	reg.Register("fail", func(context.Context, *hook.Event, *state.WorkflowState, map[string]any) error {
		return errors.New("nope")
	})
	e := NewEngine(nil, reg, nil)
	st := state.NewWorkflowState("sess-1", "dev")

	observers := []definition.Observer{
		{On: "after_tool", Behavior: "boom"},
		{On: "after_tool", Behavior: "fail"},
		{On: "after_tool", Behavior: "missing"},
		{On: "after_tool", Set: map[string]string{"alive": "true"}},
	}
	updates := e.Apply(context.Background(), observers, afterToolEvent("Edit", nil), st)
	assert.Equal(t, map[string]any{"alive": true}, updates)
}

func TestBehaviorRegistryProtectsBuiltins(t *testing.T) {
	reg := NewBehaviorRegistry()
	noop := func(context.Context, *hook.Event, *state.WorkflowState, map[string]any) error { return nil }

	reg.Register("builtin", noop)
	assert.Panics(t, func() { reg.Register("builtin", noop) })

	err := reg.RegisterPluginBehavior("builtin", noop)
	require.Error(t, err)

	require.NoError(t, reg.RegisterPluginBehavior("custom", noop))
	_, ok := reg.Get("custom")
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"builtin", "custom"}, reg.Names())
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"False", false},
		{"null", nil},
		{"none", nil},
		{"42", 42},
		{"3.5", 3.5},
		{" 7 ", 7},
		{"hello", "hello"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CoerceValue(tt.in), "input %q", tt.in)
	}
}
