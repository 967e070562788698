package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/gobby/engine"
	"github.com/GoCodeAlone/gobby/loader"
	"github.com/GoCodeAlone/gobby/state"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ld := loader.New(loader.WithUserDir(t.TempDir()))
	eng := engine.New(ld, store)
	project := t.TempDir()
	dir := filepath.Join(project, ".gobby", "workflows")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.yaml"), []byte(`
name: feature
steps:
  - name: plan
  - name: implement
`), 0o644))

	return NewServer(eng, ld, store, nil), project
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func TestListWorkflows(t *testing.T) {
	s, project := newTestServer(t)
	res, err := s.handleListWorkflows(context.Background(), toolRequest(map[string]any{
		"project_path": project,
	}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	workflows := out["workflows"].([]any)
	require.Len(t, workflows, 1)
	wf := workflows[0].(map[string]any)
	assert.Equal(t, "feature", wf["name"])
	assert.Equal(t, false, wf["always_on"])
}

func TestActivateAndStatusRoundTrip(t *testing.T) {
	s, project := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleActivateWorkflow(ctx, toolRequest(map[string]any{
		"session_id":   "sess-1",
		"workflow":     "feature",
		"project_path": project,
		"variables":    map[string]any{"ticket": "T-9"},
	}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "plan", out["step"])

	res, err = s.handleWorkflowStatus(ctx, toolRequest(map[string]any{"session_id": "sess-1"}))
	require.NoError(t, err)
	out = resultJSON(t, res)
	assert.Equal(t, true, out["active"])
	assert.Equal(t, "feature", out["workflow"])
	vars := out["variables"].(map[string]any)
	assert.Equal(t, "T-9", vars["ticket"])

	res, err = s.handleDeactivateWorkflow(ctx, toolRequest(map[string]any{"session_id": "sess-1"}))
	require.NoError(t, err)
	assert.Equal(t, true, resultJSON(t, res)["success"])

	res, err = s.handleWorkflowStatus(ctx, toolRequest(map[string]any{"session_id": "sess-1"}))
	require.NoError(t, err)
	assert.Equal(t, false, resultJSON(t, res)["active"])
}

func TestSetAndGetVariables(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleSetVariable(ctx, toolRequest(map[string]any{
		"session_id": "sess-1",
		"name":       "focus",
		"value":      "true",
	}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, true, out["value"])

	res, err = s.handleGetVariables(ctx, toolRequest(map[string]any{"session_id": "sess-1"}))
	require.NoError(t, err)
	vars := resultJSON(t, res)["variables"].(map[string]any)
	assert.Equal(t, true, vars["focus"])
}

func TestHandlersRejectMissingArguments(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleWorkflowStatus(ctx, toolRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleActivateWorkflow(ctx, toolRequest(map[string]any{"session_id": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestCoerceScalar(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"False", false},
		{"null", nil},
		{"7", 7},
		{"2.5", 2.5},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, coerceScalar(tt.in), "input %q", tt.in)
	}
}
