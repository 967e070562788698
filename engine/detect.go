package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/gobby/definition"
	"github.com/GoCodeAlone/gobby/hook"
	"github.com/GoCodeAlone/gobby/state"
)

// Tool names the detection helpers key on.
const (
	enterPlanModeTool = "EnterPlanMode"
	exitPlanModeTool  = "ExitPlanMode"
	tasksMCPServer    = "gobby-tasks"
)

// fileEditTools are the native tools that modify project files.
var fileEditTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

// afterTool updates counters and runs the detection helpers after a tool
// call completes: plan-mode tools, file modifications, task claims through
// the tasks MCP server, and MCP call tracking.
func (e *Engine) afterTool(ctx context.Context, wf *definition.WorkflowDefinition, step *definition.WorkflowStep, st *state.WorkflowState, event *hook.Event, resp *hook.Response) {
	st.StepActionCount++
	st.TotalActionCount++

	tool := event.ToolName()
	updates := make(map[string]any)

	switch tool {
	case enterPlanModeTool:
		updates["plan_mode"] = true
	case exitPlanModeTool:
		updates["plan_mode"] = false
	}

	if fileEditTools[tool] {
		if path := toolInputString(event, "file_path"); path != "" {
			st.FilesModifiedThisTask = appendUnique(st.FilesModifiedThisTask, path)
		}
	}

	if event.IsMCPToolCall() {
		e.trackMCPCall(ctx, wf, step, st, event, updates, resp)
	}

	e.applyVars(ctx, st, updates)
}

// trackMCPCall records the call in the per-server tracking tables, detects
// task claims on the tasks server, and fires the step's on_mcp_success /
// on_mcp_error hooks.
func (e *Engine) trackMCPCall(ctx context.Context, wf *definition.WorkflowDefinition, step *definition.WorkflowStep, st *state.WorkflowState, event *hook.Event, updates map[string]any, resp *hook.Response) {
	server, tool := event.MCPServer(), event.MCPTool()
	failed := mcpCallFailed(event)

	calls := copyServerTable(st.Variables, "mcp_calls")
	calls[server] = appendUniqueAny(asList(calls[server]), tool)
	updates["mcp_calls"] = calls

	if failed {
		errs := copyServerTable(st.Variables, "mcp_errors")
		errs[server] = appendUniqueAny(asList(errs[server]), tool)
		updates["mcp_errors"] = errs
	} else {
		results := copyServerTable(st.Variables, "mcp_results")
		byServer, _ := results[server].(map[string]any)
		if byServer == nil {
			byServer = make(map[string]any)
		}
		byServer[tool] = event.Data["tool_output"]
		results[server] = byServer
		updates["mcp_results"] = results
	}

	if server == tasksMCPServer && !failed {
		e.detectTaskClaim(ctx, st, tool, event, updates)
	}

	for k, v := range updates {
		st.SetVar(k, v)
	}
	if failed {
		e.runActions(ctx, wf, st, event, step.OnMCPError, nil, resp)
	} else {
		e.runActions(ctx, wf, st, event, step.OnMCPSuccess, nil, resp)
	}
}

// detectTaskClaim flags the session as owning a task when the agent claims
// one through the tasks server, and clears the flag when the task closes.
func (e *Engine) detectTaskClaim(ctx context.Context, st *state.WorkflowState, tool string, event *hook.Event, updates map[string]any) {
	input, _ := event.Data["tool_input"].(map[string]any)
	switch tool {
	case "claim_task":
		updates["task_claimed"] = true
		if id := taskIDFrom(input, event); id != "" {
			updates["claimed_task_id"] = id
			e.linkTask(ctx, st, id)
		}
	case "create_task", "update_task":
		status, _ := input["status"].(string)
		if status == "in_progress" {
			updates["task_claimed"] = true
			if id := taskIDFrom(input, event); id != "" {
				updates["claimed_task_id"] = id
				e.linkTask(ctx, st, id)
			}
		}
	case "close_task", "complete_task":
		updates["task_claimed"] = false
		updates["claimed_task_id"] = ""
	}
}

func (e *Engine) linkTask(ctx context.Context, st *state.WorkflowState, taskID string) {
	if e.collab.Tasks == nil {
		return
	}
	if err := e.collab.Tasks.LinkTaskToSession(ctx, taskID, st.SessionID); err != nil {
		e.logger.Warn("link task to session", "task", taskID, "session", st.SessionID, "error", err)
	}
}

// taskIDFrom pulls the task id from the tool input or, failing that, the
// tool output.
func taskIDFrom(input map[string]any, event *hook.Event) string {
	for _, key := range []string{"task_id", "id"} {
		if id := anyString(input[key]); id != "" {
			return id
		}
	}
	if out, ok := event.Data["tool_output"].(map[string]any); ok {
		for _, key := range []string{"task_id", "id"} {
			if id := anyString(out[key]); id != "" {
				return id
			}
		}
	}
	return ""
}

// mcpCallFailed reports whether the completed MCP call errored, from either
// the event's error field or the MCP result's isError flag.
func mcpCallFailed(event *hook.Event) bool {
	if errVal, ok := event.Data["error"]; ok && errVal != nil && errVal != "" {
		return true
	}
	if out, ok := event.Data["tool_output"].(map[string]any); ok {
		if isErr, ok := out["isError"].(bool); ok && isErr {
			return true
		}
	}
	return false
}

// Plan-mode reminder phrases, recognized only inside system-reminder tags.
const (
	planModeActive      = "Plan mode is active"
	planModeStillActive = "Plan mode still active"
	planModeExited      = "Exited Plan Mode"
)

// detectPlanModeReminder scans system-reminder blocks in the prompt for
// plan-mode state notices. Returns nil when the prompt says nothing about
// plan mode.
func detectPlanModeReminder(prompt string) map[string]any {
	rest := prompt
	var update map[string]any
	for {
		start := strings.Index(rest, "<system-reminder>")
		if start < 0 {
			return update
		}
		rest = rest[start+len("<system-reminder>"):]
		end := strings.Index(rest, "</system-reminder>")
		if end < 0 {
			return update
		}
		body := rest[:end]
		rest = rest[end:]
		switch {
		case strings.Contains(body, planModeActive), strings.Contains(body, planModeStillActive):
			update = map[string]any{"plan_mode": true}
		case strings.Contains(body, planModeExited):
			update = map[string]any{"plan_mode": false}
		}
	}
}

func toolInputString(event *hook.Event, key string) string {
	input, _ := event.Data["tool_input"].(map[string]any)
	return anyString(input[key])
}

func anyString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asList(v any) []any {
	list, _ := v.([]any)
	return list
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

func appendUniqueAny(list []any, item any) []any {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

// copyServerTable shallow-copies a per-server tracking table so the update
// merges as a whole value.
func copyServerTable(vars map[string]any, key string) map[string]any {
	out := make(map[string]any)
	if table, ok := vars[key].(map[string]any); ok {
		for k, v := range table {
			out[k] = v
		}
	}
	return out
}
