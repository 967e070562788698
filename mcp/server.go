// Package mcp exposes gobby's workflow controls to AI assistants as a Model
// Context Protocol server: activating and inspecting workflows, setting
// session variables, and listing what is available for the current project.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/GoCodeAlone/gobby/engine"
	"github.com/GoCodeAlone/gobby/loader"
	"github.com/GoCodeAlone/gobby/state"
)

// Version is the MCP server version, set at build time.
var Version = "dev"

// Server wraps an MCP server instance with gobby's workflow tools.
type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
	loader    *loader.Loader
	store     *state.Store
	logger    *slog.Logger
}

// NewServer creates the gobby MCP server with all workflow tools
// registered.
func NewServer(eng *engine.Engine, ld *loader.Loader, store *state.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine: eng,
		loader: ld,
		store:  store,
		logger: logger,
	}
	s.mcpServer = server.NewMCPServer(
		"gobby-workflow",
		Version,
		server.WithToolCapabilities(true),
		server.WithInstructions("This MCP server controls gobby workflows for the current "+
			"session: activate an on-demand workflow, inspect the current step and "+
			"variables, or set variables the workflow's conditions read."),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying server, for embedding into other
// transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the MCP server over standard input/output.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("list_workflows",
			mcp.WithDescription("List workflows discovered for a project: name, whether each is always-on (lifecycle) or on-demand, and its priority."),
			mcp.WithString("project_path",
				mcp.Required(),
				mcp.Description("Absolute path of the project directory"),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("activate_workflow",
			mcp.WithDescription("Activate an on-demand workflow for a session. Fails for always-on workflows. Returns the entered step and any injected guidance."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to activate the workflow for")),
			mcp.WithString("workflow", mcp.Required(), mcp.Description("Workflow name")),
			mcp.WithString("project_path", mcp.Required(), mcp.Description("Absolute path of the project directory")),
			mcp.WithObject("variables", mcp.Description("Initial variable overrides")),
		),
		s.handleActivateWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("deactivate_workflow",
			mcp.WithDescription("Clear the session's active workflow. Lifecycle variables are preserved."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to clear")),
		),
		s.handleDeactivateWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("workflow_status",
			mcp.WithDescription("Report the session's active workflow, current step, and variables."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to inspect")),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleWorkflowStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("set_variable",
			mcp.WithDescription("Set a session variable. Session variables override workflow state variables in trigger, rule, and transition conditions."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to update")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Variable name")),
			mcp.WithString("value", mcp.Required(), mcp.Description("Variable value; true/false/null and numbers are coerced")),
		),
		s.handleSetVariable,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_variables",
			mcp.WithDescription("Return the session's variables: workflow state variables with session-variable overrides applied."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to inspect")),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleGetVariables,
	)
}

func (s *Server) handleListWorkflows(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectPath := mcp.ParseString(req, "project_path", "")
	if projectPath == "" {
		return mcp.NewToolResultError("project_path is required"), nil
	}
	discovered, err := s.loader.Discover(projectPath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("discovery failed: %v", err)), nil
	}
	items := make([]map[string]any, 0, len(discovered))
	for _, dw := range discovered {
		items = append(items, map[string]any{
			"name":      dw.Name,
			"always_on": dw.Definition.Enabled,
			"priority":  dw.Priority,
			"project":   dw.IsProject,
			"steps":     len(dw.Definition.Steps),
		})
	}
	return marshalToolResult(map[string]any{"workflows": items})
}

func (s *Server) handleActivateWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	workflow := mcp.ParseString(req, "workflow", "")
	projectPath := mcp.ParseString(req, "project_path", "")
	if sessionID == "" || workflow == "" || projectPath == "" {
		return mcp.NewToolResultError("session_id, workflow, and project_path are required"), nil
	}
	var vars map[string]any
	if raw, ok := req.GetArguments()["variables"]; ok && raw != nil {
		vars, _ = raw.(map[string]any)
	}

	act, err := s.engine.ActivateWorkflow(ctx, sessionID, workflow, projectPath, vars)
	if err != nil {
		return marshalToolResult(map[string]any{
			"success": false,
			"error":   err.Error(),
		})
	}
	return marshalToolResult(map[string]any{
		"success":        true,
		"workflow":       act.WorkflowName,
		"step":           act.Step,
		"context":        act.Context,
		"system_message": act.SystemMessage,
	})
}

func (s *Server) handleDeactivateWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if err := s.engine.DeactivateWorkflow(ctx, sessionID); err != nil {
		return marshalToolResult(map[string]any{"success": false, "error": err.Error()})
	}
	return marshalToolResult(map[string]any{"success": true})
}

func (s *Server) handleWorkflowStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	st, err := s.engine.WorkflowStatus(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status lookup failed: %v", err)), nil
	}
	if st == nil || st.IsSentinel() {
		return marshalToolResult(map[string]any{"active": false})
	}
	return marshalToolResult(map[string]any{
		"active":           true,
		"workflow":         st.WorkflowName,
		"step":             st.Step,
		"variables":        st.Variables,
		"approval_pending": st.ApprovalPending,
		"disabled":         st.Disabled,
	})
}

func (s *Server) handleSetVariable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	name := mcp.ParseString(req, "name", "")
	if sessionID == "" || name == "" {
		return mcp.NewToolResultError("session_id and name are required"), nil
	}
	value := coerceScalar(mcp.ParseString(req, "value", ""))
	if err := s.store.SetSessionVariable(ctx, sessionID, name, value); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("set variable failed: %v", err)), nil
	}
	return marshalToolResult(map[string]any{"success": true, "name": name, "value": value})
}

func (s *Server) handleGetVariables(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	vars := make(map[string]any)
	if st, err := s.store.GetState(ctx, sessionID); err == nil && st != nil {
		for k, v := range st.Variables {
			vars[k] = v
		}
	}
	overrides, err := s.store.SessionVariables(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("load session variables: %v", err)), nil
	}
	for k, v := range overrides {
		vars[k] = v
	}
	return marshalToolResult(map[string]any{"variables": vars})
}

func marshalToolResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// coerceScalar interprets a string argument the way observer set-values are
// interpreted: booleans, null, and numbers become typed values.
func coerceScalar(s string) any {
	switch s {
	case "true", "True":
		return true
	case "false", "False":
		return false
	case "null", "none", "None":
		return nil
	}
	var n json.Number
	if err := json.Unmarshal([]byte(s), &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return s
}
