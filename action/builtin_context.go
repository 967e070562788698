package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// registerBuiltins installs the built-in action catalog.
func registerBuiltins(r *Registry) {
	r.Register("inject_context", actionInjectContext)
	r.Register("inject_message", actionInjectMessage)
	r.Register("restore_context", actionRestoreContext)
	r.Register("capture_artifact", actionCaptureArtifact)
	r.Register("read_artifact", actionReadArtifact)
	r.Register("load_workflow_state", actionLoadWorkflowState)
	r.Register("save_workflow_state", actionSaveWorkflowState)
	r.Register("set_variable", actionSetVariable)
	r.Register("increment_variable", actionIncrementVariable)
	r.Register("call_llm", actionCallLLM)
	r.Register("synthesize_title", actionSynthesizeTitle)
	r.Register("write_todos", actionWriteTodos)
	r.Register("mark_todo_complete", actionMarkTodoComplete)
	r.Register("persist_tasks", actionPersistTasks)
	r.Register("call_mcp_tool", actionCallMCPTool)
	r.Register("generate_summary", actionGenerateSummary)
	r.Register("generate_handoff", actionGenerateHandoff)
	r.Register("extract_handoff_context", actionExtractHandoffContext)
	r.Register("mark_session_status", actionMarkSessionStatus)
	r.Register("switch_mode", actionSwitchMode)
	r.Register("memory_inject", actionMemoryInject)
	r.Register("memory_extract", actionMemoryExtract)
	r.Register("skills_learn", actionSkillsLearn)
	r.Register("memory.sync_import", actionMemorySyncImport)
	r.Register("memory.sync_export", actionMemorySyncExport)
	r.Register("start_new_session", actionStartNewSession)
	r.Register("mark_loop_complete", actionMarkLoopComplete)
}

// actionInjectContext pulls content from a named source and returns it as
// injected context, optionally rendered through a template.
func actionInjectContext(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	source := stringParam(params, "source")
	content, err := resolveContextSource(ctx, ac, source, params)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, nil
	}
	if tmpl := stringParam(params, "template"); tmpl != "" {
		rctx := ac.RenderContext()
		rctx["content"] = content
		content, err = ac.Renderer.Render(tmpl, rctx)
		if err != nil {
			return nil, err
		}
	}
	return &Result{InjectContext: content}, nil
}

func resolveContextSource(ctx context.Context, ac *Context, source string, params map[string]any) (string, error) {
	switch source {
	case "", "content":
		return stringParam(params, "content"), nil
	case "previous_session_summary":
		return previousSessionSummary(ctx, ac)
	case "handoff":
		return sessionField(ctx, ac, func(s *Session) string { return s.Summary })
	case "compact_handoff":
		return sessionField(ctx, ac, func(s *Session) string { return s.CompactMarkdown })
	case "artifacts":
		return renderArtifacts(ac), nil
	case "observations":
		return renderObservations(ac), nil
	case "workflow_state":
		return renderWorkflowState(ac)
	}
	return "", fmt.Errorf("unknown context source %q", source)
}

func previousSessionSummary(ctx context.Context, ac *Context) (string, error) {
	if ac.Sessions == nil {
		return "", fmt.Errorf("session manager not available")
	}
	current, err := ac.Sessions.Get(ctx, ac.SessionID)
	if err != nil || current == nil || current.ParentID == "" {
		return "", err
	}
	parent, err := ac.Sessions.Get(ctx, current.ParentID)
	if err != nil || parent == nil {
		return "", err
	}
	return parent.Summary, nil
}

func sessionField(ctx context.Context, ac *Context, pick func(*Session) string) (string, error) {
	if ac.Sessions == nil {
		return "", fmt.Errorf("session manager not available")
	}
	s, err := ac.Sessions.Get(ctx, ac.SessionID)
	if err != nil || s == nil {
		return "", err
	}
	return pick(s), nil
}

func renderArtifacts(ac *Context) string {
	if ac.State == nil {
		return ""
	}
	artifacts, _ := ac.State.Var("artifacts").(map[string]any)
	if len(artifacts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Artifacts\n")
	for name, path := range artifacts {
		fmt.Fprintf(&b, "- %s: %v\n", name, path)
	}
	return b.String()
}

func renderObservations(ac *Context) string {
	if ac.State == nil || len(ac.State.Observations) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Observations\n")
	for _, obs := range ac.State.Observations {
		fmt.Fprintf(&b, "- %v\n", obs)
	}
	return b.String()
}

func renderWorkflowState(ac *Context) (string, error) {
	if ac.State == nil {
		return "", nil
	}
	snapshot := map[string]any{
		"workflow":  ac.State.WorkflowName,
		"step":      ac.State.Step,
		"variables": ac.State.Variables,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", err
	}
	return "## Workflow State\n```json\n" + string(data) + "\n```", nil
}

// actionInjectMessage renders a template with the full action context and
// returns it as a user-visible message.
func actionInjectMessage(_ context.Context, ac *Context, params map[string]any) (*Result, error) {
	content := stringParam(params, "content")
	if content == "" {
		content = stringParam(params, "message")
	}
	rendered, err := ac.Renderer.Render(content, ac.RenderContext())
	if err != nil {
		return nil, err
	}
	return &Result{InjectMessage: rendered}, nil
}

// actionRestoreContext pulls the parent session's summary through an
// optional template.
func actionRestoreContext(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	summary, err := previousSessionSummary(ctx, ac)
	if err != nil {
		return nil, err
	}
	if summary == "" {
		return nil, nil
	}
	if tmpl := stringParam(params, "template"); tmpl != "" {
		rctx := ac.RenderContext()
		rctx["summary"] = summary
		summary, err = ac.Renderer.Render(tmpl, rctx)
		if err != nil {
			return nil, err
		}
	}
	return &Result{InjectContext: summary}, nil
}
