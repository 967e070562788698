package action

import (
	"context"
	"fmt"
)

// actionCallMCPTool proxies a call to a named MCP server, optionally binding
// the result to a variable.
func actionCallMCPTool(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	if ac.MCP == nil {
		return nil, fmt.Errorf("mcp proxy not available")
	}
	server, err := requireStringParam(params, "server")
	if err != nil {
		return nil, err
	}
	tool, err := requireStringParam(params, "tool")
	if err != nil {
		return nil, err
	}

	args := mapParam(params, "args")
	// render string arguments so YAML can reference state variables
	if len(args) > 0 {
		rctx := ac.RenderContext()
		rendered := make(map[string]any, len(args))
		for k, v := range args {
			if s, ok := v.(string); ok {
				out, err := ac.Renderer.Render(s, rctx)
				if err != nil {
					return nil, err
				}
				rendered[k] = out
				continue
			}
			rendered[k] = v
		}
		args = rendered
	}

	out, err := ac.MCP.CallTool(ctx, server, tool, args)
	if err != nil {
		return nil, fmt.Errorf("mcp call %s/%s: %w", server, tool, err)
	}
	if into := stringParam(params, "into"); into != "" {
		result := &Result{}
		result.SetVar(into, out)
		return result, nil
	}
	return nil, nil
}

// actionMarkSessionStatus sets the session status on the session manager.
func actionMarkSessionStatus(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	if ac.Sessions == nil {
		return nil, fmt.Errorf("session manager not available")
	}
	status, err := requireStringParam(params, "status")
	if err != nil {
		return nil, err
	}
	return nil, ac.Sessions.UpdateStatus(ctx, ac.SessionID, status)
}

// actionSwitchMode records a mode change as a variable and a user-visible
// status line.
func actionSwitchMode(_ context.Context, _ *Context, params map[string]any) (*Result, error) {
	mode, err := requireStringParam(params, "mode")
	if err != nil {
		return nil, err
	}
	result := &Result{SystemMessage: "Switched to " + mode + " mode"}
	result.SetVar("mode", mode)
	return result, nil
}

// actionStartNewSession spawns an assistant child process with a prompt.
func actionStartNewSession(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	if ac.Spawner == nil {
		return nil, fmt.Errorf("session spawner not available")
	}
	prompt, err := requireStringParam(params, "prompt")
	if err != nil {
		return nil, err
	}
	rendered, err := ac.Renderer.Render(prompt, ac.RenderContext())
	if err != nil {
		return nil, err
	}
	childID, err := ac.Spawner.SpawnSession(ctx, rendered,
		stringParam(params, "workflow"), stringParam(params, "source"))
	if err != nil {
		return nil, fmt.Errorf("spawn session: %w", err)
	}
	result := &Result{}
	result.SetVar("spawned_session_id", childID)
	return result, nil
}

// actionSkillsLearn delegates to the skill learner over the session
// transcript.
func actionSkillsLearn(ctx context.Context, ac *Context, _ map[string]any) (*Result, error) {
	if ac.Skills == nil {
		return nil, fmt.Errorf("skill learner not available")
	}
	return nil, ac.Skills.LearnFromTranscript(ctx, ac.SessionID)
}
