package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// actionCaptureArtifact resolves a glob relative to the project and stores
// the first match under state.artifacts[as].
func actionCaptureArtifact(_ context.Context, ac *Context, params map[string]any) (*Result, error) {
	pattern, err := requireStringParam(params, "glob")
	if err != nil {
		return nil, err
	}
	as, err := requireStringParam(params, "as")
	if err != nil {
		return nil, err
	}

	matches, err := doublestar.Glob(os.DirFS(ac.ProjectPath), pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	artifacts, _ := ac.State.Var("artifacts").(map[string]any)
	if artifacts == nil {
		artifacts = make(map[string]any)
	}
	artifacts[as] = matches[0]

	result := &Result{}
	result.SetVar("artifacts", artifacts)
	return result, nil
}

// actionReadArtifact reads file contents (by artifact key or glob) into a
// variable.
func actionReadArtifact(_ context.Context, ac *Context, params map[string]any) (*Result, error) {
	into, err := requireStringParam(params, "into")
	if err != nil {
		return nil, err
	}

	var path string
	if key := stringParam(params, "artifact"); key != "" {
		artifacts, _ := ac.State.Var("artifacts").(map[string]any)
		p, _ := artifacts[key].(string)
		if p == "" {
			return nil, fmt.Errorf("artifact %q not captured", key)
		}
		path = p
	} else if pattern := stringParam(params, "glob"); pattern != "" {
		matches, err := doublestar.Glob(os.DirFS(ac.ProjectPath), pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no file matches %q", pattern)
		}
		path = matches[0]
	} else {
		return nil, fmt.Errorf("read_artifact requires \"artifact\" or \"glob\"")
	}

	data, err := os.ReadFile(filepath.Join(ac.ProjectPath, path))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	result := &Result{}
	result.SetVar(into, string(data))
	return result, nil
}

// actionLoadWorkflowState forces a reload of the session's state row into
// the action context.
func actionLoadWorkflowState(ctx context.Context, ac *Context, _ map[string]any) (*Result, error) {
	if ac.Store == nil {
		return nil, fmt.Errorf("state store not available")
	}
	st, err := ac.Store.GetState(ctx, ac.SessionID)
	if err != nil {
		return nil, err
	}
	if st != nil {
		ac.State = st
	}
	return nil, nil
}

// actionSaveWorkflowState forces a save of the current state row.
func actionSaveWorkflowState(ctx context.Context, ac *Context, _ map[string]any) (*Result, error) {
	if ac.Store == nil {
		return nil, fmt.Errorf("state store not available")
	}
	if ac.State == nil {
		return nil, nil
	}
	return nil, ac.Store.SaveState(ctx, ac.State)
}

// actionSetVariable assigns a variable, rendering the value through the
// template engine when it is a string.
func actionSetVariable(_ context.Context, ac *Context, params map[string]any) (*Result, error) {
	name, err := requireStringParam(params, "name")
	if err != nil {
		return nil, err
	}
	value, ok := params["value"]
	if !ok {
		return nil, fmt.Errorf("missing required parameter %q", "value")
	}
	if s, isString := value.(string); isString {
		rendered, err := ac.Renderer.Render(s, ac.RenderContext())
		if err != nil {
			return nil, err
		}
		value = rendered
	}
	result := &Result{}
	result.SetVar(name, value)
	return result, nil
}

// actionIncrementVariable adds a delta (default 1) to a numeric variable.
func actionIncrementVariable(_ context.Context, ac *Context, params map[string]any) (*Result, error) {
	name, err := requireStringParam(params, "name")
	if err != nil {
		return nil, err
	}
	delta := intParam(params, "by", 1)

	current := 0
	if ac.State != nil {
		switch v := ac.State.Var(name).(type) {
		case int:
			current = v
		case int64:
			current = int(v)
		case float64:
			current = int(v)
		}
	}
	result := &Result{}
	result.SetVar(name, current+delta)
	return result, nil
}

// actionMarkLoopComplete sets stop_reason=completed so orchestration loops
// terminate cleanly.
func actionMarkLoopComplete(_ context.Context, _ *Context, _ map[string]any) (*Result, error) {
	result := &Result{}
	result.SetVar("stop_reason", "completed")
	return result, nil
}
