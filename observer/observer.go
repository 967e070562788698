// Package observer matches workflow observers against hook events and
// applies their variable updates. Observers run once per event per workflow,
// after triggers.
package observer

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/GoCodeAlone/gobby/definition"
	"github.com/GoCodeAlone/gobby/hook"
	"github.com/GoCodeAlone/gobby/render"
	"github.com/GoCodeAlone/gobby/state"
)

// Engine evaluates YAML-variant observers and dispatches behavior-variant
// observers through a registry.
type Engine struct {
	renderer  *render.Renderer
	behaviors *BehaviorRegistry
	logger    *slog.Logger
}

// NewEngine creates an observer engine. Any argument may be nil.
func NewEngine(renderer *render.Renderer, behaviors *BehaviorRegistry, logger *slog.Logger) *Engine {
	if renderer == nil {
		renderer = render.New()
	}
	if behaviors == nil {
		behaviors = NewBehaviorRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{renderer: renderer, behaviors: behaviors, logger: logger}
}

// Apply runs every observer of a workflow against the event and returns the
// accumulated variable updates from YAML-variant observers. Behavior-variant
// observers run for their side effects; their panics and errors are logged
// and swallowed so one bad behavior cannot fail the event.
func (e *Engine) Apply(ctx context.Context, observers []definition.Observer, event *hook.Event, st *state.WorkflowState) map[string]any {
	updates := make(map[string]any)
	for i := range observers {
		obs := &observers[i]
		if obs.IsBehavior() {
			e.runBehavior(ctx, obs, event, st)
			continue
		}
		if !e.matches(obs, event) {
			continue
		}
		for name, expr := range obs.Set {
			value, err := e.renderValue(expr, event, st, updates)
			if err != nil {
				e.logger.Warn("observer set expression failed",
					"observer", obs.On, "variable", name, "error", err)
				continue
			}
			updates[name] = value
		}
	}
	return updates
}

func (e *Engine) matches(obs *definition.Observer, event *hook.Event) bool {
	if obs.On != string(event.Type) {
		return false
	}
	if obs.Match == nil {
		return true
	}
	if obs.Match.Tool != "" && obs.Match.Tool != event.ToolName() {
		return false
	}
	if obs.Match.MCPServer != "" && obs.Match.MCPServer != event.MCPServer() {
		return false
	}
	if obs.Match.MCPTool != "" && obs.Match.MCPTool != event.MCPTool() {
		return false
	}
	return true
}

// renderValue renders a set expression as a template over {variables,
// event_data} and coerces the result.
func (e *Engine) renderValue(expr string, event *hook.Event, st *state.WorkflowState, pending map[string]any) (any, error) {
	vars := make(map[string]any)
	if st != nil {
		for k, v := range st.Variables {
			vars[k] = v
		}
	}
	for k, v := range pending {
		vars[k] = v
	}
	ctx := map[string]any{
		"variables":  vars,
		"event_data": event.Data,
	}
	rendered, err := e.renderer.Render(expr, ctx)
	if err != nil {
		return nil, err
	}
	return CoerceValue(rendered), nil
}

func (e *Engine) runBehavior(ctx context.Context, obs *definition.Observer, event *hook.Event, st *state.WorkflowState) {
	fn, ok := e.behaviors.Get(obs.Behavior)
	if !ok {
		e.logger.Warn("observer references unknown behavior", "behavior", obs.Behavior)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("observer behavior panicked", "behavior", obs.Behavior, "panic", r)
		}
	}()
	if err := fn(ctx, event, st, obs.Args); err != nil {
		e.logger.Warn("observer behavior failed", "behavior", obs.Behavior, "error", err)
	}
}

// CoerceValue converts a rendered string to its natural type: booleans,
// nulls, and numbers come back typed; anything else passes through as a
// string.
func CoerceValue(s string) any {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}
	if i, err := strconv.Atoi(trimmed); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return s
}
