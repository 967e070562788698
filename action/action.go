// Package action implements the named action registry and the built-in
// action catalog. Actions are invoked by triggers and step hooks; each
// returns a Result that the engine folds into the hook response and the
// session's variables.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoCodeAlone/gobby/definition"
	"github.com/GoCodeAlone/gobby/expression"
	"github.com/GoCodeAlone/gobby/hook"
	"github.com/GoCodeAlone/gobby/render"
	"github.com/GoCodeAlone/gobby/state"
)

// Result is the tagged outcome of one action. The engine folds results in
// order: contexts accumulate, the last system message wins, a block decision
// stops the event, and Vars merge into state variables and the shared
// context data.
type Result struct {
	InjectContext string
	InjectMessage string
	SystemMessage string
	Decision      string
	Reason        string
	Vars          map[string]any
}

// Blocks reports whether this result stops the event.
func (r *Result) Blocks() bool {
	return r != nil && r.Decision == string(hook.DecisionBlock)
}

// SetVar records a variable update on the result.
func (r *Result) SetVar(name string, value any) {
	if r.Vars == nil {
		r.Vars = make(map[string]any)
	}
	r.Vars[name] = value
}

// Func is a named action implementation.
type Func func(ctx context.Context, ac *Context, params map[string]any) (*Result, error)

// Context carries everything an action can touch: the session, its state,
// the triggering event, the state store, the renderer, and typed handles to
// the external collaborators. Collaborator handles may be nil; actions that
// need an absent collaborator fail with an error that the engine logs.
type Context struct {
	SessionID   string
	ProjectPath string
	ProjectID   string
	State       *state.WorkflowState
	Event       *hook.Event
	Store       *state.Store
	Renderer    *render.Renderer

	Sessions   SessionManager
	Tasks      TaskManager
	MCP        MCPProxy
	LLM        LLMService
	Memory     MemoryManager
	Transcript TranscriptSource
	Skills     SkillLearner
	Stop       StopRegistry
	Spawner    SessionSpawner

	// ContextData threads across workflows within one lifecycle sweep;
	// trigger actions may read what earlier workflows wrote.
	ContextData map[string]any

	Logger *slog.Logger
}

// RenderContext builds the template/expression context for this action
// invocation: state variables at top level plus the structured sub-maps.
func (c *Context) RenderContext() map[string]any {
	ctx := make(map[string]any)
	if c.State != nil {
		for k, v := range c.State.Variables {
			ctx[k] = v
		}
		ctx["step"] = c.State.Step
		ctx["workflow_name"] = c.State.WorkflowName
	}
	vars := make(map[string]any)
	if c.State != nil {
		for k, v := range c.State.Variables {
			vars[k] = v
		}
	}
	ctx["variables"] = vars
	ctx["session_id"] = c.SessionID
	ctx["project_path"] = c.ProjectPath
	if c.Event != nil {
		ctx["event_data"] = c.Event.Data
	}
	for k, v := range c.ContextData {
		if _, exists := ctx[k]; !exists {
			ctx[k] = v
		}
	}
	return ctx
}

// Registry maps action names to implementations. Safe for concurrent reads
// after startup registration.
type Registry struct {
	mu        sync.RWMutex
	actions   map[string]Func
	evaluator *expression.Evaluator
	logger    *slog.Logger
}

// NewRegistry creates a registry with the built-in catalog installed.
func NewRegistry(evaluator *expression.Evaluator, logger *slog.Logger) *Registry {
	if evaluator == nil {
		evaluator = expression.New(nil, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		actions:   make(map[string]Func),
		evaluator: evaluator,
		logger:    logger,
	}
	registerBuiltins(r)
	return r
}

// Register adds an action. Later registrations replace earlier ones, which
// lets embedders override built-ins deliberately.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = fn
}

// Get looks up an action by name.
func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.actions[name]
	return fn, ok
}

// Names returns all registered action names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	return names
}

// Execute runs one action spec: the "when" gate is evaluated against the
// action context, unknown actions and execution errors are returned to the
// caller (the engine logs them and continues with the next action).
func (r *Registry) Execute(ctx context.Context, ac *Context, spec definition.ActionSpec) (*Result, error) {
	if spec.When != "" {
		if !r.evaluator.Evaluate(spec.When, ac.RenderContext()) {
			return nil, nil
		}
	}
	fn, ok := r.Get(spec.Action)
	if !ok {
		return nil, fmt.Errorf("unknown action %q", spec.Action)
	}
	result, err := fn(ctx, ac, spec.Params)
	if err != nil {
		return nil, fmt.Errorf("action %q: %w", spec.Action, err)
	}
	return result, nil
}
