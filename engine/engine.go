// Package engine is the workflow engine core: it consumes hook events,
// evaluates triggers and rules from loaded workflow definitions, runs
// actions, drives step transitions, and persists per-session state.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/gobby/action"
	"github.com/GoCodeAlone/gobby/audit"
	"github.com/GoCodeAlone/gobby/expression"
	"github.com/GoCodeAlone/gobby/hook"
	"github.com/GoCodeAlone/gobby/loader"
	"github.com/GoCodeAlone/gobby/observer"
	"github.com/GoCodeAlone/gobby/render"
	"github.com/GoCodeAlone/gobby/state"
)

const (
	// MaxTriggerIterations bounds the lifecycle trigger sweep.
	MaxTriggerIterations = 10
	// MaxTransitionDepth bounds auto-chained step transitions within one
	// event.
	MaxTransitionDepth = 10
	// ReflectStep is the step a stuck session is forced into when present.
	ReflectStep = "reflect"
)

// Clock abstracts time for stuck-step and approval-timeout checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Collaborators bundles the external handles actions and detection helpers
// consume. Any field may be nil.
type Collaborators struct {
	Sessions   action.SessionManager
	Tasks      action.TaskManager
	MCP        action.MCPProxy
	LLM        action.LLMService
	Memory     action.MemoryManager
	Transcript action.TranscriptSource
	Skills     action.SkillLearner
	Stop       action.StopRegistry
	Spawner    action.SessionSpawner
}

// Engine evaluates hook events against workflow definitions and state.
type Engine struct {
	loader    *loader.Loader
	store     *state.Store
	actions   *action.Registry
	observers *observer.Engine
	behaviors *observer.BehaviorRegistry
	renderer  *render.Renderer
	evaluator *expression.Evaluator
	collab    Collaborators
	clock     Clock
	trail     *audit.Trail
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects a clock, used by tests to exercise stuck-step and
// approval timeouts.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithCollaborators installs the external collaborator handles.
func WithCollaborators(c Collaborators) Option { return func(e *Engine) { e.collab = c } }

// WithActionRegistry replaces the default action registry.
func WithActionRegistry(r *action.Registry) Option { return func(e *Engine) { e.actions = r } }

// WithBehaviorRegistry replaces the default behavior registry.
func WithBehaviorRegistry(r *observer.BehaviorRegistry) Option {
	return func(e *Engine) { e.behaviors = r }
}

// WithLogger sets the engine logger.
func WithLogger(lg *slog.Logger) Option { return func(e *Engine) { e.logger = lg } }

// WithAuditTrail sets the audit trail writer.
func WithAuditTrail(t *audit.Trail) Option { return func(e *Engine) { e.trail = t } }

// New creates an Engine over a loader and a state store.
func New(ld *loader.Loader, st *state.Store, opts ...Option) *Engine {
	e := &Engine{
		loader: ld,
		store:  st,
		clock:  systemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.renderer == nil {
		e.renderer = render.New()
	}
	if e.evaluator == nil {
		e.evaluator = expression.New(e.buildHelpers(), e.logger)
	}
	if e.actions == nil {
		e.actions = action.NewRegistry(e.evaluator, e.logger)
	}
	if e.behaviors == nil {
		e.behaviors = observer.NewBehaviorRegistry()
	}
	if e.observers == nil {
		e.observers = observer.NewEngine(e.renderer, e.behaviors, e.logger)
	}
	if e.trail == nil {
		e.trail = audit.NewTrail(st, nil, e.logger)
	}
	return e
}

// buildHelpers wires the expression helper table to the collaborators.
func (e *Engine) buildHelpers() *expression.Helpers {
	return &expression.Helpers{
		TaskTreeComplete: func(taskID string) bool {
			if e.collab.Tasks == nil {
				return false
			}
			task, err := e.collab.Tasks.GetTask(context.Background(), taskID)
			if err != nil || task == nil {
				return false
			}
			return task.Status == "closed" || task.Status == "completed"
		},
		TaskNeedsUserReview: func(taskID string) bool {
			if e.collab.Tasks == nil {
				return false
			}
			task, err := e.collab.Tasks.GetTask(context.Background(), taskID)
			if err != nil || task == nil {
				return false
			}
			return task.Status == "needs_review"
		},
		HasStopSignal: func(sessionID string) bool {
			if e.collab.Stop == nil {
				return false
			}
			return e.collab.Stop.HasPendingSignal(sessionID)
		},
	}
}

// BehaviorRegistry exposes the engine's behavior registry so embedders can
// register built-ins during startup.
func (e *Engine) BehaviorRegistry() *observer.BehaviorRegistry {
	return e.behaviors
}

// Actions exposes the engine's action registry.
func (e *Engine) Actions() *action.Registry {
	return e.actions
}

// actionContext builds the per-invocation action context.
func (e *Engine) actionContext(event *hook.Event, st *state.WorkflowState, contextData map[string]any) *action.Context {
	return &action.Context{
		SessionID:   event.SessionID(),
		ProjectPath: event.CWD,
		ProjectID:   event.ProjectID,
		State:       st,
		Event:       event,
		Store:       e.store,
		Renderer:    e.renderer,
		Sessions:    e.collab.Sessions,
		Tasks:       e.collab.Tasks,
		MCP:         e.collab.MCP,
		LLM:         e.collab.LLM,
		Memory:      e.collab.Memory,
		Transcript:  e.collab.Transcript,
		Skills:      e.collab.Skills,
		Stop:        e.collab.Stop,
		Spawner:     e.collab.Spawner,
		ContextData: contextData,
		Logger:      e.logger,
	}
}

// evalContext builds the expression/template context for an event: state
// variables at top level and under "variables" (with session-variable
// overrides applied, keeping the agent-facing variable tool authoritative),
// plus event fields.
func (e *Engine) evalContext(ctx context.Context, st *state.WorkflowState, event *hook.Event, contextData map[string]any) map[string]any {
	vars := make(map[string]any)
	if st != nil {
		for k, v := range st.Variables {
			vars[k] = v
		}
	}
	if event != nil && event.SessionID() != "" {
		if overrides, err := e.store.SessionVariables(ctx, event.SessionID()); err == nil {
			for k, v := range overrides {
				vars[k] = v
			}
		}
	}

	out := make(map[string]any, len(vars)+8)
	for k, v := range vars {
		out[k] = v
	}
	out["variables"] = vars
	if st != nil {
		out["step"] = st.Step
		out["step_action_count"] = st.StepActionCount
		out["total_action_count"] = st.TotalActionCount
	}
	if event != nil {
		out["event_type"] = string(event.Type)
		out["event_data"] = event.Data
		out["tool_name"] = event.ToolName()
		out["prompt"] = event.Prompt()
		out["session_id"] = event.SessionID()
		out["source"] = event.Source
	}
	for k, v := range contextData {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}
