package engine

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/gobby/definition"
	"github.com/GoCodeAlone/gobby/hook"
	"github.com/GoCodeAlone/gobby/loader"
	"github.com/GoCodeAlone/gobby/state"
)

// EvaluateAllLifecycleWorkflows sweeps every enabled workflow discovered
// for the project over one event, in priority order. Trigger actions run at
// most once each; the sweep loops (bounded by MaxTriggerIterations) so a
// trigger whose condition becomes true because of an earlier trigger's
// variable writes still fires on the same event.
//
// Injected context accumulates across workflows, the last system message
// wins, and a blocking trigger stops the sweep. The returned context data
// carries trigger-produced values into the step-workflow evaluation.
func (e *Engine) EvaluateAllLifecycleWorkflows(ctx context.Context, event *hook.Event) (*hook.Response, map[string]any) {
	resp := hook.Allow()
	contextData := make(map[string]any)

	flows := e.lifecycleWorkflows(event)
	if len(flows) == 0 {
		return resp, contextData
	}

	sessionID := event.SessionID()
	var st *state.WorkflowState
	if sessionID != "" {
		loaded, err := e.store.GetState(ctx, sessionID)
		if err != nil {
			e.logger.Error("load state for lifecycle sweep", "session", sessionID, "error", err)
			return resp, contextData
		}
		st = loaded
	}

	visited := make(map[string]bool)
	fired := true
	for iter := 0; iter < MaxTriggerIterations && fired; iter++ {
		fired = false
		for _, dw := range flows {
			specs := triggersFor(dw.Definition, event.Type)
			for i := range specs {
				key := fmt.Sprintf("%s#%d", dw.Name, i)
				if visited[key] {
					continue
				}
				spec := specs[i]
				if spec.When != "" && !e.evaluator.Evaluate(spec.When, e.evalContext(ctx, st, event, contextData)) {
					continue
				}
				visited[key] = true
				fired = true

				if st == nil && sessionID != "" {
					created, err := e.ensureState(ctx, sessionID)
					if err != nil {
						e.logger.Error("create lifecycle state", "session", sessionID, "error", err)
						return resp, contextData
					}
					st = created
				}
				// the registry would re-evaluate when over the action's
				// render context; it already passed here
				spec.When = ""
				e.runLifecycleAction(ctx, dw, st, event, spec, contextData, resp)
				if resp.IsBlocking() {
					return resp, contextData
				}
			}
		}
	}

	for _, dw := range flows {
		if updates := e.observers.Apply(ctx, dw.Definition.Observers, event, st); len(updates) > 0 {
			e.applyVars(ctx, st, updates)
		}
	}
	return resp, contextData
}

// EvaluateLifecycleTriggers runs the sweep for one named workflow only,
// used by the instances API to re-fire a single workflow.
func (e *Engine) EvaluateLifecycleTriggers(ctx context.Context, name string, event *hook.Event) (*hook.Response, error) {
	wf, err := e.loader.LoadWorkflow(name, event.CWD)
	if err != nil {
		return nil, err
	}
	if !wf.Enabled {
		return nil, fmt.Errorf("workflow %q is not a lifecycle workflow", name)
	}
	resp := hook.Allow()
	contextData := make(map[string]any)

	var st *state.WorkflowState
	if sessionID := event.SessionID(); sessionID != "" {
		if st, err = e.store.GetState(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	specs := triggersFor(wf, event.Type)
	for i := range specs {
		spec := specs[i]
		if spec.When != "" && !e.evaluator.Evaluate(spec.When, e.evalContext(ctx, st, event, contextData)) {
			continue
		}
		spec.When = ""
		e.runAction(ctx, wf, st, event, spec, contextData, resp)
		if resp.IsBlocking() {
			break
		}
	}
	return resp, nil
}

// lifecycleWorkflows returns the enabled workflows matching the event's
// source, already priority-sorted by discovery.
func (e *Engine) lifecycleWorkflows(event *hook.Event) []loader.DiscoveredWorkflow {
	discovered, err := e.loader.Discover(event.CWD)
	if err != nil {
		e.logger.Error("workflow discovery failed", "project", event.CWD, "error", err)
		return nil
	}
	flows := discovered[:0:0]
	for _, dw := range discovered {
		if dw.Definition.Enabled && dw.Definition.MatchesSource(event.Source) {
			flows = append(flows, dw)
		}
	}
	return flows
}

func (e *Engine) runLifecycleAction(ctx context.Context, dw loader.DiscoveredWorkflow, st *state.WorkflowState, event *hook.Event, spec definition.ActionSpec, contextData map[string]any, resp *hook.Response) {
	e.runAction(ctx, dw.Definition, st, event, spec, contextData, resp)
}

// ensureState creates the lifecycle sentinel row for a session that has no
// state yet, so trigger variable writes have somewhere to land.
func (e *Engine) ensureState(ctx context.Context, sessionID string) (*state.WorkflowState, error) {
	st := state.NewWorkflowState(sessionID, state.LifecycleWorkflow)
	if err := e.store.SaveState(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}
