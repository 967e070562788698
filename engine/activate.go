package engine

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/gobby/hook"
	"github.com/GoCodeAlone/gobby/state"
)

// Activation is the outcome of starting a workflow for a session.
type Activation struct {
	WorkflowName string `json:"workflow_name"`
	Step         string `json:"step"`
	// Context carries the initial step's injected guidance back to the
	// caller.
	Context       string `json:"context,omitempty"`
	SystemMessage string `json:"system_message,omitempty"`
}

// ActivateWorkflow starts an on-demand workflow for a session: it validates
// the definition, seeds variables (workflow defaults, preserved lifecycle
// variables, then caller overrides), enters the first step, and runs its
// on_enter actions. Lifecycle (enabled) workflows cannot be activated.
func (e *Engine) ActivateWorkflow(ctx context.Context, sessionID, name, projectPath string, vars map[string]any) (*Activation, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("activate workflow %q: session id required", name)
	}
	wf, err := e.loader.ValidateForActivation(name, projectPath)
	if err != nil {
		return nil, err
	}
	initial := wf.InitialStep()
	if initial == nil {
		return nil, fmt.Errorf("workflow %q has no steps to activate", name)
	}

	existing, err := e.store.GetState(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load existing state: %w", err)
	}
	if existing != nil && !existing.IsSentinel() {
		return nil, fmt.Errorf("session %s already runs workflow %q", sessionID, existing.WorkflowName)
	}

	st := state.NewWorkflowState(sessionID, wf.Name)
	if existing != nil {
		for k, v := range existing.Variables {
			st.Variables[k] = v
		}
	}
	for k, v := range wf.Variables {
		st.Variables[k] = v
	}
	for k, v := range vars {
		st.Variables[k] = v
	}
	now := e.clock.Now()
	st.Step = initial.Name
	st.InitialStep = initial.Name
	st.StepEnteredAt = &now
	if err := e.store.SaveState(ctx, st); err != nil {
		return nil, fmt.Errorf("save activated state: %w", err)
	}
	for k, v := range wf.SessionVariables {
		if err := e.store.SetSessionVariable(ctx, sessionID, k, v); err != nil {
			return nil, fmt.Errorf("seed session variable %q: %w", k, err)
		}
	}
	inst := &state.WorkflowInstance{
		SessionID:    sessionID,
		WorkflowName: wf.Name,
		Enabled:      true,
		Priority:     wf.Priority,
		CurrentStep:  initial.Name,
	}
	if err := e.store.UpsertInstance(ctx, inst); err != nil {
		e.logger.Warn("record workflow instance", "session", sessionID, "workflow", wf.Name, "error", err)
	}
	e.trail.Transition(ctx, sessionID, "", initial.Name, "activated "+wf.Name)

	event := &hook.Event{
		Type:     hook.SessionStart,
		CWD:      projectPath,
		Metadata: map[string]any{"_platform_session_id": sessionID},
	}
	resp := hook.Allow()
	e.runActions(ctx, wf, st, event, initial.OnEnter, nil, resp)
	if initial.StatusMessage != "" {
		resp.SystemMessage = e.renderMessage(initial.StatusMessage, e.evalContext(ctx, st, event, nil))
	}
	if err := e.store.SaveState(ctx, st); err != nil {
		e.logger.Error("save state after on_enter", "session", sessionID, "error", err)
	}

	return &Activation{
		WorkflowName:  wf.Name,
		Step:          st.Step,
		Context:       resp.Context,
		SystemMessage: resp.SystemMessage,
	}, nil
}

// DeactivateWorkflow clears a session's step workflow, preserving lifecycle
// variables. Returns state.ErrSessionNotFound when the session has no state.
func (e *Engine) DeactivateWorkflow(ctx context.Context, sessionID string) error {
	st, err := e.store.GetState(ctx, sessionID)
	if err != nil {
		return err
	}
	if st == nil {
		return state.ErrSessionNotFound
	}
	if err := e.store.DeleteState(ctx, sessionID); err != nil {
		return err
	}
	e.trail.Transition(ctx, sessionID, st.Step, state.EndedWorkflow, "deactivated "+st.WorkflowName)
	return nil
}

// WorkflowStatus returns the session's current state row, or nil when none
// exists.
func (e *Engine) WorkflowStatus(ctx context.Context, sessionID string) (*state.WorkflowState, error) {
	return e.store.GetState(ctx, sessionID)
}
