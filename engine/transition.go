package engine

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/gobby/definition"
	"github.com/GoCodeAlone/gobby/hook"
	"github.com/GoCodeAlone/gobby/state"
)

// runTransitions evaluates the current step's transitions and follows the
// first satisfied one, chaining through further steps whose conditions
// already hold, up to MaxTransitionDepth hops per event.
func (e *Engine) runTransitions(ctx context.Context, wf *definition.WorkflowDefinition, st *state.WorkflowState, event *hook.Event, contextData map[string]any, resp *hook.Response) {
	for depth := 0; ; depth++ {
		if depth >= MaxTransitionDepth {
			e.logger.Error("transition chain exceeded depth limit",
				"workflow", wf.Name, "session", st.SessionID, "step", st.Step)
			return
		}
		step := wf.GetStep(st.Step)
		if step == nil {
			return
		}

		moved := false
		ectx := e.evalContext(ctx, st, event, contextData)
		for i := range step.Transitions {
			tr := &step.Transitions[i]
			if tr.When != "" && !e.evaluator.Evaluate(tr.When, ectx) {
				continue
			}
			e.transitionTo(ctx, wf, st, event, tr, contextData, resp)
			moved = true
			break
		}
		if moved {
			continue
		}

		if e.stepComplete(ctx, step, st, ectx) {
			e.completeStep(ctx, wf, step, st, event, contextData, resp)
		}
		return
	}
}

// stepComplete reports whether the step's exit_when or non-approval exit
// conditions are satisfied.
func (e *Engine) stepComplete(ctx context.Context, step *definition.WorkflowStep, st *state.WorkflowState, ectx map[string]any) bool {
	if step.ExitWhen != "" && e.evaluator.Evaluate(step.ExitWhen, ectx) {
		return true
	}
	for i := range step.ExitConditions {
		ec := &step.ExitConditions[i]
		switch ec.Type {
		case definition.ExitExpression:
			if e.evaluator.Evaluate(ec.Expression, ectx) {
				return true
			}
		case definition.ExitVariableSet:
			if v := st.Var(ec.Variable); v != nil && v != false && v != "" {
				return true
			}
		}
	}
	return false
}

// completeStep moves a finished step forward: to the next declared step
// when one exists, otherwise the workflow ends and the state row is cleared
// to the ended sentinel.
func (e *Engine) completeStep(ctx context.Context, wf *definition.WorkflowDefinition, step *definition.WorkflowStep, st *state.WorkflowState, event *hook.Event, contextData map[string]any, resp *hook.Response) {
	for i := range wf.Steps {
		if wf.Steps[i].Name == step.Name && i+1 < len(wf.Steps) {
			tr := definition.WorkflowTransition{To: wf.Steps[i+1].Name}
			e.transitionTo(ctx, wf, st, event, &tr, contextData, resp)
			return
		}
	}

	e.runActions(ctx, wf, st, event, step.OnExit, contextData, resp)
	name := st.WorkflowName
	if err := e.store.DeleteState(ctx, st.SessionID); err != nil {
		e.logger.Error("clear state on workflow completion", "session", st.SessionID, "error", err)
		return
	}
	e.trail.Transition(ctx, st.SessionID, st.Step, state.EndedWorkflow, "workflow complete")
	st.WorkflowName = state.EndedWorkflow
	st.Step = ""
	st.StepEnteredAt = nil
	resp.SystemMessage = fmt.Sprintf("Workflow '%s' complete", name)
}

// transitionTo performs one step transition: current step on_exit, the
// transition's own actions, the state update (entry time and per-step
// counters reset, MCP call tracking cleared), then the target step's
// on_enter and status message.
func (e *Engine) transitionTo(ctx context.Context, wf *definition.WorkflowDefinition, st *state.WorkflowState, event *hook.Event, tr *definition.WorkflowTransition, contextData map[string]any, resp *hook.Response) {
	from := wf.GetStep(st.Step)
	to := wf.GetStep(tr.To)
	if to == nil {
		e.logger.Error("transition to unknown step", "workflow", wf.Name, "to", tr.To)
		return
	}

	if from != nil {
		e.runActions(ctx, wf, st, event, from.OnExit, contextData, resp)
	}
	e.runActions(ctx, wf, st, event, tr.OnTransition, contextData, resp)

	fromName := st.Step
	now := e.clock.Now()
	st.Step = to.Name
	st.StepEnteredAt = &now
	st.StepActionCount = 0
	e.applyVars(ctx, st, map[string]any{
		"mcp_calls":   map[string]any{},
		"mcp_results": map[string]any{},
		"mcp_errors":  map[string]any{},
	})
	if err := e.store.SaveState(ctx, st); err != nil {
		e.logger.Error("save state on transition", "session", st.SessionID, "error", err)
	}
	e.trail.Transition(ctx, st.SessionID, fromName, to.Name, "")

	e.runActions(ctx, wf, st, event, to.OnEnter, contextData, resp)
	if to.StatusMessage != "" {
		resp.SystemMessage = e.renderMessage(to.StatusMessage, e.evalContext(ctx, st, event, contextData))
	}
}
