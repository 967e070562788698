package engine

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/gobby/action"
	"github.com/GoCodeAlone/gobby/definition"
	"github.com/GoCodeAlone/gobby/hook"
	"github.com/GoCodeAlone/gobby/state"
)

// ProcessEvent runs the full evaluation for one hook event: the lifecycle
// sweep over all enabled workflows, then the session's active step workflow.
// A block from the sweep short-circuits the step workflow.
func (e *Engine) ProcessEvent(ctx context.Context, event *hook.Event) (*hook.Response, error) {
	resp, contextData := e.EvaluateAllLifecycleWorkflows(ctx, event)
	if resp.IsBlocking() {
		return resp, nil
	}
	stepResp, err := e.HandleEvent(ctx, event, contextData)
	if err != nil {
		return resp, err
	}
	resp.MergeFrom(stepResp)
	return resp, nil
}

// HandleEvent evaluates the session's active step workflow against one
// event. Sessions with no state row, a sentinel row, or a disabled workflow
// pass through untouched.
func (e *Engine) HandleEvent(ctx context.Context, event *hook.Event, contextData map[string]any) (*hook.Response, error) {
	resp := hook.Allow()
	sessionID := event.SessionID()
	if sessionID == "" {
		return resp, nil
	}

	st, err := e.store.GetState(ctx, sessionID)
	if err != nil {
		return resp, fmt.Errorf("load workflow state: %w", err)
	}
	if st == nil || st.IsSentinel() || st.Disabled {
		return resp, nil
	}

	wf, err := e.loader.LoadWorkflow(st.WorkflowName, event.CWD)
	if err != nil {
		e.logger.Warn("active workflow failed to load, passing event through",
			"workflow", st.WorkflowName, "session", sessionID, "error", err)
		return resp, nil
	}
	step := wf.GetStep(st.Step)
	if step == nil {
		e.logger.Warn("state points at unknown step, passing event through",
			"workflow", st.WorkflowName, "step", st.Step, "session", sessionID)
		return resp, nil
	}

	if e.checkStuck(ctx, wf, step, st, event, resp) {
		step = wf.GetStep(st.Step)
	}

	if update := detectPlanModeReminder(event.Prompt()); update != nil {
		e.applyVars(ctx, st, update)
	}

	switch event.Type {
	case hook.BeforeAgent:
		if r := e.handleApproval(ctx, wf, step, st, event); r != nil {
			resp.MergeFrom(r)
			if err := e.store.SaveState(ctx, st); err != nil {
				e.logger.Error("save state after approval", "session", sessionID, "error", err)
			}
			return resp, nil
		}
	case hook.BeforeTool:
		if st.ApprovalPending {
			e.trail.ToolCall(ctx, sessionID, st.Step, event.ToolName(), string(hook.DecisionBlock), "approval pending")
			return hook.Block("Waiting for user approval"), nil
		}
		policy := e.enforceToolPolicy(ctx, wf, step, st, event)
		e.trail.ToolCall(ctx, sessionID, st.Step, event.ToolName(), string(policy.Decision), policy.Reason)
		if policy.IsBlocking() {
			if err := e.store.SaveState(ctx, st); err != nil {
				e.logger.Error("save state after block", "session", sessionID, "error", err)
			}
			return policy, nil
		}
		resp.MergeFrom(policy)
	case hook.AfterTool:
		e.afterTool(ctx, wf, step, st, event, resp)
	}

	e.runTriggers(ctx, wf, st, event, contextData, resp)

	if updates := e.observers.Apply(ctx, wf.Observers, event, st); len(updates) > 0 {
		e.applyVars(ctx, st, updates)
	}

	e.runTransitions(ctx, wf, st, event, contextData, resp)

	if err := e.store.SaveState(ctx, st); err != nil {
		e.logger.Error("save state", "session", sessionID, "error", err)
	}
	return resp, nil
}

// checkStuck forces a session that has sat in one step past the workflow's
// stuck threshold into the reflect step, when the workflow has one. Returns
// true if a forced transition happened.
func (e *Engine) checkStuck(ctx context.Context, wf *definition.WorkflowDefinition, step *definition.WorkflowStep, st *state.WorkflowState, event *hook.Event, resp *hook.Response) bool {
	if st.StepEnteredAt == nil || st.Step == ReflectStep {
		return false
	}
	if wf.GetStep(ReflectStep) == nil {
		return false
	}
	age := e.clock.Now().Sub(*st.StepEnteredAt)
	if age < wf.StuckTimeoutDuration() {
		return false
	}

	e.logger.Info("step stuck past threshold, forcing reflection",
		"session", st.SessionID, "workflow", wf.Name, "step", st.Step, "age", age)
	tr := definition.WorkflowTransition{To: ReflectStep}
	e.transitionTo(ctx, wf, st, event, &tr, nil, resp)
	resp.AppendContext(fmt.Sprintf(
		"You have been in step '%s' for %d minutes without completing it. "+
			"Step back and reconsider your approach.", step.Name, int(age.Minutes())))
	return true
}

// runTriggers fires the active workflow's triggers for this event type.
// Trigger conditions see the same context the lifecycle sweep gives them:
// event fields exposed top-level and session variables overlaid on state
// variables.
func (e *Engine) runTriggers(ctx context.Context, wf *definition.WorkflowDefinition, st *state.WorkflowState, event *hook.Event, contextData map[string]any, resp *hook.Response) {
	specs := triggersFor(wf, event.Type)
	for i := range specs {
		spec := specs[i]
		if spec.When != "" {
			if !e.evaluator.Evaluate(spec.When, e.evalContext(ctx, st, event, contextData)) {
				continue
			}
			// the registry would re-evaluate when over the action's render
			// context; it already passed here
			spec.When = ""
		}
		e.runAction(ctx, wf, st, event, spec, contextData, resp)
	}
}

// runActions executes a list of action specs in order, folding results into
// resp.
func (e *Engine) runActions(ctx context.Context, wf *definition.WorkflowDefinition, st *state.WorkflowState, event *hook.Event, specs []definition.ActionSpec, contextData map[string]any, resp *hook.Response) {
	for i := range specs {
		e.runAction(ctx, wf, st, event, specs[i], contextData, resp)
	}
}

// runAction executes one action spec. Errors are logged and routed to the
// workflow's on_error actions; they never abort event evaluation.
func (e *Engine) runAction(ctx context.Context, wf *definition.WorkflowDefinition, st *state.WorkflowState, event *hook.Event, spec definition.ActionSpec, contextData map[string]any, resp *hook.Response) {
	ac := e.actionContext(event, st, contextData)
	res, err := e.actions.Execute(ctx, ac, spec)
	if err != nil {
		e.logger.Error("action failed", "action", spec.Action, "workflow", wf.Name, "error", err)
		e.runErrorActions(ctx, wf, st, event, spec.Action, err)
		return
	}
	e.foldResult(ctx, st, res, contextData, resp)
}

// runErrorActions fires the workflow's on_error hooks with the failure
// recorded in variables. Errors inside on_error are logged and dropped.
func (e *Engine) runErrorActions(ctx context.Context, wf *definition.WorkflowDefinition, st *state.WorkflowState, event *hook.Event, failedAction string, cause error) {
	if len(wf.OnError) == 0 {
		return
	}
	e.applyVars(ctx, st, map[string]any{
		"last_error":        cause.Error(),
		"last_error_action": failedAction,
	})
	ac := e.actionContext(event, st, nil)
	for i := range wf.OnError {
		if _, err := e.actions.Execute(ctx, ac, wf.OnError[i]); err != nil {
			e.logger.Error("on_error action failed", "action", wf.OnError[i].Action, "error", err)
		}
	}
}

// foldResult merges one action result into the response and persists its
// variable updates.
func (e *Engine) foldResult(ctx context.Context, st *state.WorkflowState, res *action.Result, contextData map[string]any, resp *hook.Response) {
	if res == nil {
		return
	}
	if len(res.Vars) > 0 {
		e.applyVars(ctx, st, res.Vars)
		for k, v := range res.Vars {
			if contextData != nil {
				contextData[k] = v
			}
		}
	}
	if res.InjectContext != "" {
		resp.AppendContext(res.InjectContext)
	}
	if res.InjectMessage != "" {
		resp.AppendContext(res.InjectMessage)
	}
	if res.SystemMessage != "" {
		resp.SystemMessage = res.SystemMessage
	}
	if res.Blocks() {
		resp.Decision = hook.DecisionBlock
		if res.Reason != "" {
			resp.Reason = res.Reason
		}
	}
}

// applyVars routes variable updates through the store's merge path and
// mirrors them on the in-memory state.
func (e *Engine) applyVars(ctx context.Context, st *state.WorkflowState, updates map[string]any) {
	if len(updates) == 0 || st == nil {
		return
	}
	for k, v := range updates {
		st.SetVar(k, v)
	}
	if _, err := e.store.MergeVariables(ctx, st.SessionID, updates); err != nil {
		e.logger.Error("merge variables", "session", st.SessionID, "error", err)
	}
}

// triggersFor returns the trigger actions a workflow declares for an event
// type, accepting both "before_tool" and "on_before_tool" keys.
func triggersFor(wf *definition.WorkflowDefinition, t hook.EventType) []definition.ActionSpec {
	if len(wf.Triggers) == 0 {
		return nil
	}
	if specs, ok := wf.Triggers[string(t)]; ok {
		return specs
	}
	return wf.Triggers["on_"+string(t)]
}
