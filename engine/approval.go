package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GoCodeAlone/gobby/definition"
	"github.com/GoCodeAlone/gobby/hook"
	"github.com/GoCodeAlone/gobby/state"
)

// Approval resolution keywords, matched against the normalized first line
// of the user's prompt.
var (
	affirmativeWords = []string{
		"yes", "y", "yep", "yeah", "approve", "approved", "go", "go ahead",
		"proceed", "ok", "okay", "lgtm", "ship it", "sounds good", "do it",
		"continue", "sure",
	}
	negativeWords = []string{
		"no", "n", "nope", "reject", "rejected", "deny", "denied", "stop",
		"don't", "do not", "cancel", "wait", "hold on", "hold off", "abort",
	}
)

// handleApproval drives the user-approval state machine on agent-turn
// events. It returns a response when the approval flow consumed the event,
// nil when normal evaluation should continue.
func (e *Engine) handleApproval(ctx context.Context, wf *definition.WorkflowDefinition, step *definition.WorkflowStep, st *state.WorkflowState, event *hook.Event) *hook.Response {
	if st.ApprovalPending {
		return e.resolvePendingApproval(ctx, st, event)
	}

	for i := range step.ExitConditions {
		ec := &step.ExitConditions[i]
		if ec.Type != definition.ExitUserApproval {
			continue
		}
		id := ec.ConditionID
		if id == "" {
			id = step.Name
		}
		if granted, ok := st.Var(approvalVar(id)).(bool); ok && granted {
			continue
		}
		prompt := ec.Prompt
		if prompt == "" {
			prompt = fmt.Sprintf("Step '%s' needs your approval to continue. Reply yes or no.", step.Name)
		}
		prompt = e.renderMessage(prompt, e.evalContext(ctx, st, event, nil))
		e.requestApproval(ctx, st, id, prompt, ec.TimeoutSeconds)

		resp := hook.Allow()
		resp.AppendContext(prompt)
		return resp
	}
	return nil
}

// requestApproval parks the session in the pending-approval state.
func (e *Engine) requestApproval(ctx context.Context, st *state.WorkflowState, conditionID, prompt string, timeoutSeconds int) {
	now := e.clock.Now()
	st.ApprovalPending = true
	st.ApprovalConditionID = conditionID
	st.ApprovalPrompt = prompt
	st.ApprovalRequestedAt = &now
	st.ApprovalTimeoutSeconds = timeoutSeconds
	e.trail.Approval(ctx, st.SessionID, st.Step, conditionID, "requested")
}

// resolvePendingApproval interprets the user's reply, or times the request
// out. Ambiguous replies re-surface the approval prompt.
func (e *Engine) resolvePendingApproval(ctx context.Context, st *state.WorkflowState, event *hook.Event) *hook.Response {
	if st.ApprovalTimeoutSeconds > 0 && st.ApprovalRequestedAt != nil {
		deadline := st.ApprovalRequestedAt.Add(time.Duration(st.ApprovalTimeoutSeconds) * time.Second)
		if e.clock.Now().After(deadline) {
			e.settleApproval(ctx, st, false, "timeout")
			resp := hook.Allow()
			resp.SystemMessage = "Approval request timed out and was treated as rejected"
			return resp
		}
	}

	switch classifyReply(event.Prompt()) {
	case replyAffirmative:
		e.settleApproval(ctx, st, true, "granted")
		resp := hook.Allow()
		resp.AppendContext("Approval granted. Continue.")
		return resp
	case replyNegative:
		e.settleApproval(ctx, st, false, "rejected")
		resp := hook.Allow()
		resp.AppendContext("Approval rejected by the user. Do not proceed with the approved action.")
		return resp
	default:
		resp := hook.Allow()
		resp.AppendContext(st.ApprovalPrompt)
		return resp
	}
}

// settleApproval clears the pending state and records the outcome in a
// variable keyed by the condition id.
func (e *Engine) settleApproval(ctx context.Context, st *state.WorkflowState, granted bool, outcome string) {
	id := st.ApprovalConditionID
	st.ApprovalPending = false
	st.ApprovalConditionID = ""
	st.ApprovalPrompt = ""
	st.ApprovalRequestedAt = nil
	st.ApprovalTimeoutSeconds = 0
	if id != "" {
		e.applyVars(ctx, st, map[string]any{approvalVar(id): granted})
	}
	e.trail.Approval(ctx, st.SessionID, st.Step, id, outcome)
}

func approvalVar(conditionID string) string {
	return "_approval_" + conditionID + "_granted"
}

type replyKind int

const (
	replyAmbiguous replyKind = iota
	replyAffirmative
	replyNegative
)

// classifyReply matches the first line of the prompt against the keyword
// lists: an exact match, or a keyword followed by punctuation.
func classifyReply(prompt string) replyKind {
	line := prompt
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.ToLower(strings.TrimSpace(line))
	line = strings.TrimRight(line, ".!,")
	if line == "" {
		return replyAmbiguous
	}
	for _, w := range negativeWords {
		if line == w {
			return replyNegative
		}
	}
	for _, w := range affirmativeWords {
		if line == w {
			return replyAffirmative
		}
	}
	return replyAmbiguous
}
