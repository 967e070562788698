package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/GoCodeAlone/gobby/definition"
	"github.com/GoCodeAlone/gobby/hook"
	"github.com/GoCodeAlone/gobby/state"
)

// enforceToolPolicy applies the step's tool policy to a before_tool event:
// blocked lists first, then allow lists, then workflow-level tool rules,
// step rules, and finally the step's named check_rules. The first block
// wins; an explicit allow rule short-circuits the remaining rules.
func (e *Engine) enforceToolPolicy(ctx context.Context, wf *definition.WorkflowDefinition, step *definition.WorkflowStep, st *state.WorkflowState, event *hook.Event) *hook.Response {
	tool := event.ToolName()

	if event.IsMCPToolCall() {
		server, mcpTool := event.MCPServer(), event.MCPTool()
		if mcpListed(step.BlockedMCPTools, server, mcpTool) {
			return hook.Block(fmt.Sprintf("MCP tool '%s/%s' blocked in step '%s'", server, mcpTool, step.Name))
		}
		if !mcpPermitted(step.AllowedMCPTools, server, mcpTool) {
			return hook.Block(fmt.Sprintf("MCP tool '%s/%s' not allowed in step '%s'", server, mcpTool, step.Name))
		}
	} else {
		for _, blocked := range step.BlockedTools {
			if blocked == tool {
				return hook.Block(fmt.Sprintf("Tool '%s' blocked in step '%s'", tool, step.Name))
			}
		}
		if !step.AllowedTools.Permits(tool) {
			return hook.Block(fmt.Sprintf("Tool '%s' blocked in step '%s': not in allowed_tools", tool, step.Name))
		}
	}

	resp := hook.Allow()
	rctx := e.ruleContext(ctx, st, event)

	if done := e.evalWorkflowRules(ctx, wf.ToolRules, st, event, rctx, resp); done || resp.IsBlocking() {
		return resp
	}
	if done := e.evalWorkflowRules(ctx, step.Rules, st, event, rctx, resp); done || resp.IsBlocking() {
		return resp
	}
	e.evalCheckRules(ctx, wf, step, st, event, rctx, resp)
	return resp
}

// ruleContext is the expression context for rule conditions, with the tool
// payload exposed directly.
func (e *Engine) ruleContext(ctx context.Context, st *state.WorkflowState, event *hook.Event) map[string]any {
	rctx := e.evalContext(ctx, st, event, nil)
	if input, ok := event.Data["tool_input"].(map[string]any); ok {
		rctx["tool_input"] = input
		if cmd, ok := input["command"].(string); ok {
			rctx["command"] = cmd
		}
	}
	return rctx
}

// evalWorkflowRules runs inline rules in declaration order. Returns true
// when an allow rule short-circuited the chain.
func (e *Engine) evalWorkflowRules(ctx context.Context, rules []definition.WorkflowRule, st *state.WorkflowState, event *hook.Event, rctx map[string]any, resp *hook.Response) bool {
	for i := range rules {
		rule := &rules[i]
		if rule.When != "" && !e.evaluator.Evaluate(rule.When, rctx) {
			continue
		}
		e.trail.RuleEval(ctx, st.SessionID, st.Step, rule.Name, event.ToolName(), rule.Action, rule.Message)
		switch rule.Action {
		case definition.RuleAllow:
			return true
		case definition.RuleWarn:
			resp.SystemMessage = e.renderMessage(rule.Message, rctx)
		case definition.RuleRequireApproval:
			e.requestApproval(ctx, st, rule.Name, e.renderMessage(rule.Message, rctx), 0)
			resp.Decision = hook.DecisionBlock
			resp.Reason = "Waiting for user approval: " + ruleLabel(rule)
			return true
		default: // block
			resp.Decision = hook.DecisionBlock
			resp.Reason = e.renderMessage(rule.Message, rctx)
			if resp.Reason == "" {
				resp.Reason = fmt.Sprintf("Blocked by rule '%s'", ruleLabel(rule))
			}
			return true
		}
	}
	return false
}

// evalCheckRules resolves the step's named rules from the workflow's
// rule_definitions, falling back to the tiered DB rule store, and applies
// any that match the tool call.
func (e *Engine) evalCheckRules(ctx context.Context, wf *definition.WorkflowDefinition, step *definition.WorkflowStep, st *state.WorkflowState, event *hook.Event, rctx map[string]any, resp *hook.Response) {
	for _, name := range step.CheckRules {
		rule := e.resolveRule(ctx, wf, name, event.ProjectID)
		if rule == nil {
			e.logger.Warn("check_rules references unknown rule", "rule", name, "workflow", wf.Name)
			continue
		}
		if !ruleCoversCall(rule, event) {
			continue
		}
		if !e.commandPatternsMatch(rule, rctx) {
			continue
		}
		if rule.When != "" && !e.evaluator.Evaluate(rule.When, rctx) {
			continue
		}

		verdict := rule.Action
		if verdict == "" {
			verdict = definition.RuleBlock
		}
		e.trail.RuleEval(ctx, st.SessionID, st.Step, name, event.ToolName(), verdict, rule.Reason)
		switch verdict {
		case definition.RuleAllow:
			return
		case definition.RuleWarn:
			resp.SystemMessage = e.renderMessage(rule.Reason, rctx)
		case definition.RuleRequireApproval:
			e.requestApproval(ctx, st, name, e.renderMessage(rule.Reason, rctx), 0)
			resp.Decision = hook.DecisionBlock
			resp.Reason = "Waiting for user approval: " + name
			return
		default:
			resp.Decision = hook.DecisionBlock
			resp.Reason = e.renderMessage(rule.Reason, rctx)
			if resp.Reason == "" {
				resp.Reason = fmt.Sprintf("Blocked by rule '%s'", name)
			}
			return
		}
	}
}

// resolveRule looks a named rule up in the workflow's definitions, then in
// the tiered DB store.
func (e *Engine) resolveRule(ctx context.Context, wf *definition.WorkflowDefinition, name, projectID string) *definition.RuleDefinition {
	if rule, ok := wf.RuleDefinitions[name]; ok {
		return &rule
	}
	rule, err := e.store.GetRule(ctx, name, projectID)
	if err != nil {
		e.logger.Error("rule store lookup failed", "rule", name, "error", err)
		return nil
	}
	return rule
}

// commandPatternsMatch applies the rule's regex gates against the shell
// command, when present. A rule with patterns and no command never fires.
func (e *Engine) commandPatternsMatch(rule *definition.RuleDefinition, rctx map[string]any) bool {
	if rule.CommandPattern == "" && rule.CommandNotPattern == "" {
		return true
	}
	cmd, _ := rctx["command"].(string)
	if cmd == "" {
		return false
	}
	if rule.CommandPattern != "" {
		matched, err := regexp.MatchString(rule.CommandPattern, cmd)
		if err != nil {
			e.logger.Error("bad command_pattern", "pattern", rule.CommandPattern, "error", err)
			return false
		}
		if !matched {
			return false
		}
	}
	if rule.CommandNotPattern != "" {
		matched, err := regexp.MatchString(rule.CommandNotPattern, cmd)
		if err != nil {
			e.logger.Error("bad command_not_pattern", "pattern", rule.CommandNotPattern, "error", err)
			return false
		}
		if matched {
			return false
		}
	}
	return true
}

// renderMessage renders a rule message template; on render failure the raw
// text is used.
func (e *Engine) renderMessage(msg string, rctx map[string]any) string {
	if msg == "" || !strings.Contains(msg, "{{") {
		return msg
	}
	out, err := e.renderer.Render(msg, rctx)
	if err != nil {
		e.logger.Warn("rule message render failed", "error", err)
		return msg
	}
	return out
}

func ruleCoversCall(rule *definition.RuleDefinition, event *hook.Event) bool {
	if event.IsMCPToolCall() {
		return rule.AppliesToMCP(event.MCPServer(), event.MCPTool())
	}
	return rule.AppliesTo(event.ToolName())
}

func ruleLabel(rule *definition.WorkflowRule) string {
	if rule.Name != "" {
		return rule.Name
	}
	return rule.Action
}

// mcpListed matches a blocked-list entry against "server/tool", "server",
// or the bare tool name.
func mcpListed(list []string, server, tool string) bool {
	for _, entry := range list {
		if entry == tool || entry == server || entry == server+"/"+tool {
			return true
		}
	}
	return false
}

// mcpPermitted applies an allow filter with the same matching forms plus
// the "server/*" wildcard.
func mcpPermitted(filter definition.ToolFilter, server, tool string) bool {
	if filter.IsZero() || filter.All {
		return true
	}
	for _, entry := range filter.Tools {
		if entry == tool || entry == server || entry == server+"/"+tool || entry == server+"/*" {
			return true
		}
	}
	return false
}
