package definition

// Rule actions. Only RuleBlock stops a tool call; RuleWarn attaches a system
// message, RuleAllow short-circuits remaining rules, RuleRequireApproval
// parks the session in the pending-approval state.
const (
	RuleBlock           = "block"
	RuleAllow           = "allow"
	RuleWarn            = "warn"
	RuleRequireApproval = "require_approval"
)

// WorkflowRule is a condition-plus-decision attached to tool calls, either
// at the workflow level (tool_rules) or on a step.
type WorkflowRule struct {
	Name    string `yaml:"name"`
	When    string `yaml:"when"`
	Action  string `yaml:"action"`
	Message string `yaml:"message"`
}

// RuleDefinition is a named, importable rule. Tools/MCPTools scope which
// calls it applies to; CommandPattern/CommandNotPattern add regex gating on
// shell commands.
type RuleDefinition struct {
	Tools             []string `yaml:"tools"`
	MCPTools          []string `yaml:"mcp_tools"`
	When              string   `yaml:"when"`
	Reason            string   `yaml:"reason"`
	Action            string   `yaml:"action"`
	CommandPattern    string   `yaml:"command_pattern"`
	CommandNotPattern string   `yaml:"command_not_pattern"`
}

// AppliesTo reports whether the rule covers the given native tool name.
func (r *RuleDefinition) AppliesTo(tool string) bool {
	if len(r.Tools) == 0 && len(r.MCPTools) == 0 {
		return true
	}
	for _, t := range r.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// AppliesToMCP reports whether the rule covers the given MCP tool, matched
// as "server/tool" or bare tool name.
func (r *RuleDefinition) AppliesToMCP(server, tool string) bool {
	for _, t := range r.MCPTools {
		if t == tool || t == server+"/"+tool {
			return true
		}
	}
	return false
}

// RuleFile is the decode target for an importable rule file.
type RuleFile struct {
	Name            string                    `yaml:"name"`
	RuleDefinitions map[string]RuleDefinition `yaml:"rule_definitions"`
}
