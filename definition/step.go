package definition

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// WorkflowStep is one state of a step workflow, with its tool policy, rules,
// and outgoing transitions.
type WorkflowStep struct {
	Name            string               `yaml:"name"`
	Description     string               `yaml:"description"`
	StatusMessage   string               `yaml:"status_message"`
	OnEnter         []ActionSpec         `yaml:"on_enter"`
	OnExit          []ActionSpec         `yaml:"on_exit"`
	AllowedTools    ToolFilter           `yaml:"allowed_tools"`
	BlockedTools    []string             `yaml:"blocked_tools"`
	AllowedMCPTools ToolFilter           `yaml:"allowed_mcp_tools"`
	BlockedMCPTools []string             `yaml:"blocked_mcp_tools"`
	Rules           []WorkflowRule       `yaml:"rules"`
	CheckRules      []string             `yaml:"check_rules"`
	Transitions     []WorkflowTransition `yaml:"transitions"`
	ExitWhen        string               `yaml:"exit_when"`
	ExitConditions  []ExitCondition      `yaml:"exit_conditions"`
	OnMCPSuccess    []ActionSpec         `yaml:"on_mcp_success"`
	OnMCPError      []ActionSpec         `yaml:"on_mcp_error"`
}

// WorkflowTransition moves the session to another step when its condition
// holds.
type WorkflowTransition struct {
	To           string       `yaml:"to"`
	When         string       `yaml:"when"`
	OnTransition []ActionSpec `yaml:"on_transition"`
}

// ToolFilter is either the wildcard "all" or an explicit tool list. The zero
// value means "unset", which callers treat as all-permissive.
type ToolFilter struct {
	All   bool
	Tools []string
}

// IsZero reports whether the filter was not declared.
func (f ToolFilter) IsZero() bool {
	return !f.All && f.Tools == nil
}

// Permits reports whether a tool passes the filter. Unset and "all" filters
// permit everything.
func (f ToolFilter) Permits(tool string) bool {
	if f.IsZero() || f.All {
		return true
	}
	for _, t := range f.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// UnmarshalYAML accepts the scalar "all" or a sequence of tool names.
func (f *ToolFilter) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		if s != "all" {
			return fmt.Errorf("tool filter scalar must be \"all\", got %q", s)
		}
		f.All = true
		return nil
	case yaml.SequenceNode:
		return value.Decode(&f.Tools)
	}
	return fmt.Errorf("tool filter must be \"all\" or a list")
}

// MarshalYAML emits the compact form.
func (f ToolFilter) MarshalYAML() (any, error) {
	if f.All {
		return "all", nil
	}
	return f.Tools, nil
}
