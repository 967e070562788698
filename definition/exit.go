package definition

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Exit condition types.
const (
	ExitVariableSet  = "variable_set"
	ExitExpression   = "expression"
	ExitUserApproval = "user_approval"
	ExitWebhook      = "webhook"
)

// ExitCondition gates leaving a step (or ending a workflow). It decodes from
// either a bare expression string or a tagged record.
type ExitCondition struct {
	Type           string `yaml:"type"`
	Expression     string `yaml:"expression"`
	Variable       string `yaml:"variable"`
	ConditionID    string `yaml:"condition_id"`
	Prompt         string `yaml:"prompt"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	WebhookURL     string `yaml:"webhook_url"`
}

// UnmarshalYAML accepts a scalar expression or a tagged map.
func (c *ExitCondition) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		c.Type = ExitExpression
		c.Expression = s
		return nil
	}
	type plain ExitCondition
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = ExitCondition(p)
	if c.Type == "" {
		c.Type = ExitExpression
	}
	switch c.Type {
	case ExitVariableSet, ExitExpression, ExitUserApproval, ExitWebhook:
	default:
		return fmt.Errorf("unknown exit condition type %q", c.Type)
	}
	return nil
}
