package definition

import "errors"

// ErrInvalidObserver is returned when an observer declares neither or both
// of its variants.
var ErrInvalidObserver = errors.New("observer must declare exactly one of (on/match/set) or behavior")

// Observer reacts to events by setting variables from template expressions
// (YAML variant) or by invoking a registered native behavior.
type Observer struct {
	// YAML variant.
	On    string            `yaml:"on"`
	Match *ObserverMatch    `yaml:"match"`
	Set   map[string]string `yaml:"set"`

	// Behavior variant.
	Behavior string         `yaml:"behavior"`
	Args     map[string]any `yaml:"args"`
}

// ObserverMatch narrows the YAML variant to specific tool calls. All set
// predicates must match exactly.
type ObserverMatch struct {
	Tool      string `yaml:"tool"`
	MCPServer string `yaml:"mcp_server"`
	MCPTool   string `yaml:"mcp_tool"`
}

// IsBehavior reports whether this is the behavior variant.
func (o *Observer) IsBehavior() bool {
	return o.Behavior != ""
}

// Validate enforces variant exclusivity.
func (o *Observer) Validate() error {
	yamlVariant := o.On != "" || o.Match != nil || len(o.Set) > 0
	if o.IsBehavior() == yamlVariant {
		return ErrInvalidObserver
	}
	if yamlVariant && o.On == "" {
		return errors.New("observer YAML variant requires \"on\"")
	}
	return nil
}
