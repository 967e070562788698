package definition

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ActionSpec is one entry in a trigger or step action list: the action name,
// an optional "when" gate, and the remaining keys as parameters.
type ActionSpec struct {
	Action string
	When   string
	Params map[string]any
}

// UnmarshalYAML accepts either the scalar shorthand ("- inject_context") or
// the map form ("- action: inject_context" plus parameters).
func (a *ActionSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var name string
		if err := value.Decode(&name); err != nil {
			return err
		}
		a.Action = name
		return nil
	}
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	name, _ := raw["action"].(string)
	if name == "" {
		return fmt.Errorf("action entry missing \"action\" key")
	}
	a.Action = name
	if when, ok := raw["when"].(string); ok {
		a.When = when
	}
	delete(raw, "action")
	delete(raw, "when")
	a.Params = raw
	return nil
}

// MarshalYAML emits the map form.
func (a ActionSpec) MarshalYAML() (any, error) {
	out := make(map[string]any, len(a.Params)+2)
	for k, v := range a.Params {
		out[k] = v
	}
	out["action"] = a.Action
	if a.When != "" {
		out["when"] = a.When
	}
	return out, nil
}
