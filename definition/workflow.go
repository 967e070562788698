// Package definition holds the typed, immutable records that workflow YAML
// decodes into: workflows, steps, triggers, rules, observers, pipelines, and
// exit conditions. Loaded definitions are cached by the loader and shared
// read-only by the engine.
package definition

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Default stuck-step threshold when a workflow does not set its own.
const DefaultStuckTimeoutMinutes = 30

var (
	// ErrDuplicateStep is returned when two steps in a workflow share a name.
	ErrDuplicateStep = errors.New("duplicate step name")
	// ErrUnknownTransitionTarget is returned when a transition points at a
	// step that does not exist.
	ErrUnknownTransitionTarget = errors.New("unknown transition target")
)

// WorkflowDefinition is one workflow as declared in YAML. Enabled workflows
// ("lifecycle" workflows) run on every matching event; disabled ones are
// on-demand and only run after explicit activation for a session.
type WorkflowDefinition struct {
	Name             string                    `yaml:"name"`
	Version          string                    `yaml:"version"`
	Enabled          bool                      `yaml:"enabled"`
	Priority         int                       `yaml:"priority"`
	Sources          []string                  `yaml:"sources"`
	Variables        map[string]any            `yaml:"variables"`
	SessionVariables map[string]any            `yaml:"session_variables"`
	RuleDefinitions  map[string]RuleDefinition `yaml:"rule_definitions"`
	Imports          []string                  `yaml:"imports"`
	ToolRules        []WorkflowRule            `yaml:"tool_rules"`
	Observers        []Observer                `yaml:"observers"`
	Steps            []WorkflowStep            `yaml:"steps"`
	Triggers         map[string][]ActionSpec   `yaml:"triggers"`
	OnError          []ActionSpec              `yaml:"on_error"`
	OnPrematureStop  []ActionSpec              `yaml:"on_premature_stop"`
	ExitCondition    *ExitCondition            `yaml:"exit_condition"`
	Extends          string                    `yaml:"extends"`

	// StuckTimeoutMinutes overrides the stuck-step threshold for this
	// workflow; zero means DefaultStuckTimeoutMinutes.
	StuckTimeoutMinutes int `yaml:"stuck_timeout_minutes"`

	// Extra preserves unknown top-level keys so newer workflow files keep
	// loading on older runtimes.
	Extra map[string]any `yaml:"-"`
}

// workflowYAML is the raw decode target. It accepts the legacy "type:
// lifecycle" marker and the "phases" alias for "steps", and captures unknown
// keys inline.
type workflowYAML struct {
	Name                string                    `yaml:"name"`
	Version             string                    `yaml:"version"`
	Type                string                    `yaml:"type"`
	Enabled             *bool                     `yaml:"enabled"`
	Priority            int                       `yaml:"priority"`
	Sources             []string                  `yaml:"sources"`
	Variables           map[string]any            `yaml:"variables"`
	SessionVariables    map[string]any            `yaml:"session_variables"`
	RuleDefinitions     map[string]RuleDefinition `yaml:"rule_definitions"`
	Imports             []string                  `yaml:"imports"`
	ToolRules           []WorkflowRule            `yaml:"tool_rules"`
	Observers           []Observer                `yaml:"observers"`
	Steps               []WorkflowStep            `yaml:"steps"`
	Phases              []WorkflowStep            `yaml:"phases"`
	Triggers            map[string][]ActionSpec   `yaml:"triggers"`
	OnError             []ActionSpec              `yaml:"on_error"`
	OnPrematureStop     []ActionSpec              `yaml:"on_premature_stop"`
	ExitCondition       *ExitCondition            `yaml:"exit_condition"`
	Extends             string                    `yaml:"extends"`
	StuckTimeoutMinutes int                       `yaml:"stuck_timeout_minutes"`
	Extra               map[string]any            `yaml:",inline"`
}

// UnmarshalYAML decodes a workflow with backward-compat handling.
func (w *WorkflowDefinition) UnmarshalYAML(value *yaml.Node) error {
	var raw workflowYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*w = WorkflowDefinition{
		Name:                raw.Name,
		Version:             raw.Version,
		Priority:            raw.Priority,
		Sources:             raw.Sources,
		Variables:           raw.Variables,
		SessionVariables:    raw.SessionVariables,
		RuleDefinitions:     raw.RuleDefinitions,
		Imports:             raw.Imports,
		ToolRules:           raw.ToolRules,
		Observers:           raw.Observers,
		Steps:               raw.Steps,
		Triggers:            raw.Triggers,
		OnError:             raw.OnError,
		OnPrematureStop:     raw.OnPrematureStop,
		ExitCondition:       raw.ExitCondition,
		Extends:             raw.Extends,
		StuckTimeoutMinutes: raw.StuckTimeoutMinutes,
		Extra:               raw.Extra,
	}
	if len(w.Steps) == 0 && len(raw.Phases) > 0 {
		w.Steps = raw.Phases
	}
	switch {
	case raw.Enabled != nil:
		w.Enabled = *raw.Enabled
	case raw.Type == "lifecycle":
		w.Enabled = true
	}
	return nil
}

// GetStep returns the step with the given name, or nil.
func (w *WorkflowDefinition) GetStep(name string) *WorkflowStep {
	for i := range w.Steps {
		if w.Steps[i].Name == name {
			return &w.Steps[i]
		}
	}
	return nil
}

// InitialStep returns the first declared step, or nil for step-less
// (trigger-only) workflows.
func (w *WorkflowDefinition) InitialStep() *WorkflowStep {
	if len(w.Steps) == 0 {
		return nil
	}
	return &w.Steps[0]
}

// StuckTimeout returns the effective stuck-step threshold in minutes.
func (w *WorkflowDefinition) StuckTimeout() int {
	if w.StuckTimeoutMinutes > 0 {
		return w.StuckTimeoutMinutes
	}
	return DefaultStuckTimeoutMinutes
}

// StuckTimeoutDuration returns the stuck-step threshold as a duration.
func (w *WorkflowDefinition) StuckTimeoutDuration() time.Duration {
	return time.Duration(w.StuckTimeout()) * time.Minute
}

// MatchesSource reports whether the workflow applies to events from the
// given assistant source. An empty sources list matches everything.
func (w *WorkflowDefinition) MatchesSource(source string) bool {
	if len(w.Sources) == 0 {
		return true
	}
	for _, s := range w.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// Validate checks structural invariants: unique step names and transition
// targets that exist.
func (w *WorkflowDefinition) Validate() error {
	seen := make(map[string]bool, len(w.Steps))
	for _, step := range w.Steps {
		if step.Name == "" {
			return fmt.Errorf("workflow %q: step with empty name", w.Name)
		}
		if seen[step.Name] {
			return fmt.Errorf("workflow %q: %w: %q", w.Name, ErrDuplicateStep, step.Name)
		}
		seen[step.Name] = true
	}
	for _, step := range w.Steps {
		for _, tr := range step.Transitions {
			if !seen[tr.To] {
				return fmt.Errorf("workflow %q step %q: %w: %q", w.Name, step.Name, ErrUnknownTransitionTarget, tr.To)
			}
		}
	}
	for i := range w.Observers {
		if err := w.Observers[i].Validate(); err != nil {
			return fmt.Errorf("workflow %q: %w", w.Name, err)
		}
	}
	return nil
}
