package definition

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrDuplicatePipelineStep is returned for repeated step IDs.
	ErrDuplicatePipelineStep = errors.New("duplicate pipeline step id")
	// ErrPipelineForwardRef is returned when a step references output from a
	// step that does not run strictly before it.
	ErrPipelineForwardRef = errors.New("pipeline step references a later or unknown step")
	// ErrPipelineExecMode is returned when a step has zero or multiple
	// execution modes.
	ErrPipelineExecMode = errors.New("pipeline step must have exactly one execution mode")
)

// stepRefPattern matches $step_id.output / $step_id.approved / $step_id.status
// references inside step fields.
var stepRefPattern = regexp.MustCompile(`\$([a-zA-Z0-9_-]+)\.(output|approved|status)`)

// PipelineDefinition is a sequential DAG of typed steps with explicit
// $id.output data flow.
type PipelineDefinition struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Version     string            `yaml:"version"`
	Variables   map[string]any    `yaml:"variables"`
	Steps       []PipelineStep    `yaml:"steps"`
	Outputs     map[string]string `yaml:"outputs"`
	Extends     string            `yaml:"extends"`
}

// PipelineStep is one pipeline stage. Exactly one execution mode must be
// set: exec, prompt, invoke_pipeline, mcp, spawn_session, or
// activate_workflow.
type PipelineStep struct {
	ID               string         `yaml:"id"`
	Description      string         `yaml:"description"`
	Exec             string         `yaml:"exec"`
	Prompt           string         `yaml:"prompt"`
	InvokePipeline   string         `yaml:"invoke_pipeline"`
	MCP              *PipelineMCP   `yaml:"mcp"`
	SpawnSession     *SpawnSession  `yaml:"spawn_session"`
	ActivateWorkflow string         `yaml:"activate_workflow"`
	Condition        string         `yaml:"condition"`
	Input            string         `yaml:"input"`
	RequireApproval  bool           `yaml:"require_approval"`
	TimeoutSeconds   int            `yaml:"timeout_seconds"`
	Env              map[string]any `yaml:"env"`
}

// PipelineMCP describes an MCP tool invocation step.
type PipelineMCP struct {
	Server string         `yaml:"server"`
	Tool   string         `yaml:"tool"`
	Args   map[string]any `yaml:"args"`
}

// SpawnSession describes a child assistant session step.
type SpawnSession struct {
	Prompt   string `yaml:"prompt"`
	Workflow string `yaml:"workflow"`
	Source   string `yaml:"source"`
}

// executionModes counts the step's declared modes.
func (s *PipelineStep) executionModes() int {
	n := 0
	if s.Exec != "" {
		n++
	}
	if s.Prompt != "" {
		n++
	}
	if s.InvokePipeline != "" {
		n++
	}
	if s.MCP != nil {
		n++
	}
	if s.SpawnSession != nil {
		n++
	}
	if s.ActivateWorkflow != "" {
		n++
	}
	return n
}

// Validate checks pipeline invariants: unique step IDs, exactly one
// execution mode per step, and step references that resolve to strictly
// earlier steps. References in outputs may point at any step.
func (p *PipelineDefinition) Validate() error {
	ids := make(map[string]int, len(p.Steps))
	for i, step := range p.Steps {
		if step.ID == "" {
			return fmt.Errorf("pipeline %q: step %d has empty id", p.Name, i)
		}
		if _, ok := ids[step.ID]; ok {
			return fmt.Errorf("pipeline %q: %w: %q", p.Name, ErrDuplicatePipelineStep, step.ID)
		}
		ids[step.ID] = i
	}

	for i, step := range p.Steps {
		if step.executionModes() != 1 {
			return fmt.Errorf("pipeline %q step %q: %w", p.Name, step.ID, ErrPipelineExecMode)
		}
		for _, field := range []string{step.Exec, step.Prompt, step.Condition, step.Input} {
			for _, ref := range stepRefPattern.FindAllStringSubmatch(field, -1) {
				target, ok := ids[ref[1]]
				if !ok || target >= i {
					return fmt.Errorf("pipeline %q step %q: %w: $%s.%s",
						p.Name, step.ID, ErrPipelineForwardRef, ref[1], ref[2])
				}
			}
		}
	}

	for name, out := range p.Outputs {
		for _, ref := range stepRefPattern.FindAllStringSubmatch(out, -1) {
			if _, ok := ids[ref[1]]; !ok {
				return fmt.Errorf("pipeline %q output %q: %w: $%s.%s",
					p.Name, name, ErrPipelineForwardRef, ref[1], ref[2])
			}
		}
	}
	return nil
}
