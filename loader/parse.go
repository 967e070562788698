package loader

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/GoCodeAlone/gobby/definition"
	"gopkg.in/yaml.v3"
)

// errNotWorkflow marks a YAML file that parses but is not a workflow (for
// example a pipeline found during workflow discovery).
var errNotWorkflow = errors.New("not a workflow definition")

// loadWorkflowLocked loads one workflow with inheritance and imports
// resolved. chain carries the extends path for cycle detection; callers pass
// nil. The loader mutex must be held.
func (l *Loader) loadWorkflowLocked(name, projectPath string, chain []string) (*definition.WorkflowDefinition, error) {
	if agent, wf, ok := splitQualifiedName(name); ok && l.agentSource != nil {
		def, path, err := l.agentSource.ResolveWorkflow(agent, wf)
		if err == nil && def != nil {
			if err := def.Validate(); err != nil {
				return nil, err
			}
			return def, nil
		}
		if err == nil && path != "" {
			raw, err := readRaw(path)
			if err != nil {
				return nil, err
			}
			return l.finishWorkflow(name, projectPath, raw, chain)
		}
		// fall through to disk on resolution failure
	}

	raw, _, err := l.loadRawChain(name, projectPath, chain)
	if err != nil {
		return nil, err
	}
	return l.finishWorkflow(name, projectPath, raw, chain)
}

// finishWorkflow routes by type, decodes, resolves imports, and validates.
func (l *Loader) finishWorkflow(name, projectPath string, raw map[string]any, chain []string) (*definition.WorkflowDefinition, error) {
	if t, _ := raw["type"].(string); t == "pipeline" {
		return nil, fmt.Errorf("%w: %q is a pipeline", errNotWorkflow, name)
	}

	def, err := decodeWorkflow(raw)
	if err != nil {
		return nil, fmt.Errorf("workflow %q: %w", name, err)
	}
	if def.Name == "" {
		def.Name = name
	}

	if len(def.Imports) > 0 {
		merged := make(map[string]definition.RuleDefinition)
		for _, imp := range def.Imports {
			file, err := l.loadRuleFile(imp, projectPath)
			if err != nil {
				return nil, fmt.Errorf("workflow %q: %w", name, err)
			}
			for ruleName, rule := range file.RuleDefinitions {
				merged[ruleName] = rule
			}
		}
		// local definitions override imported ones
		for ruleName, rule := range def.RuleDefinitions {
			merged[ruleName] = rule
		}
		def.RuleDefinitions = merged
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// loadRawChain reads a definition file as a raw map, recursively resolving
// extends with cycle detection.
func (l *Loader) loadRawChain(name, projectPath string, chain []string) (map[string]any, bool, error) {
	for _, visited := range chain {
		if visited == name {
			return nil, false, fmt.Errorf("%w: %s", ErrCyclicInheritance,
				strings.Join(append(chain, name), " -> "))
		}
	}
	chain = append(chain, name)

	path, isProject, err := l.findFile(name, projectPath)
	if err != nil {
		return nil, false, err
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, false, err
	}

	parentName, _ := raw["extends"].(string)
	if parentName == "" {
		return raw, isProject, nil
	}
	parent, _, err := l.loadRawChain(parentName, projectPath, chain)
	if err != nil {
		return nil, false, err
	}
	return mergeDefinitions(parent, raw), isProject, nil
}

// loadRuleFile loads an importable rule file from the search roots.
func (l *Loader) loadRuleFile(name, projectPath string) (*definition.RuleFile, error) {
	path, _, err := l.findFile(name, projectPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrImportNotFound, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file %q: %w", path, err)
	}
	var file definition.RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rule file %q: %w", path, err)
	}
	return &file, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %q: %w", path, err)
	}
	return raw, nil
}

func decodeWorkflow(raw map[string]any) (*definition.WorkflowDefinition, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var def definition.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func decodePipeline(raw map[string]any) (*definition.PipelineDefinition, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var def definition.PipelineDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func splitQualifiedName(name string) (agent, workflow string, ok bool) {
	idx := strings.Index(name, ":")
	if idx <= 0 || idx == len(name)-1 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}
