// Package loader discovers, parses, validates, and caches workflow and
// pipeline YAML from three roots: the project's .gobby/workflows directory,
// the user-level directory, and the bundled directory shipped with the
// daemon. Project files shadow user files, which shadow bundled files.
package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/gobby/definition"
)

// Kind selects which definition family a lookup targets.
type Kind string

const (
	KindWorkflow Kind = "workflow"
	KindPipeline Kind = "pipeline"
	KindRule     Kind = "rule"
)

var (
	// ErrNotFound is returned when no file for the requested name exists in
	// any search root.
	ErrNotFound = errors.New("workflow not found")
	// ErrCyclicInheritance is returned when extends chains form a cycle. The
	// message lists the full chain.
	ErrCyclicInheritance = errors.New("cyclic inheritance")
	// ErrImportNotFound is returned when a workflow imports a rule file that
	// does not exist.
	ErrImportNotFound = errors.New("imported rule file not found")
	// ErrAlwaysOn is returned when activation is attempted on an always-on
	// workflow.
	ErrAlwaysOn = errors.New("workflow is always-on and cannot be activated on demand")
)

// AgentDefinitionSource resolves qualified "agent:workflow" names against
// agent YAML before the loader falls back to disk.
type AgentDefinitionSource interface {
	// ResolveWorkflow returns the inline definition or the path of a workflow
	// declared by an agent. Exactly one of def and path is set on success.
	ResolveWorkflow(agent, workflow string) (def *definition.WorkflowDefinition, path string, err error)
}

// DiscoveredWorkflow is one workflow visible from a project, in evaluation
// order.
type DiscoveredWorkflow struct {
	Name       string
	Definition *definition.WorkflowDefinition
	Priority   int
	IsProject  bool
	Path       string
}

// Loader loads definitions with inheritance, imports, and an mtime-validated
// cache. Safe for concurrent use.
type Loader struct {
	userDir     string
	bundledDir  string
	agentSource AgentDefinitionSource
	logger      *slog.Logger

	mu        sync.Mutex
	discovery map[string]*discoveryEntry
}

type discoveryEntry struct {
	items  []DiscoveredWorkflow
	mtimes map[string]time.Time
}

// Option configures a Loader.
type Option func(*Loader)

// WithUserDir overrides the user-level workflow directory.
func WithUserDir(dir string) Option { return func(l *Loader) { l.userDir = dir } }

// WithBundledDir sets the bundled workflow directory.
func WithBundledDir(dir string) Option { return func(l *Loader) { l.bundledDir = dir } }

// WithAgentSource sets the resolver for qualified agent:workflow names.
func WithAgentSource(s AgentDefinitionSource) Option { return func(l *Loader) { l.agentSource = s } }

// WithLogger sets the loader's logger.
func WithLogger(lg *slog.Logger) Option { return func(l *Loader) { l.logger = lg } }

// New creates a Loader. The default user directory is ~/.gobby/workflows.
func New(opts ...Option) *Loader {
	l := &Loader{
		logger:    slog.Default(),
		discovery: make(map[string]*discoveryEntry),
	}
	if home, err := os.UserHomeDir(); err == nil {
		l.userDir = filepath.Join(home, ".gobby", "workflows")
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// searchDirs returns the search roots in priority order for a project.
func (l *Loader) searchDirs(projectPath string) []searchDir {
	var dirs []searchDir
	if projectPath != "" {
		dirs = append(dirs, searchDir{filepath.Join(projectPath, ".gobby", "workflows"), true})
	}
	if l.userDir != "" {
		dirs = append(dirs, searchDir{l.userDir, false})
	}
	if l.bundledDir != "" {
		dirs = append(dirs, searchDir{l.bundledDir, false})
	}
	return dirs
}

type searchDir struct {
	path      string
	isProject bool
}

// findFile locates the highest-priority file for a name.
func (l *Loader) findFile(name, projectPath string) (path string, isProject bool, err error) {
	for _, dir := range l.searchDirs(projectPath) {
		for _, ext := range []string{".yaml", ".yml"} {
			candidate := filepath.Join(dir.path, name+ext)
			if _, statErr := os.Stat(candidate); statErr == nil {
				return candidate, dir.isProject, nil
			}
		}
	}
	return "", false, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Discover returns every workflow visible from projectPath: project entries
// first, then the remainder ordered by (priority asc, name asc). Entries
// with the same name are shadowed by the higher-priority root. Results are
// cached per project path and invalidated when any source file changes.
func (l *Loader) Discover(projectPath string) ([]DiscoveredWorkflow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := "workflow:" + projectPath
	if entry, ok := l.discovery[key]; ok && l.cacheValid(entry) {
		return entry.items, nil
	}

	entry := &discoveryEntry{mtimes: make(map[string]time.Time)}
	seen := make(map[string]bool)
	var project, rest []DiscoveredWorkflow

	for _, dir := range l.searchDirs(projectPath) {
		names, err := listYAML(dir.path)
		if err != nil {
			continue
		}
		for _, path := range names {
			name := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".yaml"), ".yml")
			if seen[name] {
				continue
			}
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			def, err := l.loadWorkflowLocked(name, projectPath, nil)
			if err != nil {
				if errors.Is(err, errNotWorkflow) {
					continue
				}
				l.logger.Warn("skipping unloadable workflow", "name", name, "path", path, "error", err)
				continue
			}
			seen[name] = true
			entry.mtimes[path] = info.ModTime()
			d := DiscoveredWorkflow{
				Name:       name,
				Definition: def,
				Priority:   def.Priority,
				IsProject:  dir.isProject,
				Path:       path,
			}
			if dir.isProject {
				project = append(project, d)
			} else {
				rest = append(rest, d)
			}
		}
	}

	sortDiscovered(project)
	sortDiscovered(rest)
	entry.items = append(project, rest...)
	l.discovery[key] = entry
	return entry.items, nil
}

func sortDiscovered(items []DiscoveredWorkflow) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].Name < items[j].Name
	})
}

// cacheValid re-stats every recorded file; any change invalidates.
func (l *Loader) cacheValid(entry *discoveryEntry) bool {
	for path, mtime := range entry.mtimes {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Equal(mtime) {
			return false
		}
	}
	return true
}

// ClearCache drops all cached discovery results. Safe to call concurrently;
// readers simply take a fresh lookup.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discovery = make(map[string]*discoveryEntry)
}

// LoadWorkflow loads a workflow by name, resolving inheritance and imports.
// Qualified names ("agent:workflow") are resolved through the agent source
// first.
func (l *Loader) LoadWorkflow(name, projectPath string) (*definition.WorkflowDefinition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadWorkflowLocked(name, projectPath, nil)
}

// LoadPipeline loads and validates a pipeline definition by name.
func (l *Loader) LoadPipeline(name, projectPath string) (*definition.PipelineDefinition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, _, err := l.loadRawChain(name, projectPath, nil)
	if err != nil {
		return nil, err
	}
	pipeline, err := decodePipeline(raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", name, err)
	}
	if pipeline.Name == "" {
		pipeline.Name = name
	}
	if err := pipeline.Validate(); err != nil {
		return nil, err
	}
	return pipeline, nil
}

// ValidateForActivation checks that a workflow may be activated on demand.
// Always-on (enabled) workflows cannot be.
func (l *Loader) ValidateForActivation(name, projectPath string) (*definition.WorkflowDefinition, error) {
	def, err := l.LoadWorkflow(name, projectPath)
	if err != nil {
		return nil, err
	}
	if def.Enabled {
		return nil, fmt.Errorf("%w: %q", ErrAlwaysOn, name)
	}
	return def, nil
}

func listYAML(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
