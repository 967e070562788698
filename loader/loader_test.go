package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWorkflow drops a YAML file into dir, creating it as needed.
func writeWorkflow(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0o644))
}

func projectWorkflowsDir(projectPath string) string {
	return filepath.Join(projectPath, ".gobby", "workflows")
}

func newTestLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	userDir := t.TempDir()
	project := t.TempDir()
	return New(WithUserDir(userDir)), project
}

func TestLoadWorkflowBasic(t *testing.T) {
	ld, project := newTestLoader(t)
	writeWorkflow(t, projectWorkflowsDir(project), "dev", `
name: dev
steps:
  - name: plan
  - name: implement
`)
	wf, err := ld.LoadWorkflow("dev", project)
	require.NoError(t, err)
	assert.Equal(t, "dev", wf.Name)
	require.Len(t, wf.Steps, 2)
	assert.False(t, wf.Enabled)
}

func TestLoadWorkflowNotFound(t *testing.T) {
	ld, project := newTestLoader(t)
	_, err := ld.LoadWorkflow("ghost", project)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCyclicInheritanceRejected(t *testing.T) {
	ld, project := newTestLoader(t)
	dir := projectWorkflowsDir(project)
	writeWorkflow(t, dir, "a", "extends: b\n")
	writeWorkflow(t, dir, "b", "extends: a\n")

	_, err := ld.LoadWorkflow("a", project)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclicInheritance)
	assert.Contains(t, err.Error(), "a -> b -> a")
}

func TestInheritanceMergesStepsByName(t *testing.T) {
	ld, project := newTestLoader(t)
	dir := projectWorkflowsDir(project)
	writeWorkflow(t, dir, "base", `
name: base
stuck_timeout_minutes: 15
steps:
  - name: plan
    status_message: "planning"
  - name: implement
`)
	writeWorkflow(t, dir, "child", `
extends: base
name: child
steps:
  - name: plan
    status_message: "planning harder"
`)
	wf, err := ld.LoadWorkflow("child", project)
	require.NoError(t, err)
	assert.Equal(t, "child", wf.Name)
	assert.Equal(t, 15, wf.StuckTimeout())
	require.Len(t, wf.Steps, 2)
	assert.Equal(t, "planning harder", wf.GetStep("plan").StatusMessage)
	assert.NotNil(t, wf.GetStep("implement"))
}

func TestImportsMergeWithLocalOverride(t *testing.T) {
	ld, project := newTestLoader(t)
	dir := projectWorkflowsDir(project)
	writeWorkflow(t, dir, "safety-rules", `
name: safety-rules
rule_definitions:
  no_force_push:
    tools: [Bash]
    command_pattern: "push --force"
    action: block
  shared:
    tools: [Bash]
    action: warn
`)
	writeWorkflow(t, dir, "guarded", `
name: guarded
imports: [safety-rules]
rule_definitions:
  shared:
    tools: [Bash]
    action: block
steps:
  - name: work
    check_rules: [no_force_push, shared]
`)
	wf, err := ld.LoadWorkflow("guarded", project)
	require.NoError(t, err)
	require.Contains(t, wf.RuleDefinitions, "no_force_push")
	// the workflow's own definition shadows the imported one
	assert.Equal(t, "block", wf.RuleDefinitions["shared"].Action)
}

func TestImportNotFound(t *testing.T) {
	ld, project := newTestLoader(t)
	writeWorkflow(t, projectWorkflowsDir(project), "broken", `
name: broken
imports: [missing-rules]
`)
	_, err := ld.LoadWorkflow("broken", project)
	assert.ErrorIs(t, err, ErrImportNotFound)
}

func TestProjectShadowsUserDir(t *testing.T) {
	userDir := t.TempDir()
	project := t.TempDir()
	ld := New(WithUserDir(userDir))

	writeWorkflow(t, userDir, "dev", "name: dev\npriority: 5\n")
	writeWorkflow(t, projectWorkflowsDir(project), "dev", "name: dev\npriority: 1\n")

	wf, err := ld.LoadWorkflow("dev", project)
	require.NoError(t, err)
	assert.Equal(t, 1, wf.Priority)
}

func TestDiscoverOrdersProjectFirst(t *testing.T) {
	userDir := t.TempDir()
	project := t.TempDir()
	ld := New(WithUserDir(userDir))

	writeWorkflow(t, userDir, "zeta", "name: zeta\npriority: 1\n")
	writeWorkflow(t, userDir, "alpha", "name: alpha\npriority: 1\n")
	writeWorkflow(t, projectWorkflowsDir(project), "local", "name: local\npriority: 9\n")

	items, err := ld.Discover(project)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "local", items[0].Name)
	assert.True(t, items[0].IsProject)
	assert.Equal(t, "alpha", items[1].Name)
	assert.Equal(t, "zeta", items[2].Name)
}

func TestDiscoverCacheInvalidatesOnChange(t *testing.T) {
	ld, project := newTestLoader(t)
	dir := projectWorkflowsDir(project)
	writeWorkflow(t, dir, "dev", "name: dev\n")

	items, err := ld.Discover(project)
	require.NoError(t, err)
	require.Len(t, items, 1)

	ld.ClearCache()
	writeWorkflow(t, dir, "extra", "name: extra\n")
	items, err = ld.Discover(project)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestValidateForActivationRejectsAlwaysOn(t *testing.T) {
	ld, project := newTestLoader(t)
	writeWorkflow(t, projectWorkflowsDir(project), "guard", `
name: guard
enabled: true
steps:
  - name: only
`)
	_, err := ld.ValidateForActivation("guard", project)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlwaysOn)
	assert.Contains(t, err.Error(), "always-on")
}

func TestLoadWorkflowRejectsPipelineFile(t *testing.T) {
	ld, project := newTestLoader(t)
	writeWorkflow(t, projectWorkflowsDir(project), "deploy", `
name: deploy
type: pipeline
steps:
  - id: build
    exec: make
`)
	_, err := ld.LoadWorkflow("deploy", project)
	assert.Error(t, err)

	p, err := ld.LoadPipeline("deploy", project)
	require.NoError(t, err)
	assert.Equal(t, "deploy", p.Name)
	require.Len(t, p.Steps, 1)
}
