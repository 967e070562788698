package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const todoFileName = "TODO.md"

// actionWriteTodos writes a project-level TODO file from a list of items.
func actionWriteTodos(_ context.Context, ac *Context, params map[string]any) (*Result, error) {
	items := listParam(params, "items")
	if len(items) == 0 {
		return nil, fmt.Errorf("write_todos requires a non-empty \"items\" list")
	}
	var b strings.Builder
	b.WriteString("# TODO\n\n")
	for _, item := range items {
		fmt.Fprintf(&b, "- [ ] %v\n", item)
	}
	path := filepath.Join(ac.ProjectPath, todoFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write todos: %w", err)
	}
	result := &Result{}
	result.SetVar("todo_count", len(items))
	return result, nil
}

// actionMarkTodoComplete checks off the first TODO entry matching the given
// text.
func actionMarkTodoComplete(_ context.Context, ac *Context, params map[string]any) (*Result, error) {
	match, err := requireStringParam(params, "item")
	if err != nil {
		return nil, err
	}
	path := filepath.Join(ac.ProjectPath, todoFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read todos: %w", err)
	}
	lines := strings.Split(string(data), "\n")
	done := false
	for i, line := range lines {
		if !done && strings.HasPrefix(line, "- [ ]") && strings.Contains(line, match) {
			lines[i] = strings.Replace(line, "- [ ]", "- [x]", 1)
			done = true
		}
	}
	if !done {
		return nil, fmt.Errorf("no open todo matches %q", match)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return nil, fmt.Errorf("write todos: %w", err)
	}
	return nil, nil
}

// actionPersistTasks bulk-creates tasks from a list of dicts.
func actionPersistTasks(ctx context.Context, ac *Context, params map[string]any) (*Result, error) {
	if ac.Tasks == nil {
		return nil, fmt.Errorf("task manager not available")
	}
	items := listParam(params, "tasks")
	if len(items) == 0 {
		return nil, fmt.Errorf("persist_tasks requires a non-empty \"tasks\" list")
	}

	var created []any
	for i, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("task %d: expected a map, got %T", i, item)
		}
		title, _ := fields["title"].(string)
		if title == "" {
			return nil, fmt.Errorf("task %d: missing title", i)
		}
		desc, _ := fields["description"].(string)
		status, _ := fields["status"].(string)
		task := &Task{Title: title, Description: desc, Status: status}
		if p, ok := fields["priority"].(int); ok {
			task.Priority = p
		}
		saved, err := ac.Tasks.CreateTask(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("create task %q: %w", title, err)
		}
		created = append(created, saved.ID)
	}
	result := &Result{}
	result.SetVar("persisted_task_ids", created)
	return result, nil
}
