package expression

import (
	"fmt"
	"strconv"
)

// Helpers supplies the closed function table available to expressions. All
// handles are optional; absent handles make the corresponding helper return
// a safe default instead of failing the condition.
type Helpers struct {
	// TaskTreeComplete reports whether a task and all its descendants are
	// closed. Nil means "unknown", which evaluates to false.
	TaskTreeComplete func(taskID string) bool
	// TaskNeedsUserReview reports whether any task in the tree awaits review.
	TaskNeedsUserReview func(taskID string) bool
	// HasStopSignal reports a pending stop signal for the session.
	HasStopSignal func(sessionID string) bool
	// Conditions holds plugin-registered condition callables, merged into the
	// function table under their registered names.
	Conditions map[string]any
}

// buildEnv assembles the evaluation environment: the caller context overlaid
// with the function table, the internal dispatch functions, and Python-style
// literal aliases.
func (e *Evaluator) buildEnv(ctx map[string]any) map[string]any {
	env := make(map[string]any, len(ctx)+24)
	for k, v := range ctx {
		env[k] = v
	}

	env["None"] = nil
	env["True"] = true
	env["False"] = false

	env["__truth"] = Truthy
	env["__in"] = memberOf
	env["__method"] = func(target any, name string, args ...any) (any, error) {
		return callMethod(target, name, args)
	}

	env["len"] = lengthOf
	env["bool"] = Truthy
	env["str"] = toString
	env["int"] = toInt
	env["list"] = toList
	env["dict"] = toDict

	h := e.helpers
	env["task_tree_complete"] = func(taskID string) bool {
		if h.TaskTreeComplete == nil {
			return false
		}
		return h.TaskTreeComplete(taskID)
	}
	env["task_needs_user_review"] = func(taskID string) bool {
		if h.TaskNeedsUserReview == nil {
			return false
		}
		return h.TaskNeedsUserReview(taskID)
	}
	env["has_stop_signal"] = func(sessionID string) bool {
		if h.HasStopSignal == nil {
			return false
		}
		return h.HasStopSignal(sessionID)
	}

	vars, _ := ctx["variables"].(map[string]any)
	env["mcp_called"] = func(server string, tool ...string) bool {
		calls := mcpTable(vars, "mcp_calls")
		entry, ok := calls[server]
		if !ok {
			return false
		}
		if len(tool) == 0 {
			return true
		}
		list, _ := entry.([]any)
		for _, t := range list {
			if t == tool[0] {
				return true
			}
		}
		return false
	}
	env["mcp_result_is_null"] = func(server, tool string) bool {
		result, ok := mcpResult(vars, server, tool)
		return ok && result == nil
	}
	env["mcp_failed"] = func(server, tool string) bool {
		errs := mcpTable(vars, "mcp_errors")
		list, _ := errs[server].([]any)
		for _, t := range list {
			if t == tool {
				return true
			}
		}
		return false
	}
	env["mcp_result_has"] = func(server, tool, field string, value any) bool {
		result, ok := mcpResult(vars, server, tool)
		if !ok {
			return false
		}
		m, ok := result.(map[string]any)
		if !ok {
			return false
		}
		return looseEqual(m[field], value)
	}

	for name, fn := range h.Conditions {
		env[name] = fn
	}
	return env
}

func mcpTable(vars map[string]any, key string) map[string]any {
	if vars == nil {
		return nil
	}
	m, _ := vars[key].(map[string]any)
	return m
}

func mcpResult(vars map[string]any, server, tool string) (any, bool) {
	results := mcpTable(vars, "mcp_results")
	byServer, ok := results[server].(map[string]any)
	if !ok {
		return nil, false
	}
	result, ok := byServer[tool]
	return result, ok
}

func lengthOf(v any) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		return len(t), nil
	case []any:
		return len(t), nil
	case map[string]any:
		return len(t), nil
	}
	return 0, fmt.Errorf("len: unsupported type %T", v)
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.Atoi(t)
	}
	return 0, fmt.Errorf("int: unsupported type %T", v)
}

func toList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case string:
		out := make([]any, 0, len(t))
		for _, r := range t {
			out = append(out, string(r))
		}
		return out
	default:
		return []any{t}
	}
}

func toDict(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
