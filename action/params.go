package action

import "fmt"

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	s, _ := params[key].(string)
	return s
}

func requireStringParam(params map[string]any, key string) (string, error) {
	s := stringParam(params, key)
	if s == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return s, nil
}

func intParam(params map[string]any, key string, def int) int {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func boolParam(params map[string]any, key string) bool {
	if params == nil {
		return false
	}
	b, _ := params[key].(bool)
	return b
}

func mapParam(params map[string]any, key string) map[string]any {
	if params == nil {
		return nil
	}
	m, _ := params[key].(map[string]any)
	return m
}

func listParam(params map[string]any, key string) []any {
	if params == nil {
		return nil
	}
	l, _ := params[key].([]any)
	return l
}
