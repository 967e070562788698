package expression

import (
	"fmt"
	"sort"
	"strings"
)

// The safe method table. Only these receiver methods may appear in an
// expression; anything else fails the allow-list at compile time.
var safeMethods = map[string]bool{
	// dict
	"get": true, "keys": true, "values": true, "items": true,
	// str
	"strip": true, "lstrip": true, "rstrip": true,
	"startswith": true, "endswith": true,
	"lower": true, "upper": true, "split": true,
	// list
	"count": true, "index": true,
}

func isSafeMethod(name string) bool { return safeMethods[name] }

// callMethod dispatches a rewritten method call. The receiver type selects
// the namespace, matching the dict/str/list split of the method table.
func callMethod(target any, name string, args []any) (any, error) {
	switch recv := target.(type) {
	case map[string]any:
		return callMapMethod(recv, name, args)
	case string:
		return callStringMethod(recv, name, args)
	case []any:
		return callListMethod(recv, name, args)
	case nil:
		return nil, fmt.Errorf("method %q called on null", name)
	}
	return nil, fmt.Errorf("method %q not supported on %T", name, target)
}

func callMapMethod(m map[string]any, name string, args []any) (any, error) {
	switch name {
	case "get":
		if len(args) < 1 {
			return nil, fmt.Errorf("get: missing key argument")
		}
		key, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("get: key must be a string, got %T", args[0])
		}
		if v, ok := m[key]; ok {
			return v, nil
		}
		if len(args) > 1 {
			return args[1], nil
		}
		return nil, nil
	case "keys":
		keys := make([]any, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].(string) < keys[j].(string) })
		return keys, nil
	case "values":
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vals := make([]any, 0, len(m))
		for _, k := range keys {
			vals = append(vals, m[k])
		}
		return vals, nil
	case "items":
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]any, 0, len(m))
		for _, k := range keys {
			items = append(items, []any{k, m[k]})
		}
		return items, nil
	}
	return nil, fmt.Errorf("method %q not supported on dict", name)
}

func callStringMethod(s, name string, args []any) (any, error) {
	cutset := func() (string, bool) {
		if len(args) == 0 {
			return "", false
		}
		c, _ := args[0].(string)
		return c, true
	}
	switch name {
	case "strip":
		if c, ok := cutset(); ok {
			return strings.Trim(s, c), nil
		}
		return strings.TrimSpace(s), nil
	case "lstrip":
		if c, ok := cutset(); ok {
			return strings.TrimLeft(s, c), nil
		}
		return strings.TrimLeft(s, " \t\n\r"), nil
	case "rstrip":
		if c, ok := cutset(); ok {
			return strings.TrimRight(s, c), nil
		}
		return strings.TrimRight(s, " \t\n\r"), nil
	case "startswith":
		return matchesAffix(s, args, strings.HasPrefix)
	case "endswith":
		return matchesAffix(s, args, strings.HasSuffix)
	case "lower":
		return strings.ToLower(s), nil
	case "upper":
		return strings.ToUpper(s), nil
	case "split":
		if len(args) > 0 {
			sep, _ := args[0].(string)
			return toAnySlice(strings.Split(s, sep)), nil
		}
		return toAnySlice(strings.Fields(s)), nil
	}
	return nil, fmt.Errorf("method %q not supported on string", name)
}

// matchesAffix handles startswith/endswith with either a single string or a
// list of candidates.
func matchesAffix(s string, args []any, match func(string, string) bool) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("missing affix argument")
	}
	switch affix := args[0].(type) {
	case string:
		return match(s, affix), nil
	case []any:
		for _, a := range affix {
			str, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("affix list entries must be strings, got %T", a)
			}
			if match(s, str) {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, fmt.Errorf("affix must be a string or list, got %T", args[0])
}

func callListMethod(l []any, name string, args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("%s: missing argument", name)
	}
	switch name {
	case "count":
		n := 0
		for _, v := range l {
			if looseEqual(v, args[0]) {
				n++
			}
		}
		return n, nil
	case "index":
		for i, v := range l {
			if looseEqual(v, args[0]) {
				return i, nil
			}
		}
		return nil, fmt.Errorf("index: value not in list")
	}
	return nil, fmt.Errorf("method %q not supported on list", name)
}

// memberOf implements the "in" operator with Python semantics: substring
// test on strings, element membership on lists, key presence on dicts.
func memberOf(needle, haystack any) (bool, error) {
	switch h := haystack.(type) {
	case nil:
		return false, nil
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("'in' on a string requires a string operand, got %T", needle)
		}
		return strings.Contains(h, s), nil
	case []any:
		for _, v := range h {
			if looseEqual(v, needle) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		key, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("'in' on a dict requires a string key, got %T", needle)
		}
		_, present := h[key]
		return present, nil
	}
	return false, fmt.Errorf("'in' not supported on %T", haystack)
}

// looseEqual compares across the numeric types that YAML and JSON decoding
// produce interchangeably.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
