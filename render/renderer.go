// Package render is the string-template renderer used by actions and
// observers. Templates are Go text/template syntax with one loosening: bare
// context names may be written without the leading dot ("{{ task.title }}"),
// which is how workflow YAML authors write them. The single registered
// filter is regex_search.
package render

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// templateKeywords are template actions that must not be rewritten into
// context lookups.
var templateKeywords = map[string]bool{
	"if": true, "else": true, "end": true, "range": true, "with": true,
	"template": true, "define": true, "block": true, "not": true,
	"and": true, "or": true, "eq": true, "ne": true, "lt": true,
	"le": true, "gt": true, "ge": true, "len": true, "index": true,
	"printf": true, "print": true, "println": true,
	"true": true, "false": true, "nil": true,
}

// Renderer renders workflow templates against a context map. Safe for
// concurrent use.
type Renderer struct {
	funcs template.FuncMap
}

// New creates a Renderer with the standard filter set.
func New() *Renderer {
	return &Renderer{
		funcs: template.FuncMap{
			"regex_search": regexSearch,
		},
	}
}

// Render executes tmpl against ctx. Render errors are returned to the
// calling action; they never escalate past it.
func (r *Renderer) Render(tmpl string, ctx map[string]any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}
	normalized := normalizeRefs(tmpl)
	t, err := template.New("workflow").Funcs(r.funcs).Option("missingkey=zero").Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, ctx); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	// missingkey=zero prints "<no value>" for untyped nils; scrub it.
	return strings.ReplaceAll(b.String(), "<no value>", ""), nil
}

// regexSearch extracts a capture group (default 1, falling back to the whole
// match when the pattern has no groups) from the first match of pattern in s.
func regexSearch(pattern, s string, group ...int) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("regex_search: %w", err)
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", nil
	}
	g := 1
	if len(group) > 0 {
		g = group[0]
	}
	if g >= len(m) {
		g = 0
	}
	return m[g], nil
}

var actionRe = regexp.MustCompile(`\{\{-?\s*([^{}]*?)\s*-?\}\}`)
var identRe = regexp.MustCompile(`(^|[\s(|])([a-zA-Z_][a-zA-Z0-9_.]*)`)

// normalizeRefs prefixes bare context references inside template actions
// with a dot, leaving keywords, functions, quoted strings, and
// already-dotted paths alone.
func normalizeRefs(tmpl string) string {
	return actionRe.ReplaceAllStringFunc(tmpl, func(action string) string {
		inner := actionRe.FindStringSubmatch(action)[1]
		return strings.Replace(action, inner, rewriteAction(inner), 1)
	})
}

func rewriteAction(inner string) string {
	var b strings.Builder
	var quote byte
	start := 0
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		switch {
		case quote != 0:
			if c == quote && inner[i-1] != '\\' {
				b.WriteString(inner[start : i+1])
				start = i + 1
				quote = 0
			}
		case c == '"' || c == '`':
			b.WriteString(dotRefs(inner[start:i]))
			start = i
			quote = c
		}
	}
	if start < len(inner) {
		seg := inner[start:]
		if quote != 0 {
			b.WriteString(seg)
		} else {
			b.WriteString(dotRefs(seg))
		}
	}
	return b.String()
}

func dotRefs(seg string) string {
	return identRe.ReplaceAllStringFunc(seg, func(tok string) string {
		m := identRe.FindStringSubmatch(tok)
		prefix, name := m[1], m[2]
		root := name
		if i := strings.IndexByte(name, '.'); i >= 0 {
			root = name[:i]
		}
		if templateKeywords[root] || root == "regex_search" {
			return tok
		}
		return prefix + "." + name
	})
}
