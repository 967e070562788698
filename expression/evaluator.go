// Package expression evaluates workflow trigger and rule conditions. It is a
// restricted infix expression language: parsing is delegated to expr-lang,
// but every AST node is checked against an allow-list before execution, and
// method calls are rewritten to dispatch through a closed method table. There
// is no fallback to language-level eval of any kind.
package expression

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
)

// ErrUndefinedVariable is returned when an expression references a name that
// is neither in the evaluation context nor in the helper function table.
var ErrUndefinedVariable = errors.New("undefined variable")

// ErrUnsafeExpression is returned when an expression contains a construct
// outside the allow-list.
var ErrUnsafeExpression = errors.New("unsafe expression")

// Evaluator compiles and runs boolean conditions against a context map.
// The zero value is not usable; construct with New.
type Evaluator struct {
	helpers *Helpers
	logger  *slog.Logger
}

// New creates an Evaluator. helpers may be nil, in which case the domain
// helper functions return safe defaults. logger may be nil.
func New(helpers *Helpers, logger *slog.Logger) *Evaluator {
	if helpers == nil {
		helpers = &Helpers{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{helpers: helpers, logger: logger}
}

// Evaluate runs a boolean condition against ctx. Any evaluation failure
// (parse error, unsafe construct, undefined variable, type error) is logged
// at warning level and yields false: conditions in trigger paths must never
// take the daemon down.
func (e *Evaluator) Evaluate(src string, ctx map[string]any) bool {
	ok, err := e.EvaluateStrict(src, ctx)
	if err != nil {
		e.logger.Warn("expression evaluation failed", "expr", src, "error", err)
		return false
	}
	return ok
}

// EvaluateStrict runs a boolean condition and surfaces the error instead of
// swallowing it.
func (e *Evaluator) EvaluateStrict(src string, ctx map[string]any) (bool, error) {
	v, err := e.Value(src, ctx)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Value evaluates an expression and returns its raw result.
func (e *Evaluator) Value(src string, ctx map[string]any) (any, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrUnsafeExpression)
	}
	src = rewriteIsOperators(src)

	env := e.buildEnv(ctx)

	guard := &safetyPatcher{env: env}
	program, err := expr.Compile(src, expr.Patch(guard))
	if err != nil {
		if guard.err != nil {
			return nil, guard.err
		}
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	if guard.err != nil {
		return nil, guard.err
	}
	for _, name := range guard.identifiers {
		if _, ok := env[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUndefinedVariable, name)
		}
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", src, err)
	}
	return out, nil
}

// rewriteIsOperators converts Python-style identity comparisons ("is",
// "is not") into equality operators, skipping quoted string literals.
func rewriteIsOperators(src string) string {
	var b strings.Builder
	fields := splitOutsideQuotes(src)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if f.quoted {
			b.WriteString(f.text)
			continue
		}
		words := strings.Split(f.text, " ")
		for j := 0; j < len(words); j++ {
			if words[j] == "is" {
				if j+1 < len(words) && words[j+1] == "not" {
					words[j] = "!="
					words = append(words[:j+1], words[j+2:]...)
				} else {
					words[j] = "=="
				}
			}
		}
		b.WriteString(strings.Join(words, " "))
	}
	return b.String()
}

type srcField struct {
	text   string
	quoted bool
}

// splitOutsideQuotes splits source text into alternating unquoted and quoted
// segments so token rewrites never touch string literals.
func splitOutsideQuotes(src string) []srcField {
	var fields []srcField
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote && (i == 0 || src[i-1] != '\\') {
				fields = append(fields, srcField{cur.String(), true})
				cur.Reset()
				quote = 0
			}
		case c == '\'' || c == '"':
			if cur.Len() > 0 {
				fields = append(fields, srcField{cur.String(), false})
				cur.Reset()
			}
			quote = c
			cur.WriteByte(c)
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, srcField{cur.String(), quote != 0})
	}
	return fields
}

var allowedBinaryOps = map[string]bool{
	"and": true, "&&": true,
	"or": true, "||": true,
	"==": true, "!=": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"in": true, "not in": true, "contains": true,
}

var comparisonOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

var allowedUnaryOps = map[string]bool{
	"not": true, "!": true, "-": true, "+": true,
}

var allowedBuiltins = map[string]bool{
	"len": true, "int": true, "float": true, "string": true, "abs": true,
}

// safetyPatcher enforces the AST allow-list during compilation and rewrites
// two constructs: method calls become dispatches through the safe method
// table, and boolean combinator operands are wrapped in truthiness coercion
// so non-boolean operands behave like conventional dynamic-language truth.
type safetyPatcher struct {
	env         map[string]any
	identifiers []string
	err         error
}

func (p *safetyPatcher) fail(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s", ErrUnsafeExpression, fmt.Sprintf(format, args...))
	}
}

func truthCall(n ast.Node) ast.Node {
	return &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: "__truth"},
		Arguments: []ast.Node{n},
	}
}

// inCall dispatches membership through __in, giving "in" Python semantics:
// substring on strings, element membership on lists, key presence on dicts.
func inCall(needle, haystack ast.Node) ast.Node {
	return &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: "__in"},
		Arguments: []ast.Node{needle, haystack},
	}
}

func (p *safetyPatcher) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.NilNode, *ast.IntegerNode, *ast.FloatNode, *ast.BoolNode,
		*ast.StringNode, *ast.ConstantNode, *ast.ArrayNode, *ast.PairNode,
		*ast.MapNode, *ast.SliceNode, *ast.ChainNode:
		// literals and containers are always safe

	case *ast.IdentifierNode:
		p.identifiers = append(p.identifiers, n.Value)

	case *ast.MemberNode:
		// attribute access and subscripts are permitted; what they can be
		// called on is constrained by the method table below

	case *ast.UnaryNode:
		if !allowedUnaryOps[n.Operator] {
			p.fail("unary operator %q", n.Operator)
			return
		}
		if n.Operator == "not" || n.Operator == "!" {
			ast.Patch(node, &ast.UnaryNode{Operator: "!", Node: truthCall(n.Node)})
		}

	case *ast.BinaryNode:
		if !allowedBinaryOps[n.Operator] {
			p.fail("binary operator %q", n.Operator)
			return
		}
		switch n.Operator {
		case "and", "&&":
			ast.Patch(node, &ast.BinaryNode{
				Operator: "&&", Left: truthCall(n.Left), Right: truthCall(n.Right),
			})
		case "or", "||":
			ast.Patch(node, &ast.BinaryNode{
				Operator: "||", Left: truthCall(n.Left), Right: truthCall(n.Right),
			})
		case "in":
			ast.Patch(node, inCall(n.Left, n.Right))
		case "not in":
			ast.Patch(node, &ast.UnaryNode{Operator: "!", Node: inCall(n.Left, n.Right)})
		case "contains":
			ast.Patch(node, inCall(n.Right, n.Left))
		default:
			// Python-style chained comparison: a < b < c parses as
			// (a < b) < c; rewrite into (a < b) && (b < c).
			if comparisonOps[n.Operator] {
				if left, ok := n.Left.(*ast.BinaryNode); ok && comparisonOps[left.Operator] {
					ast.Patch(node, &ast.BinaryNode{
						Operator: "&&",
						Left:     left,
						Right:    &ast.BinaryNode{Operator: n.Operator, Left: left.Right, Right: n.Right},
					})
				}
			}
		}

	case *ast.CallNode:
		switch callee := n.Callee.(type) {
		case *ast.IdentifierNode:
			if _, ok := p.env[callee.Value]; !ok {
				p.fail("call to unknown function %q", callee.Value)
			}
		case *ast.MemberNode:
			prop, ok := callee.Property.(*ast.StringNode)
			if !ok || !isSafeMethod(prop.Value) {
				p.fail("method call %v not in safe method table", callee.Property)
				return
			}
			args := []ast.Node{callee.Node, &ast.StringNode{Value: prop.Value}}
			args = append(args, n.Arguments...)
			ast.Patch(node, &ast.CallNode{
				Callee:    &ast.IdentifierNode{Value: "__method"},
				Arguments: args,
			})
		default:
			p.fail("call through non-identifier callee")
		}

	case *ast.BuiltinNode:
		if !allowedBuiltins[n.Name] {
			p.fail("builtin %q", n.Name)
		}

	default:
		p.fail("node %T", n)
	}
}
