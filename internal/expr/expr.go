package expr

import (
	"fmt"
	"strings"
)

// Context resolves a field path to a value while evaluating an expression.
// The second return reports whether the path exists at all.
type Context interface {
	Resolve(path string) (any, bool)
}

// Expr is a parsed condition or dependency expression. Expressions are parsed
// once at definition-load time; a malformed expression is a load error rather
// than a silently-false runtime condition.
type Expr interface {
	Eval(ctx Context) bool
	String() string
}

// Parse builds an expression tree from the definition mini-language.
// Operators are recognized in a fixed order with no grouping: "==" first,
// then "OR", then "AND"; anything else is a bare field reference whose truth
// is the truthiness of the resolved value.
func Parse(in string) (Expr, error) {
	s := strings.TrimSpace(in)
	if s == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if strings.Contains(s, "==") {
		parts := strings.SplitN(s, "==", 2)
		field := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if field == "" || value == "" {
			return nil, fmt.Errorf("malformed equality %q", in)
		}
		return eqExpr{field: field, value: strings.Trim(value, `"'`)}, nil
	}
	if strings.Contains(s, " OR ") {
		return parseList(s, " OR ")
	}
	if strings.Contains(s, " AND ") {
		return parseList(s, " AND ")
	}
	if strings.ContainsAny(s, " \t") {
		return nil, fmt.Errorf("unexpected token in %q", in)
	}
	return fieldExpr{path: s}, nil
}

// ParseAll parses a requirement list; operands are ANDed together.
func ParseAll(requires []string) (Expr, error) {
	if len(requires) == 0 {
		return nil, nil
	}
	ops := make([]Expr, 0, len(requires))
	for _, r := range requires {
		e, err := Parse(r)
		if err != nil {
			return nil, err
		}
		ops = append(ops, e)
	}
	if len(ops) == 1 {
		return ops[0], nil
	}
	return andExpr{ops: ops}, nil
}

func parseList(s, sep string) (Expr, error) {
	var ops []Expr
	for _, part := range strings.Split(s, sep) {
		e, err := Parse(part)
		if err != nil {
			return nil, err
		}
		ops = append(ops, e)
	}
	if sep == " OR " {
		return orExpr{ops: ops}, nil
	}
	return andExpr{ops: ops}, nil
}

type fieldExpr struct {
	path string
}

func (f fieldExpr) Eval(ctx Context) bool {
	v, ok := ctx.Resolve(f.path)
	if !ok {
		return false
	}
	return Truthy(v)
}

func (f fieldExpr) String() string { return f.path }

type eqExpr struct {
	field string
	value string
}

func (e eqExpr) Eval(ctx Context) bool {
	v, ok := ctx.Resolve(e.field)
	if !ok {
		return false
	}
	return strings.EqualFold(fmt.Sprintf("%v", v), e.value)
}

func (e eqExpr) String() string { return e.field + " == " + e.value }

type andExpr struct {
	ops []Expr
}

func (a andExpr) Eval(ctx Context) bool {
	for _, op := range a.ops {
		if !op.Eval(ctx) {
			return false
		}
	}
	return true
}

func (a andExpr) String() string { return join(a.ops, " AND ") }

type orExpr struct {
	ops []Expr
}

func (o orExpr) Eval(ctx Context) bool {
	for _, op := range o.ops {
		if op.Eval(ctx) {
			return true
		}
	}
	return false
}

func (o orExpr) String() string { return join(o.ops, " OR ") }

func join(ops []Expr, sep string) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = op.String()
	}
	return strings.Join(parts, sep)
}

// Truthy reports whether a resolved value counts as present/true: booleans as
// themselves, numbers when non-zero, strings when non-empty and not a
// spelled-out negative.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s != "" && s != "false" && s != "no" && s != "none" && s != "0"
	default:
		return true
	}
}

// MapContext adapts a flat path→value map, mostly for tests.
type MapContext map[string]any

func (m MapContext) Resolve(path string) (any, bool) {
	v, ok := m[path]
	return v, ok
}
