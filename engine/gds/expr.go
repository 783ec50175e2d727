package gds

import (
	"math"
	"strconv"
	"strings"
)

// Expr is a filter predicate over one node or relationship. Render produces
// the GDS filter expression syntax with v as the entity variable; Eval
// evaluates the same predicate in process.
type Expr interface {
	Render(v string) string
	Eval(env Env) bool
}

// Env is what a predicate sees. Relationships expose their type as their
// only label.
type Env struct {
	Labels []string
	Props  map[string]any
	Params map[string]any
}

// Operand is a value inside a comparison.
type Operand interface {
	render(v string) string
	value(env Env) float64
}

type prop string

func (p prop) render(v string) string { return v + "." + string(p) }
func (p prop) value(env Env) float64  { return toFloat(env.Props[string(p)]) }

type param string

func (p param) render(string) string  { return "$" + string(p) }
func (p param) value(env Env) float64 { return toFloat(env.Params[string(p)]) }

type num float64

func (n num) render(string) string {
	s := strconv.FormatFloat(float64(n), 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
func (n num) value(Env) float64 { return float64(n) }

// Prop refers to a property of the filtered entity.
func Prop(name string) Operand { return prop(name) }

// Param refers to a filter parameter.
func Param(name string) Operand { return param(name) }

// Num is a numeric literal.
func Num(f float64) Operand { return num(f) }

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return math.NaN()
	}
}

type all struct{}

func (all) Render(string) string { return "*" }
func (all) Eval(Env) bool        { return true }

// All matches everything.
func All() Expr { return all{} }

type label string

func (l label) Render(v string) string { return v + ":" + string(l) }
func (l label) Eval(env Env) bool {
	for _, have := range env.Labels {
		if have == string(l) {
			return true
		}
	}
	return false
}

// Label matches entities carrying the label (or relationship type).
func Label(name string) Expr { return label(name) }

// AnyLabel matches entities carrying at least one of names.
func AnyLabel(names ...string) Expr {
	xs := make([]Expr, len(names))
	for i, n := range names {
		xs[i] = label(n)
	}
	return Or(xs...)
}

type not struct{ x Expr }

func (n not) Render(v string) string { return "NOT " + n.x.Render(v) }
func (n not) Eval(env Env) bool      { return !n.x.Eval(env) }

// Not negates x.
func Not(x Expr) Expr { return not{x} }

type junction struct {
	op string
	xs []Expr
}

func (j junction) Render(v string) string {
	parts := make([]string, len(j.xs))
	for i, x := range j.xs {
		parts[i] = x.Render(v)
	}
	return "(" + strings.Join(parts, " "+j.op+" ") + ")"
}

func (j junction) Eval(env Env) bool {
	for _, x := range j.xs {
		ok := x.Eval(env)
		if j.op == "AND" && !ok {
			return false
		}
		if j.op == "OR" && ok {
			return true
		}
	}
	return j.op == "AND"
}

// And matches when every x matches.
func And(xs ...Expr) Expr { return simplify("AND", xs) }

// Or matches when any x matches.
func Or(xs ...Expr) Expr { return simplify("OR", xs) }

func simplify(op string, xs []Expr) Expr {
	if len(xs) == 1 {
		return xs[0]
	}
	return junction{op: op, xs: xs}
}

type cmp struct {
	l, r Operand
	op   string
}

func (c cmp) Render(v string) string { return c.l.render(v) + " " + c.op + " " + c.r.render(v) }

// Eval follows IEEE semantics: any comparison with a missing value is false.
func (c cmp) Eval(env Env) bool {
	a, b := c.l.value(env), c.r.value(env)
	switch c.op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "=":
		return a == b
	case "<>":
		return a != b
	}
	return false
}

func Lt(l, r Operand) Expr { return cmp{l: l, r: r, op: "<"} }
func Le(l, r Operand) Expr { return cmp{l: l, r: r, op: "<="} }
func Gt(l, r Operand) Expr { return cmp{l: l, r: r, op: ">"} }
func Ge(l, r Operand) Expr { return cmp{l: l, r: r, op: ">="} }
func Eq(l, r Operand) Expr { return cmp{l: l, r: r, op: "="} }
