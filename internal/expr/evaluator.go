package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Evaluator evaluates parsed expressions against a Context.
//
// Lookup is lenient the way the reference expression language is: a missing
// context root, property or index resolves to null instead of failing, so
// `secrets.ABSENT == ''` holds and `if:` conditions never error on absent
// data. Equality coerces mixed types to numbers; string comparison ignores
// case.
type Evaluator struct{}

// NewEvaluator creates a new Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Parse parses an expression string into an AST.
func (e *Evaluator) Parse(input string) (*AST, error) {
	return Parse(input)
}

// Eval evaluates an AST and returns the resulting value.
func (e *Evaluator) Eval(ast *AST, ctx *Context) (any, error) {
	if ast == nil || ast.Root == nil {
		return nil, NewEvalError("nil AST", nil)
	}
	return e.evaluateNode(ast.Root, ctx)
}

// EvalBool evaluates an AST and coerces the result to a boolean.
func (e *Evaluator) EvalBool(ast *AST, ctx *Context) (bool, error) {
	v, err := e.Eval(ast, ctx)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

func (e *Evaluator) evaluateNode(node Node, ctx *Context) (any, error) {
	switch n := node.(type) {
	case *LiteralNode:
		return n.Value, nil

	case *PathNode:
		return e.resolvePath(n, ctx), nil

	case *AccessNode:
		base, err := e.evaluateNode(n.Base, ctx)
		if err != nil {
			return nil, err
		}
		return walkSegments(base, n.Segments), nil

	case *FunctionNode:
		return e.callFunction(n, ctx)

	case *ComparisonNode:
		return e.evaluateComparison(n, ctx)

	case *LogicalNode:
		return e.evaluateLogical(n, ctx)

	case *NotNode:
		val, err := e.evaluateNode(n.Operand, ctx)
		if err != nil {
			return nil, err
		}
		return !Truthy(val), nil
	}

	return nil, NewEvalError(fmt.Sprintf("unknown node type: %T", node), nil)
}

func (e *Evaluator) resolvePath(node *PathNode, ctx *Context) any {
	if ctx == nil {
		return nil
	}
	current, ok := ctx.Value(node.Root)
	if !ok {
		return nil
	}
	return walkSegments(current, node.Segments)
}

func walkSegments(current any, segments []Segment) any {
	for _, seg := range segments {
		switch seg.Kind {
		case SegmentField:
			current = getField(current, seg.Name)
		case SegmentIndex:
			current = getIndex(current, seg.Index)
		}
		if current == nil {
			return nil
		}
	}
	return current
}

// getField looks a property up in a map value, case-insensitively on miss.
func getField(v any, field string) any {
	switch m := v.(type) {
	case map[string]any:
		if val, ok := m[field]; ok {
			return val
		}
		for k, val := range m {
			if strings.EqualFold(k, field) {
				return val
			}
		}
	case map[string]string:
		if val, ok := m[field]; ok {
			return val
		}
		for k, val := range m {
			if strings.EqualFold(k, field) {
				return val
			}
		}
	}
	return nil
}

func getIndex(v any, idx int) any {
	switch s := v.(type) {
	case []any:
		if idx < len(s) {
			return s[idx]
		}
	case []string:
		if idx < len(s) {
			return s[idx]
		}
	}
	return nil
}

func (e *Evaluator) callFunction(node *FunctionNode, ctx *Context) (any, error) {
	if ctx == nil {
		return nil, &UnknownFunctionError{Name: node.Name}
	}
	fn, ok := ctx.Func(node.Name)
	if !ok {
		return nil, &UnknownFunctionError{Name: node.Name}
	}
	args := make([]any, len(node.Args))
	for i, argNode := range node.Args {
		val, err := e.evaluateNode(argNode, ctx)
		if err != nil {
			return nil, err
		}
		args[i] = val
	}
	return fn(ctx, args)
}

func (e *Evaluator) evaluateComparison(node *ComparisonNode, ctx *Context) (any, error) {
	left, err := e.evaluateNode(node.Left, ctx)
	if err != nil {
		return nil, err
	}
	right, err := e.evaluateNode(node.Right, ctx)
	if err != nil {
		return nil, err
	}

	switch node.Operator {
	case "==":
		return looseEquals(left, right), nil
	case "!=":
		return !looseEquals(left, right), nil
	}

	ln, rn := ToNumber(left), ToNumber(right)
	if math.IsNaN(ln) || math.IsNaN(rn) {
		return false, nil
	}
	switch node.Operator {
	case "<":
		return ln < rn, nil
	case "<=":
		return ln <= rn, nil
	case ">":
		return ln > rn, nil
	case ">=":
		return ln >= rn, nil
	}
	return nil, NewEvalError(fmt.Sprintf("unknown comparison operator: %s", node.Operator), nil)
}

func (e *Evaluator) evaluateLogical(node *LogicalNode, ctx *Context) (any, error) {
	left, err := e.evaluateNode(node.Left, ctx)
	if err != nil {
		return nil, err
	}

	// Short-circuit, returning the deciding operand's value like the
	// reference language does (`a || 'fallback'`).
	switch node.Operator {
	case "&&":
		if !Truthy(left) {
			return left, nil
		}
	case "||":
		if Truthy(left) {
			return left, nil
		}
	default:
		return nil, NewEvalError(fmt.Sprintf("unknown logical operator: %s", node.Operator), nil)
	}

	return e.evaluateNode(node.Right, ctx)
}

// looseEquals compares two values: strings case-insensitively, everything
// else after numeric coercion. NaN never equals anything.
func looseEquals(left, right any) bool {
	if left == nil && right == nil {
		return true
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		return strings.EqualFold(ls, rs)
	}
	ln, rn := ToNumber(left), ToNumber(right)
	if math.IsNaN(ln) || math.IsNaN(rn) {
		return false
	}
	return ln == rn
}

// ToNumber coerces a value to float64: null and empty strings become 0,
// booleans 0 or 1, non-numeric strings NaN.
func ToNumber(v any) float64 {
	switch val := v.(type) {
	case nil:
		return 0
	case bool:
		if val {
			return 1
		}
		return 0
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float64:
		return val
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
		return math.NaN()
	}
	return math.NaN()
}

// Truthy reports the boolean interpretation of a value: null, false, zero,
// NaN and the empty string are false; every other value including non-empty
// strings and collections is true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0 && !math.IsNaN(val)
	}
	return true
}

// Stringify renders an expression value for interpolation into a string.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	if s, err := toJSONString(v); err == nil {
		return s
	}
	return fmt.Sprintf("%v", v)
}
