package workflow

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Eval evaluates a logic-node expression against a scope map, usually
// {"input": ..., "output": ...}.
// Supported:
//   - literals: numbers, true/false/null, quoted strings
//   - dot paths: output.n1.status, input.items.0
//   - functions: length(x), first(x)
//   - a && b, a || b
//   - comparisons: == != > >= < <=
//   - unary !
func Eval(expr string, scope map[string]any) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("empty expression")
	}

	if parts := splitOnce(expr, "||"); parts != nil {
		left, err := Eval(parts[0], scope)
		if err != nil || Truthy(left) {
			return Truthy(left), err
		}
		right, err := Eval(parts[1], scope)
		return Truthy(right), err
	}
	if parts := splitOnce(expr, "&&"); parts != nil {
		left, err := Eval(parts[0], scope)
		if err != nil || !Truthy(left) {
			return false, err
		}
		right, err := Eval(parts[1], scope)
		return Truthy(right), err
	}

	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		if parts := splitOnce(expr, op); parts != nil {
			left, err := Eval(parts[0], scope)
			if err != nil {
				return nil, err
			}
			right, err := Eval(parts[1], scope)
			if err != nil {
				return nil, err
			}
			return compare(left, right, op), nil
		}
	}

	if strings.HasPrefix(expr, "!") {
		val, err := Eval(expr[1:], scope)
		if err != nil {
			return nil, err
		}
		return !Truthy(val), nil
	}

	if arg, ok := callArg(expr, "length"); ok {
		val, err := Eval(arg, scope)
		if err != nil {
			return nil, err
		}
		switch v := val.(type) {
		case []any:
			return len(v), nil
		case string:
			return len(v), nil
		case map[string]any:
			return len(v), nil
		default:
			return 0, nil
		}
	}
	if arg, ok := callArg(expr, "first"); ok {
		val, err := Eval(arg, scope)
		if err != nil {
			return nil, err
		}
		if arr, ok := val.([]any); ok && len(arr) > 0 {
			return arr[0], nil
		}
		return nil, nil
	}

	if len(expr) >= 2 {
		if q := expr[0]; (q == '\'' || q == '"') && expr[len(expr)-1] == q {
			return expr[1 : len(expr)-1], nil
		}
	}
	switch expr {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	if n, err := strconv.ParseFloat(expr, 64); err == nil {
		return n, nil
	}
	return resolvePath(expr, scope), nil
}

// Truthy reports whether v counts as true: false for nil, false, zero,
// NaN and the empty string; true for everything else.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}

func callArg(expr, fn string) (string, bool) {
	if !strings.HasPrefix(expr, fn+"(") || !strings.HasSuffix(expr, ")") {
		return "", false
	}
	return expr[len(fn)+1 : len(expr)-1], true
}

func resolvePath(path string, scope map[string]any) any {
	var cur any = scope
	for _, p := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[p]
		case []any:
			idx, err := strconv.Atoi(p)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			cur = node[idx]
		default:
			return nil
		}
	}
	return cur
}

// splitOnce splits at the first op that sits outside a quoted literal.
func splitOnce(expr, op string) []string {
	var quote byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case strings.HasPrefix(expr[i:], op):
			return []string{strings.TrimSpace(expr[:i]), strings.TrimSpace(expr[i+len(op):])}
		}
	}
	return nil
}

func compare(a, b any, op string) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return cmpOrdered(af, bf, op)
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return cmpOrdered(as, bs, op)
		}
	}
	switch op {
	case "==":
		return fmt.Sprint(a) == fmt.Sprint(b)
	case "!=":
		return fmt.Sprint(a) != fmt.Sprint(b)
	default:
		return false
	}
}

func cmpOrdered[T float64 | string](a, b T, op string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
