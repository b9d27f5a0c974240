package workflow

import (
	"fmt"
	"math"
	"testing"
)

func TestEvalLiteralsAndPaths(t *testing.T) {
	scope := map[string]any{
		"input": map[string]any{
			"user":  map[string]any{"age": float64(21)},
			"items": []any{"a", "b"},
			"name":  "a||b",
			"s":     "x>=y",
		},
		"output": map[string]any{"n1": map[string]any{"status": "success"}},
	}
	cases := []struct {
		expr string
		want any
	}{
		{"true", true},
		{"false", false},
		{"null", nil},
		{"42", float64(42)},
		{"'hi'", "hi"},
		{`"hi"`, "hi"},
		{"input.user.age", float64(21)},
		{"input.items.1", "b"},
		{"input.items.9", nil},
		{"input.missing.deep", nil},
		{"length(input.items)", 2},
		{"first(input.items)", "a"},
		{"input.user.age >= 18", true},
		{"input.user.age < 18", false},
		{"output.n1.status == 'success'", true},
		{"output.n1.status != 'success'", false},
		{"!false", true},
		{"!input.missing", true},
		{"input.user.age > 18 && length(input.items) == 2", true},
		{"input.missing || output.n1.status == 'success'", true},
		{"input.missing && true", false},
		{"input.name == 'a||b'", true},
		{`input.s == "x>=y"`, true},
		{"input.name != 'a||b'", false},
		{`'q' == "a&&b" || input.s == 'x>=y'`, true},
	}
	for _, c := range cases {
		got, err := Eval(c.expr, scope)
		if err != nil {
			t.Fatalf("expr %q: %v", c.expr, err)
		}
		if fmt.Sprint(got) != fmt.Sprint(c.want) {
			t.Fatalf("expr %q: want %v got %v", c.expr, c.want, got)
		}
	}
}

func TestEvalEmpty(t *testing.T) {
	if _, err := Eval("  ", nil); err == nil {
		t.Fatalf("expected error for empty expression")
	}
	if _, err := Eval("true && ", nil); err == nil {
		t.Fatalf("expected error for dangling operand")
	}
}

func TestTruthy(t *testing.T) {
	falsy := []any{nil, false, "", float64(0), 0, int64(0), math.NaN()}
	for _, v := range falsy {
		if Truthy(v) {
			t.Fatalf("expected %v to be falsy", v)
		}
	}
	truthy := []any{true, "false", "0", float64(1), -1, map[string]any{}, []any{}}
	for _, v := range truthy {
		if !Truthy(v) {
			t.Fatalf("expected %v to be truthy", v)
		}
	}
}
