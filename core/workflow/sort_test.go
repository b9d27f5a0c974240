package workflow

import (
	"context"
	"testing"
)

func TestSortNodesByY(t *testing.T) {
	nodes := []Node{
		{ID: "c", Position: &Position{Y: 30}},
		{ID: "none"},
		{ID: "a", Position: &Position{Y: -5}},
		{ID: "zero", Position: &Position{X: 100, Y: 0}},
		{ID: "b", Position: &Position{Y: 10}},
	}
	sorted := SortNodes(nodes)
	want := []string{"a", "none", "zero", "b", "c"}
	for i, id := range want {
		if sorted[i].ID != id {
			t.Fatalf("position %d: want %s got %s", i, id, sorted[i].ID)
		}
	}
	if nodes[0].ID != "c" {
		t.Fatalf("expected input slice untouched")
	}
	if len(SortNodes(nil)) != 0 {
		t.Fatalf("expected empty result for nil input")
	}
}

func TestWorkflowValidate(t *testing.T) {
	wf := &Workflow{Nodes: []Node{{ID: "a"}, {ID: "a"}}}
	if err := wf.Validate(); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	wf = &Workflow{Nodes: []Node{{ID: " "}}}
	if err := wf.Validate(); err == nil {
		t.Fatalf("expected missing id error")
	}
	wf = &Workflow{Nodes: []Node{{ID: "a"}, {ID: "b"}}}
	if err := wf.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var nilWF *Workflow
	if err := nilWF.Validate(); err == nil {
		t.Fatalf("expected error for nil workflow")
	}
}

type echoRunner struct{}

func (echoRunner) NodeType() NodeType { return "echo" }

func (echoRunner) Run(_ context.Context, node Node, _ *ExecutionContext) (any, error) {
	return node.ID, nil
}

func TestRegistry(t *testing.T) {
	reg := NewDefaultRegistry(Providers{})
	if reg.Count() != 5 {
		t.Fatalf("expected 5 built-in runners, got %d", reg.Count())
	}
	if err := reg.Register(actionRunner{}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	reg.MustRegister(echoRunner{})
	out, err := reg.Run(context.Background(), Node{ID: "n", Type: "echo"}, &ExecutionContext{})
	if err != nil || out != "n" {
		t.Fatalf("unexpected echo result: %v %v", out, err)
	}
	types := reg.NodeTypes()
	if len(types) != 6 || types[0] != NodeAction {
		t.Fatalf("unexpected node types: %v", types)
	}
	if _, err := reg.Run(context.Background(), Node{Type: "mystery"}, &ExecutionContext{}); err == nil || err.Error() != "Unknown node type: mystery" {
		t.Fatalf("unexpected error: %v", err)
	}
}
