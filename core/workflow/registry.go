package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// NodeRunner evaluates nodes of one type.
type NodeRunner interface {
	NodeType() NodeType
	Run(ctx context.Context, node Node, ec *ExecutionContext) (any, error)
}

// Registry maps node types to their runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[NodeType]NodeRunner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[NodeType]NodeRunner)}
}

// Register adds a runner; a node type can only be registered once.
func (r *Registry) Register(runner NodeRunner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	nodeType := runner.NodeType()
	if _, exists := r.runners[nodeType]; exists {
		return fmt.Errorf("runner for node type %q is already registered", nodeType)
	}
	r.runners[nodeType] = runner
	return nil
}

// MustRegister registers a runner, panicking on error.
func (r *Registry) MustRegister(runner NodeRunner) {
	if err := r.Register(runner); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(nodeType NodeType) (NodeRunner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[nodeType]
	return runner, ok
}

// Run evaluates node with the runner registered for its type.
func (r *Registry) Run(ctx context.Context, node Node, ec *ExecutionContext) (any, error) {
	runner, ok := r.Get(node.Type)
	if !ok {
		return nil, fmt.Errorf("Unknown node type: %s", node.Type)
	}
	return runner.Run(ctx, node, ec)
}

// NodeTypes returns the registered node types in sorted order.
func (r *Registry) NodeTypes() []NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeType, 0, len(r.runners))
	for t := range r.runners {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runners)
}

// Providers are the external clients node runners may call.
type Providers struct {
	Chat  ChatClient
	Chain ChainClient
}

// NewDefaultRegistry registers the built-in node types.
func NewDefaultRegistry(p Providers) *Registry {
	r := NewRegistry()
	r.MustRegister(triggerRunner{})
	r.MustRegister(actionRunner{})
	r.MustRegister(logicRunner{})
	r.MustRegister(aiRunner{chat: p.Chat})
	r.MustRegister(web3Runner{chain: p.Chain})
	return r
}
