package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NodeType identifies how a node is evaluated.
type NodeType string

const (
	NodeTrigger NodeType = "trigger"
	NodeAction  NodeType = "action"
	NodeLogic   NodeType = "logic"
	NodeAI      NodeType = "ai"
	NodeWeb3    NodeType = "web3"
)

// ExecutionStatus captures the lifecycle of an execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

// RetryStatus tracks the retry job queued for a failed execution.
type RetryStatus string

const (
	RetryNone      RetryStatus = ""
	RetryQueued    RetryStatus = "queued"
	RetrySucceeded RetryStatus = "succeeded"
	RetryExhausted RetryStatus = "exhausted"
)

// ErrNotFound is returned by stores when a workflow or execution is absent.
var ErrNotFound = errors.New("not found")

// Position is a node's location on the editor canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one step of a workflow.
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Name     string         `json:"name,omitempty"`
	Position *Position      `json:"position,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Outputs  []string       `json:"outputs,omitempty"`
}

// Connection links the output of one node to another.
type Connection struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Workflow is a saved graph of nodes.
type Workflow struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
	Active      bool         `json:"active"`
	OwnerID     string       `json:"owner_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Normalize replaces nil collections with empty ones.
func (w *Workflow) Normalize() {
	if w.Nodes == nil {
		w.Nodes = []Node{}
	}
	if w.Connections == nil {
		w.Connections = []Connection{}
	}
}

// Validate checks structural rules that the JSON schema cannot express.
func (w *Workflow) Validate() error {
	if w == nil {
		return errors.New("workflow required")
	}
	seen := make(map[string]struct{}, len(w.Nodes))
	for i, n := range w.Nodes {
		id := strings.TrimSpace(n.ID)
		if id == "" {
			return fmt.Errorf("node %d: id required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate node id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ExecutionContext is the state threaded through a run: the caller's input
// and the output of every node evaluated so far, keyed by node id.
type ExecutionContext struct {
	Input  map[string]any `json:"input"`
	Output map[string]any `json:"output"`
	Error  string         `json:"error,omitempty"`
}

// Execution is the stored record of one run.
type Execution struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflow_id"`
	Status      ExecutionStatus  `json:"status"`
	Context     ExecutionContext `json:"context"`
	FailedNode  string           `json:"failed_node,omitempty"`
	RetryJobID  string           `json:"retry_job_id,omitempty"`
	RetryStatus RetryStatus      `json:"retry_status,omitempty"`
	TriggeredBy string           `json:"triggered_by,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// RetryPayload is the data of a "retry" job.
type RetryPayload struct {
	Node        Node             `json:"node"`
	Context     ExecutionContext `json:"context"`
	WorkflowID  string           `json:"workflowId,omitempty"`
	ExecutionID string           `json:"executionId,omitempty"`
}

// RunPayload is the data of a "workflows" job.
type RunPayload struct {
	WorkflowID string         `json:"workflowId"`
	Input      map[string]any `json:"input"`
}
