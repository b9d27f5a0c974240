package workflow

import "context"

// Store persists workflow definitions.
type Store interface {
	SaveWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, limit int64) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
	CountWorkflows(ctx context.Context) (int64, error)
}

// RunStore persists execution records.
type RunStore interface {
	CreateExecution(ctx context.Context, exec *Execution) error
	UpdateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutionsByWorkflow(ctx context.Context, workflowID string, limit int64) ([]*Execution, error)
}
