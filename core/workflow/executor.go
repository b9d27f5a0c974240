package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nodeflow/nodeflow/core/infra/bus"
	"github.com/nodeflow/nodeflow/core/infra/config"
	"github.com/nodeflow/nodeflow/core/infra/logging"
	"github.com/nodeflow/nodeflow/core/infra/metrics"
	"github.com/nodeflow/nodeflow/core/infra/queue"
)

// RetryQueue accepts retry jobs for failed nodes.
type RetryQueue interface {
	Add(ctx context.Context, name string, data any, opts queue.JobOptions) (*queue.Job, error)
}

// Executor runs workflows node by node.
type Executor struct {
	registry  *Registry
	retries   RetryQueue
	retryOpts queue.JobOptions
	runs      RunStore
	events    bus.Bus
	metrics   metrics.ExecutorMetrics
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRetryQueue enables retry jobs for failed nodes.
func WithRetryQueue(q RetryQueue, opts queue.JobOptions) ExecutorOption {
	return func(e *Executor) {
		e.retries = q
		e.retryOpts = opts
	}
}

// WithRunStore records every execution.
func WithRunStore(rs RunStore) ExecutorOption {
	return func(e *Executor) { e.runs = rs }
}

// WithEvents publishes execution events on the bus.
func WithEvents(b bus.Bus) ExecutorOption {
	return func(e *Executor) { e.events = b }
}

func WithMetrics(m metrics.ExecutorMetrics) ExecutorOption {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

func NewExecutor(reg *Registry, opts ...ExecutorOption) *Executor {
	if reg == nil {
		reg = NewDefaultRegistry(Providers{})
	}
	e := &Executor{
		registry: reg,
		retryOpts: queue.OptionsFromPolicy(config.JobPolicy{
			Attempts: 3, BackoffType: queue.BackoffExponential, BackoffDelay: 1000,
		}),
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs wf with input and returns the resulting context. Node
// failures are reported in the context's Error field, not as an error.
func (e *Executor) Execute(ctx context.Context, wf *Workflow, input map[string]any) (*ExecutionContext, error) {
	exec, err := e.Run(ctx, wf, input, "")
	if err != nil {
		return nil, err
	}
	return &exec.Context, nil
}

// Run is Execute returning the full execution record.
func (e *Executor) Run(ctx context.Context, wf *Workflow, input map[string]any, triggeredBy string) (*Execution, error) {
	if wf == nil {
		return nil, errors.New("workflow required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}
	exec := &Execution{
		ID:          uuid.NewString(),
		WorkflowID:  wf.ID,
		Status:      ExecutionRunning,
		Context:     ExecutionContext{Input: input, Output: map[string]any{}},
		TriggeredBy: triggeredBy,
		StartedAt:   time.Now().UTC(),
	}
	e.metrics.IncExecutionStarted()
	e.createRecord(ctx, exec)
	e.publish(exec)

	for _, node := range SortNodes(wf.Nodes) {
		start := time.Now()
		out, err := e.registry.Run(ctx, node, &exec.Context)
		if err != nil {
			e.metrics.ObserveNode(string(node.Type), "error", time.Since(start).Seconds())
			exec.Context.Error = err.Error()
			exec.FailedNode = node.ID
			logging.Error("executor", "node failed", "workflow_id", wf.ID, "execution_id", exec.ID, "node_id", node.ID, "type", node.Type, "error", err)
			e.enqueueRetry(ctx, exec, node)
			break
		}
		e.metrics.ObserveNode(string(node.Type), "ok", time.Since(start).Seconds())
		exec.Context.Output[node.ID] = out
	}

	now := time.Now().UTC()
	exec.CompletedAt = &now
	exec.Status = ExecutionSucceeded
	if exec.Context.Error != "" {
		exec.Status = ExecutionFailed
	}
	e.metrics.IncExecutionCompleted(string(exec.Status))
	e.updateRecord(ctx, exec)
	e.publish(exec)
	return exec, nil
}

func (e *Executor) enqueueRetry(ctx context.Context, exec *Execution, node Node) {
	if e.retries == nil {
		return
	}
	payload := RetryPayload{
		Node:        node,
		Context:     exec.Context,
		WorkflowID:  exec.WorkflowID,
		ExecutionID: exec.ID,
	}
	job, err := e.retries.Add(context.WithoutCancel(ctx), config.JobRetry, payload, e.retryOpts)
	if err != nil {
		logging.Error("executor", "retry enqueue failed", "execution_id", exec.ID, "node_id", node.ID, "error", err)
		return
	}
	exec.RetryJobID = job.ID
	exec.RetryStatus = RetryQueued
	logging.Info("executor", "Retry job queued: "+job.ID)
}

// RetryNode re-runs the failed node of a retry job against its snapshot
// context and, on success, merges the output into the stored execution.
func (e *Executor) RetryNode(ctx context.Context, p RetryPayload) (any, error) {
	ec := p.Context
	if ec.Input == nil {
		ec.Input = map[string]any{}
	}
	if ec.Output == nil {
		ec.Output = map[string]any{}
	}
	out, err := e.registry.Run(ctx, p.Node, &ec)
	if err != nil {
		return nil, err
	}
	e.updateRetry(ctx, p.ExecutionID, func(exec *Execution) {
		if exec.Context.Output == nil {
			exec.Context.Output = map[string]any{}
		}
		exec.Context.Output[p.Node.ID] = out
		exec.RetryStatus = RetrySucceeded
	})
	return out, nil
}

// MarkRetryExhausted records that the retry job for an execution gave up.
func (e *Executor) MarkRetryExhausted(ctx context.Context, executionID string) {
	e.updateRetry(ctx, executionID, func(exec *Execution) {
		exec.RetryStatus = RetryExhausted
	})
}

func (e *Executor) updateRetry(ctx context.Context, executionID string, mutate func(*Execution)) {
	if e.runs == nil || executionID == "" {
		return
	}
	exec, err := e.runs.GetExecution(ctx, executionID)
	if err != nil {
		logging.Error("executor", "load execution for retry", "execution_id", executionID, "error", err)
		return
	}
	mutate(exec)
	e.updateRecord(ctx, exec)
	e.publish(exec)
}

func (e *Executor) createRecord(ctx context.Context, exec *Execution) {
	if e.runs == nil {
		return
	}
	if err := e.runs.CreateExecution(ctx, exec); err != nil {
		logging.Error("executor", "record execution", "execution_id", exec.ID, "error", err)
	}
}

func (e *Executor) updateRecord(ctx context.Context, exec *Execution) {
	if e.runs == nil {
		return
	}
	if err := e.runs.UpdateExecution(context.WithoutCancel(ctx), exec); err != nil {
		logging.Error("executor", "update execution", "execution_id", exec.ID, "error", err)
	}
}

func (e *Executor) publish(exec *Execution) {
	if e.events == nil {
		return
	}
	payload, err := json.Marshal(exec)
	if err != nil {
		logging.Error("executor", "marshal execution event", "execution_id", exec.ID, "error", err)
		return
	}
	env := &bus.Envelope{
		ID:        uuid.NewString(),
		Kind:      bus.KindExecutionEvent,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if err := e.events.Publish(bus.SubjectExecutionEvents, env); err != nil {
		logging.Error("executor", "publish execution event", "execution_id", exec.ID, "error", err)
	}
}
