package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nodeflow/nodeflow/core/infra/pgutil"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		nodes       JSONB NOT NULL DEFAULT '[]',
		connections JSONB NOT NULL DEFAULT '[]',
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		owner_id    TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS executions (
		id           TEXT PRIMARY KEY,
		workflow_id  TEXT NOT NULL,
		status       TEXT NOT NULL,
		context      JSONB NOT NULL,
		failed_node  TEXT NOT NULL DEFAULT '',
		retry_job_id TEXT NOT NULL DEFAULT '',
		retry_status TEXT NOT NULL DEFAULT '',
		triggered_by TEXT NOT NULL DEFAULT '',
		started_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS executions_workflow_started_idx ON executions (workflow_id, started_at DESC)`,
}

// PostgresStore persists workflows and executions in the hosted Postgres
// database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the workflows and executions tables if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return pgutil.Exec(ctx, s.pool, postgresSchema...)
}

func (s *PostgresStore) SaveWorkflow(ctx context.Context, wf *Workflow) error {
	if wf == nil || wf.ID == "" {
		return fmt.Errorf("workflow id required")
	}
	wf.Normalize()
	nodes, err := json.Marshal(wf.Nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	conns, err := json.Marshal(wf.Connections)
	if err != nil {
		return fmt.Errorf("marshal connections: %w", err)
	}
	now := time.Now().UTC()
	createdAt := wf.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO workflows (id, name, nodes, connections, active, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			nodes = EXCLUDED.nodes,
			connections = EXCLUDED.connections,
			active = EXCLUDED.active,
			owner_id = EXCLUDED.owner_id,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at`,
		wf.ID, wf.Name, nodes, conns, wf.Active, wf.OwnerID, createdAt, now)
	if err := row.Scan(&wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

const workflowColumns = `id, name, nodes, connections, active, owner_id, created_at, updated_at`

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, limit int64) ([]*Workflow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()
	out := []*Workflow{}
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteWorkflow(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountWorkflows(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM workflows`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count workflows: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *Execution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution id required")
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	ec, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (id, workflow_id, status, context, failed_node, retry_job_id, retry_status, triggered_by, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		exec.ID, exec.WorkflowID, string(exec.Status), ec, exec.FailedNode, exec.RetryJobID,
		string(exec.RetryStatus), exec.TriggeredBy, exec.StartedAt, exec.CompletedAt)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, exec *Execution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution id required")
	}
	ec, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE executions SET status = $2, context = $3, failed_node = $4, retry_job_id = $5,
			retry_status = $6, completed_at = $7
		WHERE id = $1`,
		exec.ID, string(exec.Status), ec, exec.FailedNode, exec.RetryJobID, string(exec.RetryStatus), exec.CompletedAt)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const executionColumns = `id, workflow_id, status, context, failed_node, retry_job_id, retry_status, triggered_by, started_at, completed_at`

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return exec, nil
}

func (s *PostgresStore) ListExecutionsByWorkflow(ctx context.Context, workflowID string, limit int64) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+executionColumns+` FROM executions WHERE workflow_id = $1 ORDER BY started_at DESC LIMIT $2`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	out := []*Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func scanWorkflow(row pgx.Row) (*Workflow, error) {
	var (
		wf           Workflow
		nodes, conns []byte
	)
	if err := row.Scan(&wf.ID, &wf.Name, &nodes, &conns, &wf.Active, &wf.OwnerID, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(nodes, &wf.Nodes); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}
	if err := json.Unmarshal(conns, &wf.Connections); err != nil {
		return nil, fmt.Errorf("decode connections: %w", err)
	}
	wf.Normalize()
	return &wf, nil
}

func scanExecution(row pgx.Row) (*Execution, error) {
	var (
		exec          Execution
		status, retry string
		ec            []byte
	)
	if err := row.Scan(&exec.ID, &exec.WorkflowID, &status, &ec, &exec.FailedNode, &exec.RetryJobID, &retry, &exec.TriggeredBy, &exec.StartedAt, &exec.CompletedAt); err != nil {
		return nil, err
	}
	exec.Status = ExecutionStatus(status)
	exec.RetryStatus = RetryStatus(retry)
	if err := json.Unmarshal(ec, &exec.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &exec, nil
}
