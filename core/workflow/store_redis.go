package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const executionIndexMaxLen = 1000

// RedisStore persists workflows and executions in Redis as JSON documents
// with sorted-set indexes.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// SaveWorkflow upserts a workflow definition.
func (s *RedisStore) SaveWorkflow(ctx context.Context, wf *Workflow) error {
	if wf == nil || wf.ID == "" {
		return fmt.Errorf("workflow id required")
	}
	now := time.Now().UTC()
	existing, err := s.GetWorkflow(ctx, wf.ID)
	switch {
	case err == nil:
		wf.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
		if wf.CreatedAt.IsZero() {
			wf.CreatedAt = now
		}
	default:
		return err
	}
	wf.UpdatedAt = now
	wf.Normalize()

	payload, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, workflowKey(wf.ID), payload, 0)
	pipe.ZAdd(ctx, workflowIndexKey(), redis.Z{Score: float64(wf.CreatedAt.UnixMilli()), Member: wf.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	data, err := s.client.Get(ctx, workflowKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	wf.Normalize()
	return &wf, nil
}

func (s *RedisStore) DeleteWorkflow(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, workflowKey(id))
	pipe.ZRem(ctx, workflowIndexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWorkflows returns workflows newest first.
func (s *RedisStore) ListWorkflows(ctx context.Context, limit int64) ([]*Workflow, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, workflowIndexKey(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Workflow, 0, len(ids))
	for _, data := range s.mget(ctx, ids, workflowKey) {
		var wf Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			continue
		}
		wf.Normalize()
		out = append(out, &wf)
	}
	return out, nil
}

func (s *RedisStore) CountWorkflows(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, workflowIndexKey()).Result()
}

func (s *RedisStore) CreateExecution(ctx context.Context, exec *Execution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution id required")
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, executionKey(exec.ID), payload, 0)
	if exec.WorkflowID != "" {
		idx := executionIndexKey(exec.WorkflowID)
		pipe.ZAdd(ctx, idx, redis.Z{Score: float64(exec.StartedAt.UnixMilli()), Member: exec.ID})
		pipe.ZRemRangeByRank(ctx, idx, 0, -executionIndexMaxLen-1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) UpdateExecution(ctx context.Context, exec *Execution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution id required")
	}
	payload, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	return s.client.Set(ctx, executionKey(exec.ID), payload, 0).Err()
}

func (s *RedisStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	data, err := s.client.Get(ctx, executionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var exec Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return &exec, nil
}

// ListExecutionsByWorkflow returns a workflow's executions newest first.
func (s *RedisStore) ListExecutionsByWorkflow(ctx context.Context, workflowID string, limit int64) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, executionIndexKey(workflowID), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Execution, 0, len(ids))
	for _, data := range s.mget(ctx, ids, executionKey) {
		var exec Execution
		if err := json.Unmarshal(data, &exec); err != nil {
			continue
		}
		out = append(out, &exec)
	}
	return out, nil
}

// mget loads documents for ids in order, skipping missing ones.
func (s *RedisStore) mget(ctx context.Context, ids []string, key func(string) string) [][]byte {
	if len(ids) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, key(id))
	}
	_, _ = pipe.Exec(ctx)
	out := make([][]byte, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

func workflowKey(id string) string {
	return "nf:wf:doc:" + id
}

func workflowIndexKey() string {
	return "nf:wf:index"
}

func executionKey(id string) string {
	return "nf:exec:doc:" + id
}

func executionIndexKey(workflowID string) string {
	return "nf:exec:wf:" + workflowID
}
