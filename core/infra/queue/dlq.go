package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dlqMaxLen = 1000

// DLQEntry captures a job that exhausted its attempts.
type DLQEntry struct {
	JobID     string          `json:"job_id"`
	Queue     string          `json:"queue"`
	Name      string          `json:"name"`
	Reason    string          `json:"reason,omitempty"`
	Attempts  int             `json:"attempts"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Key identifies the entry across queues.
func (e DLQEntry) Key() string {
	return e.Queue + ":" + e.JobID
}

// DLQStore persists DLQ entries in Redis.
type DLQStore struct {
	client redis.UniversalClient
	maxLen int64
}

func NewDLQStore(client redis.UniversalClient) *DLQStore {
	return &DLQStore{client: client, maxLen: dlqMaxLen}
}

// Add appends an entry and maintains a sorted index.
func (s *DLQStore) Add(ctx context.Context, entry DLQEntry) error {
	if entry.JobID == "" || entry.Queue == "" {
		return fmt.Errorf("job id and queue required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}
	key := entry.Key()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dlqEntryKey(key), data, 0)
	pipe.ZAdd(ctx, dlqIndexKey(), redis.Z{Score: float64(entry.CreatedAt.UnixMilli()), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return s.trim(ctx)
}

// trim drops the oldest entries beyond maxLen, documents included.
func (s *DLQStore) trim(ctx context.Context) error {
	overflow, err := s.client.ZRange(ctx, dlqIndexKey(), 0, -s.maxLen-1).Result()
	if err != nil || len(overflow) == 0 {
		return err
	}
	docs := make([]string, len(overflow))
	members := make([]any, len(overflow))
	for i, key := range overflow {
		docs[i] = dlqEntryKey(key)
		members[i] = key
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, docs...)
	pipe.ZRem(ctx, dlqIndexKey(), members...)
	_, err = pipe.Exec(ctx)
	return err
}

// List returns recent DLQ entries, newest first.
func (s *DLQStore) List(ctx context.Context, limit int64) ([]DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	keys, err := s.client.ZRevRange(ctx, dlqIndexKey(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []DLQEntry{}, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, dlqEntryKey(key))
	}
	_, _ = pipe.Exec(ctx)

	out := make([]DLQEntry, 0, len(keys))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var e DLQEntry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Get returns a single entry by its Key.
func (s *DLQStore) Get(ctx context.Context, key string) (*DLQEntry, error) {
	if key == "" {
		return nil, fmt.Errorf("dlq key required")
	}
	data, err := s.client.Get(ctx, dlqEntryKey(key)).Bytes()
	if err != nil {
		return nil, err
	}
	var e DLQEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Delete removes an entry.
func (s *DLQStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("dlq key required")
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, dlqEntryKey(key))
	pipe.ZRem(ctx, dlqIndexKey(), key)
	_, err := pipe.Exec(ctx)
	return err
}

func dlqEntryKey(key string) string {
	return "nf:dlq:entry:" + key
}

func dlqIndexKey() string {
	return "nf:dlq:index"
}
