package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps profiles as JSON documents indexed by creation time.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Create(ctx context.Context, p *Profile) error {
	if p == nil {
		return errors.New("profile required")
	}
	if err := prepareCreate(p, time.Now().UTC()); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	ok, err := s.client.SetNX(ctx, profileKey(p.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	return s.client.ZAdd(ctx, profileIndexKey(), redis.Z{Score: float64(p.CreatedAt.UnixMilli()), Member: p.ID}).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Profile, error) {
	return getProfile(ctx, s.client, id)
}

func (s *RedisStore) List(ctx context.Context, limit int64) ([]*Profile, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.client.ZRevRange(ctx, profileIndexKey(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Profile, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, profileKey(id))
	}
	_, _ = pipe.Exec(ctx)
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

// Update applies u under WATCH so concurrent writers cannot interleave.
func (s *RedisStore) Update(ctx context.Context, id string, u ProfileUpdate) (*Profile, error) {
	var updated *Profile
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		p, err := getProfile(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := u.apply(p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal profile: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, profileKey(id), data, 0)
			return nil
		})
		if err == nil {
			updated = p
		}
		return err
	}, profileKey(id))
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, profileKey(id))
	pipe.ZRem(ctx, profileIndexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getProfile(ctx context.Context, c getter, id string) (*Profile, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	data, err := c.Get(ctx, profileKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &p, nil
}

func profileKey(id string) string {
	return "nf:profile:doc:" + id
}

func profileIndexKey() string {
	return "nf:profile:index"
}
