package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nodeflow/nodeflow/core/infra/config"
	"github.com/nodeflow/nodeflow/core/infra/locks"
	"github.com/nodeflow/nodeflow/core/infra/logging"
	"github.com/redis/go-redis/v9"
)

// Promoter moves due delayed jobs back onto the bus. Only the replica holding
// the queue's promoter lease promotes on a given tick.
type Promoter struct {
	queue    *Queue
	lease    *locks.Lease
	interval time.Duration
	batch    int64
}

// NewPromoter builds a promoter for q.
func NewPromoter(q *Queue, cfg config.PromoterConfig) *Promoter {
	p := &Promoter{
		queue:    q,
		interval: time.Duration(cfg.IntervalMillis) * time.Millisecond,
		batch:    cfg.BatchSize,
	}
	if p.interval <= 0 {
		p.interval = 250 * time.Millisecond
	}
	if p.batch <= 0 {
		p.batch = 100
	}
	lease, err := locks.NewLease(q.client, q.lockKey(), uuid.NewString(), time.Duration(cfg.LockTTLSeconds)*time.Second)
	if err != nil {
		logging.Error("queue", "promoter lease", "queue", q.name, "error", err)
	}
	p.lease = lease
	return p
}

// Start runs the promotion loop until ctx is cancelled.
func (p *Promoter) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if p.lease != nil {
				_, _ = p.lease.Release(context.WithoutCancel(ctx))
			}
			return
		case <-ticker.C:
			if _, err := p.tick(ctx); err != nil && ctx.Err() == nil {
				logging.Error("queue", "promote delayed jobs", "queue", p.queue.name, "error", err)
			}
		}
	}
}

func (p *Promoter) tick(ctx context.Context) (int, error) {
	leader, err := p.acquire(ctx)
	if err != nil || !leader {
		return 0, err
	}
	now := time.Now()
	ids, err := p.queue.client.ZRangeByScore(ctx, p.queue.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: p.batch,
	}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		removed, err := p.queue.client.ZRem(ctx, p.queue.delayedKey(), id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		job, err := p.queue.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrJobNotFound) {
				logging.Error("queue", "load delayed job", "job_id", id, "error", err)
			}
			continue
		}
		if job.Finished() {
			continue
		}
		job.State = StateWaiting
		if err := p.queue.save(ctx, job); err != nil {
			logging.Error("queue", "save promoted job", "job_id", id, "error", err)
			continue
		}
		if err := p.queue.dispatch(job); err != nil {
			logging.Error("queue", "dispatch promoted job", "job_id", id, "error", err)
			_ = p.queue.client.ZAdd(ctx, p.queue.delayedKey(), redis.Z{
				Score:  float64(now.Add(p.interval).UnixMilli()),
				Member: id,
			}).Err()
			continue
		}
		promoted++
	}
	return promoted, nil
}

func (p *Promoter) acquire(ctx context.Context) (bool, error) {
	if p.lease == nil {
		return false, errors.New("promoter lease unavailable")
	}
	return p.lease.Acquire(ctx)
}
