package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nodeflow/nodeflow/core/infra/bus"
	"github.com/nodeflow/nodeflow/core/infra/metrics"
	"github.com/redis/go-redis/v9"
)

const jobTTL = 7 * 24 * time.Hour

// Queue adds jobs to a named queue. Job documents live in Redis; the bus
// carries dispatch envelopes to workers.
type Queue struct {
	name    string
	client  redis.UniversalClient
	bus     bus.Bus
	metrics metrics.QueueMetrics
}

// New returns a queue named name backed by client and b.
func New(name string, client redis.UniversalClient, b bus.Bus) (*Queue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("queue name required")
	}
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if b == nil {
		return nil, errors.New("bus required")
	}
	return &Queue{name: name, client: client, bus: b, metrics: metrics.Noop{}}, nil
}

// WithMetrics sets the metrics sink.
func (q *Queue) WithMetrics(m metrics.QueueMetrics) *Queue {
	if m != nil {
		q.metrics = m
	}
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Add stores a new job and dispatches its first attempt.
func (q *Queue) Add(ctx context.Context, name string, data any, opts JobOptions) (*Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("job name required")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal job data: %w", err)
	}
	seq, err := q.client.Incr(ctx, q.idKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("allocate job id: %w", err)
	}
	job := &Job{
		ID:        strconv.FormatInt(seq, 10),
		Queue:     q.name,
		Name:      name,
		Data:      raw,
		Opts:      opts.normalized(),
		State:     StateWaiting,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	if err := q.dispatch(job); err != nil {
		// The job stays waiting; the promoter re-dispatches it.
		if zerr := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(time.Now().UnixMilli()), Member: job.ID}).Err(); zerr != nil {
			return nil, fmt.Errorf("dispatch job: %w", err)
		}
	}
	q.metrics.IncJobAdded(q.name, name)
	return job, nil
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrJobNotFound
	}
	data, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.Set(ctx, q.jobKey(job.ID), data, jobTTL).Err()
}

// schedule marks the job delayed until runAt.
func (q *Queue) schedule(ctx context.Context, job *Job, runAt time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), data, jobTTL)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(runAt.UnixMilli()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (q *Queue) dispatch(job *Job) error {
	env := &bus.Envelope{
		ID:        uuid.NewString(),
		Kind:      bus.KindJobDispatch,
		Queue:     job.Queue,
		Name:      job.Name,
		JobID:     job.ID,
		Attempt:   job.AttemptsMade + 1,
		Timestamp: time.Now().UTC(),
	}
	return q.bus.Publish(bus.QueueSubject(job.Queue, job.Name), env)
}

func (q *Queue) idKey() string {
	return "nf:queue:" + q.name + ":id"
}

func (q *Queue) jobKey(id string) string {
	return "nf:queue:" + q.name + ":job:" + id
}

func (q *Queue) delayedKey() string {
	return "nf:queue:" + q.name + ":delayed"
}

func (q *Queue) lockKey() string {
	return "nf:queue:" + q.name + ":promoter"
}
