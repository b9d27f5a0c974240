package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/nodeflow/nodeflow/core/infra/bus"
	"github.com/nodeflow/nodeflow/core/infra/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	env     *bus.Envelope
}

type stubBus struct {
	mu         sync.Mutex
	published  []published
	subscribed []string
	publishErr error
}

func (b *stubBus) Publish(subject string, env *bus.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, published{subject: subject, env: env})
	return nil
}

func (b *stubBus) Subscribe(subject, queue string, handler func(*bus.Envelope) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed = append(b.subscribed, subject+"|"+queue)
	return nil
}

func (b *stubBus) last(t *testing.T) published {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.published, "expected a published envelope")
	return b.published[len(b.published)-1]
}

func newTestQueue(t *testing.T) (*Queue, *stubBus, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := &stubBus{}
	q, err := New("workflows", client, b)
	require.NoError(t, err)
	return q, b, client
}

func retryOpts() JobOptions {
	return JobOptions{Attempts: 3, Backoff: Backoff{Type: BackoffExponential, Delay: time.Second}}
}

func TestBackoffDelayFor(t *testing.T) {
	exp := Backoff{Type: BackoffExponential, Delay: time.Second}
	assert.Equal(t, time.Second, exp.DelayFor(1))
	assert.Equal(t, 2*time.Second, exp.DelayFor(2))
	assert.Equal(t, 4*time.Second, exp.DelayFor(3))
	assert.Equal(t, time.Second, exp.DelayFor(0))
	assert.Equal(t, maxBackoff, exp.DelayFor(40))

	fixed := Backoff{Type: BackoffFixed, Delay: 500 * time.Millisecond}
	assert.Equal(t, 500*time.Millisecond, fixed.DelayFor(3))
	assert.Zero(t, Backoff{Type: BackoffExponential}.DelayFor(2))
}

func TestOptionsFromPolicy(t *testing.T) {
	opts := OptionsFromPolicy(config.JobPolicy{Attempts: 3, BackoffType: "exponential", BackoffDelay: 1000})
	assert.Equal(t, 3, opts.Attempts)
	assert.Equal(t, BackoffExponential, opts.Backoff.Type)
	assert.Equal(t, time.Second, opts.Backoff.Delay)

	opts = OptionsFromPolicy(config.JobPolicy{})
	assert.Equal(t, 1, opts.Attempts)
	assert.Equal(t, BackoffFixed, opts.Backoff.Type)
}

func TestNewValidates(t *testing.T) {
	_, err := New(" ", nil, nil)
	assert.Error(t, err)
}

func TestQueueAddAssignsSequentialIDs(t *testing.T) {
	q, b, _ := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Add(ctx, "retry", map[string]any{"node": "n1"}, retryOpts())
	require.NoError(t, err)
	second, err := q.Add(ctx, "retry", map[string]any{"node": "n2"}, retryOpts())
	require.NoError(t, err)
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "2", second.ID)

	msg := b.last(t)
	assert.Equal(t, "queue.workflows.retry", msg.subject)
	assert.Equal(t, bus.KindJobDispatch, msg.env.Kind)
	assert.Equal(t, "2", msg.env.JobID)
	assert.Equal(t, 1, msg.env.Attempt)

	stored, err := q.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, stored.State)
	assert.Equal(t, 3, stored.Opts.Attempts)
	var data map[string]any
	require.NoError(t, stored.Decode(&data))
	assert.Equal(t, "n1", data["node"])
}

func TestQueueAddDispatchFailureSchedules(t *testing.T) {
	q, b, client := newTestQueue(t)
	b.publishErr = errors.New("nats down")

	job, err := q.Add(context.Background(), "workflows", map[string]any{"workflowId": "wf"}, JobOptions{})
	require.NoError(t, err)
	_, err = client.ZScore(context.Background(), q.delayedKey(), job.ID).Result()
	assert.NoError(t, err, "expected job on the delayed set for the promoter")
}

func TestQueueGetMissing(t *testing.T) {
	q, _, _ := newTestQueue(t)
	_, err := q.Get(context.Background(), "404")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestWorkerCompletesJob(t *testing.T) {
	q, b, _ := newTestQueue(t)
	ctx := context.Background()
	w := NewWorker(q, nil)
	w.Process("workflows", func(ctx context.Context, job *Job) (any, error) {
		return map[string]string{"status": "completed"}, nil
	})

	job, err := q.Add(ctx, "workflows", map[string]any{"workflowId": "wf-1"}, JobOptions{})
	require.NoError(t, err)
	require.NoError(t, w.handle(ctx, b.last(t).env))

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, stored.State)
	assert.Equal(t, 1, stored.AttemptsMade)
	assert.JSONEq(t, `{"status":"completed"}`, string(stored.ReturnValue))
	assert.NotNil(t, stored.FinishedAt)
}

func TestWorkerIgnoresDuplicateDelivery(t *testing.T) {
	q, b, _ := newTestQueue(t)
	ctx := context.Background()
	calls := 0
	w := NewWorker(q, nil)
	w.Process("workflows", func(ctx context.Context, job *Job) (any, error) {
		calls++
		return nil, nil
	})

	_, err := q.Add(ctx, "workflows", map[string]any{}, JobOptions{})
	require.NoError(t, err)
	env := b.last(t).env
	require.NoError(t, w.handle(ctx, env))
	require.NoError(t, w.handle(ctx, env))
	assert.Equal(t, 1, calls)
}

func TestWorkerRetriesWithBackoffThenFails(t *testing.T) {
	q, b, client := newTestQueue(t)
	ctx := context.Background()
	dlq := NewDLQStore(client)
	w := NewWorker(q, dlq)
	w.Process("retry", func(ctx context.Context, job *Job) (any, error) {
		return nil, errors.New("still broken")
	})
	var failedJob *Job
	w.OnFailed(func(ctx context.Context, job *Job, err error) {
		failedJob = job
	})
	promoter := NewPromoter(q, config.PromoterConfig{})

	job, err := q.Add(ctx, "retry", map[string]any{"node": "n1"}, retryOpts())
	require.NoError(t, err)

	for attempt, delay := range []time.Duration{time.Second, 2 * time.Second} {
		before := time.Now()
		require.NoError(t, w.handle(ctx, b.last(t).env))
		stored, err := q.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StateDelayed, stored.State)
		assert.Equal(t, attempt+1, stored.AttemptsMade)
		assert.Equal(t, "still broken", stored.FailedReason)

		score, err := client.ZScore(ctx, q.delayedKey(), job.ID).Result()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, int64(score), before.Add(delay).UnixMilli())
		assert.LessOrEqual(t, int64(score), time.Now().Add(delay).UnixMilli())

		// make it due and promote
		require.NoError(t, client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: 0, Member: job.ID}).Err())
		promoted, err := promoter.tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, promoted)
		assert.Equal(t, attempt+2, b.last(t).env.Attempt)
	}

	require.NoError(t, w.handle(ctx, b.last(t).env))
	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, stored.State)
	assert.Equal(t, 3, stored.AttemptsMade)
	require.NotNil(t, failedJob)
	assert.Equal(t, job.ID, failedJob.ID)

	entries, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "workflows", entries[0].Queue)
	assert.Equal(t, "retry", entries[0].Name)
	assert.Equal(t, 3, entries[0].Attempts)
}

func TestWorkerScheduleFailureFailsJob(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := &stubBus{}
	q, err := New("workflows", client, b)
	require.NoError(t, err)
	ctx := context.Background()

	w := NewWorker(q, nil)
	w.Process("retry", func(ctx context.Context, job *Job) (any, error) {
		mr.SetError("LOADING redis is restarting")
		return nil, errors.New("node failed")
	})
	var failedErr error
	w.OnFailed(func(ctx context.Context, job *Job, err error) {
		failedErr = err
	})

	_, err = q.Add(ctx, "retry", map[string]any{}, retryOpts())
	require.NoError(t, err)
	herr := w.handle(ctx, b.last(t).env)
	mr.SetError("")

	require.NoError(t, herr)
	_, redeliver := bus.RetryDelay(herr)
	assert.False(t, redeliver)
	require.Error(t, failedErr)
	assert.Contains(t, failedErr.Error(), "node failed")
	assert.Contains(t, failedErr.Error(), "retry not scheduled")
}

func TestWorkerMissingProcessorFails(t *testing.T) {
	q, b, _ := newTestQueue(t)
	ctx := context.Background()
	w := NewWorker(q, nil)

	job, err := q.Add(ctx, "unknown", map[string]any{}, JobOptions{})
	require.NoError(t, err)
	require.NoError(t, w.handle(ctx, b.last(t).env))
	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, stored.State)
	assert.Contains(t, stored.FailedReason, "no processor")
}

func TestWorkerRecoversPanic(t *testing.T) {
	q, b, _ := newTestQueue(t)
	ctx := context.Background()
	w := NewWorker(q, nil)
	w.Process("workflows", func(ctx context.Context, job *Job) (any, error) {
		panic("boom")
	})
	job, err := q.Add(ctx, "workflows", map[string]any{}, JobOptions{})
	require.NoError(t, err)
	require.NoError(t, w.handle(ctx, b.last(t).env))
	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, stored.State)
	assert.Contains(t, stored.FailedReason, "panic")
}

func TestWorkerStartSubscribesQueueGroup(t *testing.T) {
	q, b, _ := newTestQueue(t)
	w := NewWorker(q, nil)
	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, []string{"queue.workflows.>|nodeflow-workflows-workers"}, b.subscribed)
}

func TestPromoterLeadership(t *testing.T) {
	q, b, client := newTestQueue(t)
	ctx := context.Background()
	leader := NewPromoter(q, config.PromoterConfig{})
	follower := NewPromoter(q, config.PromoterConfig{})

	n, err := leader.tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	job, err := q.Add(ctx, "retry", map[string]any{}, retryOpts())
	require.NoError(t, err)
	require.NoError(t, client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: 0, Member: job.ID}).Err())
	published := len(b.published)

	n, err = follower.tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, b.published, published)

	n, err = leader.tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDLQStoreCRUD(t *testing.T) {
	_, _, client := newTestQueue(t)
	store := NewDLQStore(client)
	ctx := context.Background()

	entry := DLQEntry{JobID: "7", Queue: "workflows", Name: "retry", Reason: "boom", Attempts: 3}
	require.NoError(t, store.Add(ctx, entry))
	assert.Error(t, store.Add(ctx, DLQEntry{}))

	got, err := store.Get(ctx, entry.Key())
	require.NoError(t, err)
	assert.Equal(t, "boom", got.Reason)

	list, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, store.Delete(ctx, entry.Key()))
	list, err = store.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDLQStoreTrimDropsOldDocuments(t *testing.T) {
	_, _, client := newTestQueue(t)
	store := NewDLQStore(client)
	store.maxLen = 2
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"1", "2", "3"} {
		entry := DLQEntry{JobID: id, Queue: "workflows", Name: "retry", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.Add(ctx, entry))
	}

	list, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "3", list[0].JobID)
	assert.Equal(t, "2", list[1].JobID)

	oldest := DLQEntry{JobID: "1", Queue: "workflows"}.Key()
	n, err := client.Exists(ctx, dlqEntryKey(oldest)).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "trimmed entry document should be deleted")
}
