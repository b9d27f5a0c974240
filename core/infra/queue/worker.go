package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nodeflow/nodeflow/core/infra/bus"
	"github.com/nodeflow/nodeflow/core/infra/logging"
)

// Processor runs one attempt of a job. The returned value is stored as the
// job's return value on success.
type Processor func(ctx context.Context, job *Job) (any, error)

// FailedHandler is notified when a job exhausts its attempts.
type FailedHandler func(ctx context.Context, job *Job, err error)

// Worker consumes dispatch envelopes for one queue and runs registered
// processors with the job's attempts/backoff policy.
type Worker struct {
	queue *Queue
	dlq   *DLQStore
	group string

	mu         sync.RWMutex
	processors map[string]Processor
	onFailed   []FailedHandler
}

// NewWorker returns a worker for q. dlq may be nil.
func NewWorker(q *Queue, dlq *DLQStore) *Worker {
	return &Worker{
		queue:      q,
		dlq:        dlq,
		group:      "nodeflow-" + q.name + "-workers",
		processors: map[string]Processor{},
	}
}

// Process registers the processor for a job name.
func (w *Worker) Process(name string, p Processor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.processors[strings.TrimSpace(name)] = p
}

// OnFailed registers a handler for jobs that fail permanently.
func (w *Worker) OnFailed(h FailedHandler) {
	if h == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onFailed = append(w.onFailed, h)
}

// Start subscribes to every job name on the queue. Handlers run with ctx.
func (w *Worker) Start(ctx context.Context) error {
	subject := bus.QueueWildcard(w.queue.name)
	if err := w.queue.bus.Subscribe(subject, w.group, func(env *bus.Envelope) error {
		return w.handle(ctx, env)
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	logging.Info("queue", "worker started", "queue", w.queue.name, "subject", subject)
	return nil
}

func (w *Worker) processor(name string) Processor {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.processors[name]
}

func (w *Worker) handle(ctx context.Context, env *bus.Envelope) error {
	if env == nil || env.Kind != bus.KindJobDispatch || env.Queue != w.queue.name {
		return nil
	}
	job, err := w.queue.Get(ctx, env.JobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			logging.Info("queue", "dispatch for unknown job", "queue", env.Queue, "job_id", env.JobID)
			return nil
		}
		return bus.RetryAfter(err, time.Second)
	}
	// duplicate delivery of an attempt already taken
	if job.Finished() || (env.Attempt > 0 && job.AttemptsMade >= env.Attempt) {
		return nil
	}
	proc := w.processor(job.Name)
	if proc == nil {
		return w.fail(ctx, job, fmt.Errorf("no processor for job %s", job.Name))
	}

	now := time.Now().UTC()
	job.AttemptsMade++
	job.State = StateActive
	job.ProcessedAt = &now
	if err := w.queue.save(ctx, job); err != nil {
		return bus.RetryAfter(err, time.Second)
	}

	start := time.Now()
	result, perr := runProcessor(ctx, proc, job)
	w.queue.metrics.ObserveJobDuration(job.Queue, job.Name, time.Since(start).Seconds())
	if perr == nil {
		return w.complete(ctx, job, result)
	}
	if job.AttemptsMade < job.Opts.Attempts {
		delay := job.Opts.Backoff.DelayFor(job.AttemptsMade)
		job.State = StateDelayed
		job.FailedReason = perr.Error()
		if err := w.queue.schedule(ctx, job, time.Now().Add(delay)); err != nil {
			// core NATS drops nak requests; fail terminally so the job never sticks in active
			logging.Error("queue", "schedule retry", "queue", job.Queue, "job_id", job.ID, "error", err)
			return w.fail(ctx, job, fmt.Errorf("%w (retry not scheduled: %v)", perr, err))
		}
		w.queue.metrics.IncJobProcessed(job.Queue, job.Name, "retried")
		logging.Info("queue", "job attempt failed, retrying",
			"queue", job.Queue, "job", job.Name, "job_id", job.ID,
			"attempt", job.AttemptsMade, "of", job.Opts.Attempts, "delay", delay, "error", perr)
		return nil
	}
	return w.fail(ctx, job, perr)
}

func (w *Worker) complete(ctx context.Context, job *Job, result any) error {
	now := time.Now().UTC()
	job.State = StateCompleted
	job.FailedReason = ""
	job.FinishedAt = &now
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			logging.Error("queue", "marshal return value", "job_id", job.ID, "error", err)
		} else {
			job.ReturnValue = raw
		}
	}
	if err := w.queue.save(ctx, job); err != nil {
		logging.Error("queue", "save completed job", "job_id", job.ID, "error", err)
		return err
	}
	w.queue.metrics.IncJobProcessed(job.Queue, job.Name, "completed")
	logging.Info("queue", "job completed", "queue", job.Queue, "job", job.Name, "job_id", job.ID, "attempts", job.AttemptsMade)
	return nil
}

func (w *Worker) fail(ctx context.Context, job *Job, cause error) error {
	now := time.Now().UTC()
	job.State = StateFailed
	job.FailedReason = cause.Error()
	job.FinishedAt = &now
	if err := w.queue.save(ctx, job); err != nil {
		logging.Error("queue", "save failed job", "job_id", job.ID, "error", err)
	}
	if w.dlq != nil {
		entry := DLQEntry{
			JobID:    job.ID,
			Queue:    job.Queue,
			Name:     job.Name,
			Reason:   job.FailedReason,
			Attempts: job.AttemptsMade,
			Data:     job.Data,
		}
		if err := w.dlq.Add(ctx, entry); err != nil {
			logging.Error("queue", "dlq add", "job_id", job.ID, "error", err)
		}
	}
	w.queue.metrics.IncJobProcessed(job.Queue, job.Name, "failed")
	logging.Error("queue", "job failed", "queue", job.Queue, "job", job.Name, "job_id", job.ID, "attempts", job.AttemptsMade, "error", cause)

	w.mu.RLock()
	handlers := append([]FailedHandler(nil), w.onFailed...)
	w.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, job, cause)
	}
	return nil
}

func runProcessor(ctx context.Context, proc Processor, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return proc(ctx, job)
}
