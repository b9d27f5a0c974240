package queue

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/nodeflow/nodeflow/core/infra/config"
)

// State is the lifecycle state of a queued job.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Backoff types.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// maxBackoff caps exponential growth for long attempt chains.
const maxBackoff = time.Hour

// ErrJobNotFound is returned when a job document is missing.
var ErrJobNotFound = errors.New("job not found")

// Backoff describes how long to wait before re-running a failed attempt.
type Backoff struct {
	Type  string        `json:"type"`
	Delay time.Duration `json:"delay"`
}

// DelayFor returns the wait after the given number of attempts made (1-based).
func (b Backoff) DelayFor(attemptsMade int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	if !strings.EqualFold(b.Type, BackoffExponential) {
		return b.Delay
	}
	delay := float64(b.Delay) * math.Pow(2, float64(attemptsMade-1))
	if delay > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(delay)
}

// JobOptions controls attempts and backoff for a job.
type JobOptions struct {
	Attempts int     `json:"attempts"`
	Backoff  Backoff `json:"backoff"`
}

func (o JobOptions) normalized() JobOptions {
	if o.Attempts <= 0 {
		o.Attempts = 1
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = BackoffFixed
	}
	return o
}

// OptionsFromPolicy converts a configured job policy into job options.
func OptionsFromPolicy(p config.JobPolicy) JobOptions {
	return JobOptions{
		Attempts: p.Attempts,
		Backoff:  Backoff{Type: p.BackoffType, Delay: p.Delay()},
	}.normalized()
}

// Job is a unit of work stored in Redis and dispatched over the bus.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data,omitempty"`
	Opts         JobOptions      `json:"opts"`
	AttemptsMade int             `json:"attempts_made"`
	State        State           `json:"state"`
	FailedReason string          `json:"failed_reason,omitempty"`
	ReturnValue  json.RawMessage `json:"return_value,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// Decode unmarshals the job data into v.
func (j *Job) Decode(v any) error {
	if j == nil || len(j.Data) == 0 {
		return errors.New("job has no data")
	}
	return json.Unmarshal(j.Data, v)
}

// Finished reports whether the job reached a terminal state.
func (j *Job) Finished() bool {
	return j != nil && (j.State == StateCompleted || j.State == StateFailed)
}
