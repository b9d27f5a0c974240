package openai

import (
	"sync"
	"time"

	"github.com/nodeflow/nodeflow/core/infra/logging"
)

// Breaker trips after threshold failures inside window and stays open for
// resetTimeout. A disabled breaker never opens.
type Breaker struct {
	mu           sync.Mutex
	enabled      bool
	threshold    int
	window       time.Duration
	resetTimeout time.Duration

	failures    int
	lastFailure time.Time
	tripped     bool
	trippedAt   time.Time

	now func() time.Time
}

func NewBreaker(enabled bool, threshold int, window, resetTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{
		enabled:      enabled,
		threshold:    threshold,
		window:       window,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// RecordFailure counts a failed call and reports whether the breaker is open
// afterwards.
func (b *Breaker) RecordFailure() bool {
	if b == nil || !b.enabled {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.tripped {
		if now.Sub(b.trippedAt) <= b.resetTimeout {
			return true
		}
		b.tripped = false
		b.failures = 0
	}
	if now.Sub(b.lastFailure) > b.window {
		b.failures = 0
	}
	b.failures++
	b.lastFailure = now
	if b.failures >= b.threshold {
		b.tripped = true
		b.trippedAt = now
		logging.Error("openai", "circuit breaker tripped", "failures", b.failures)
		return true
	}
	return false
}

// RecordSuccess clears the failure count.
func (b *Breaker) RecordSuccess() {
	if b == nil || !b.enabled {
		return
	}
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// IsOpen reports whether calls should be rejected. An open breaker closes
// itself once resetTimeout has elapsed.
func (b *Breaker) IsOpen() bool {
	if b == nil || !b.enabled {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped && b.now().Sub(b.trippedAt) > b.resetTimeout {
		b.tripped = false
		b.failures = 0
	}
	return b.tripped
}

func (b *Breaker) Reset() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.tripped = false
	b.failures = 0
	b.mu.Unlock()
}
