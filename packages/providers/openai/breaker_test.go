package openai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAndResets(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(true, 3, time.Minute, 30*time.Second)
	b.now = func() time.Time { return now }

	assert.False(t, b.RecordFailure())
	assert.False(t, b.RecordFailure())
	assert.True(t, b.RecordFailure())
	assert.True(t, b.IsOpen())

	now = now.Add(31 * time.Second)
	assert.False(t, b.IsOpen())
	assert.False(t, b.RecordFailure())
}

func TestBreakerWindowExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(true, 2, time.Second, time.Minute)
	b.now = func() time.Time { return now }

	assert.False(t, b.RecordFailure())
	now = now.Add(2 * time.Second)
	assert.False(t, b.RecordFailure())
	assert.False(t, b.IsOpen())
}

func TestBreakerSuccessAndReset(t *testing.T) {
	b := NewBreaker(true, 2, time.Minute, time.Minute)
	b.RecordFailure()
	b.RecordSuccess()
	assert.False(t, b.RecordFailure())
	assert.True(t, b.RecordFailure())
	b.Reset()
	assert.False(t, b.IsOpen())
}

func TestBreakerDisabled(t *testing.T) {
	b := NewBreaker(false, 1, time.Minute, time.Minute)
	assert.False(t, b.RecordFailure())
	assert.False(t, b.IsOpen())
	var nilBreaker *Breaker
	assert.False(t, nilBreaker.IsOpen())
}
