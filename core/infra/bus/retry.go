package bus

import (
	"errors"
	"time"
)

var errRedeliver = errors.New("redelivery requested")

// nakError asks a JetStream subscription to redeliver the message after
// delay instead of acking it. Core NATS subscriptions only log it, so the
// queue worker reschedules through Redis as well.
type nakError struct {
	cause error
	delay time.Duration
}

func (e *nakError) Error() string {
	return "redeliver in " + e.delay.String() + ": " + e.cause.Error()
}

func (e *nakError) Unwrap() error { return e.cause }

// RetryAfter marks err as transient. Negative delays are treated as zero.
func RetryAfter(err error, delay time.Duration) error {
	if err == nil {
		err = errRedeliver
	}
	return &nakError{cause: err, delay: max(delay, 0)}
}

// RetryDelay reports the redelivery delay carried by err, if any.
func RetryDelay(err error) (time.Duration, bool) {
	var nak *nakError
	if !errors.As(err, &nak) {
		return 0, false
	}
	return nak.delay, true
}
