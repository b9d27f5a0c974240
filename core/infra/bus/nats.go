package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nodeflow/nodeflow/core/infra/tlsenv"
)

// Bus is the publish/subscribe surface the queue and the gateway depend on.
type Bus interface {
	Publish(subject string, env *Envelope) error
	Subscribe(subject, queue string, handler func(*Envelope) error) error
}

// Envelope is the JSON message carried on every subject.
type Envelope struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Queue     string          `json:"queue,omitempty"`
	Name      string          `json:"name,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Envelope kinds.
const (
	KindJobDispatch    = "job.dispatch"
	KindExecutionEvent = "execution.event"
)

// SubjectExecutionEvents carries execution lifecycle events for live streams.
const SubjectExecutionEvents = "events.executions"

// NatsBus is a thin wrapper over a NATS connection that speaks JSON envelopes.
type NatsBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	jsEnabled bool
	ackWait   time.Duration
}

const (
	envUseJetStream = "NATS_USE_JETSTREAM"
	envJSAckWait    = "NATS_JS_ACK_WAIT"
	envJSMaxAge     = "NATS_JS_MAX_AGE"

	defaultAckWait = 2 * time.Minute
	defaultMaxAge  = 7 * 24 * time.Hour

	streamQueue = "NODEFLOW_QUEUE"
)

var (
	errNilBus      = errors.New("nats bus not initialized")
	errNilEnvelope = errors.New("nil envelope")
	errEmptyTopic  = errors.New("empty subject")
)

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("nodeflow-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("[BUS] disconnected from NATS: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[BUS] reconnected to NATS at %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("[BUS] connection closed")
		}),
	}
	tlsCfg, err := tlsenv.FromEnv("NATS").Client(nil)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, nats.Secure(tlsCfg))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	b := &NatsBus{nc: nc, ackWait: defaultAckWait}
	b.initJetStreamFromEnv()
	return b, nil
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

// QueueSubject is the dispatch subject for a queue/job-name pair.
func QueueSubject(queue, name string) string {
	queue = strings.TrimSpace(queue)
	name = strings.TrimSpace(name)
	if queue == "" || name == "" {
		return ""
	}
	return fmt.Sprintf("queue.%s.%s", queue, name)
}

// QueueWildcard matches every job name published on a queue.
func QueueWildcard(queue string) string {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return ""
	}
	return "queue." + queue + ".>"
}

// Publish sends a JSON-encoded envelope on the given subject.
func (b *NatsBus) Publish(subject string, env *Envelope) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if env == nil {
		return errNilEnvelope
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if b.jsEnabled && isDurableSubject(subject) {
		if msgID := computeMsgID(env); msgID != "" {
			_, err = b.js.Publish(subject, data, nats.MsgId(msgID))
		} else {
			_, err = b.js.Publish(subject, data)
		}
		return err
	}
	return b.nc.Publish(subject, data)
}

// Subscribe attaches a subscription that decodes envelopes and invokes the handler.
// When JetStream is enabled, durable subjects are consumed with explicit ack/nak semantics.
func (b *NatsBus) Subscribe(subject, queue string, handler func(*Envelope) error) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if handler == nil {
		return errors.New("nil handler")
	}
	if b.jsEnabled && isDurableSubject(subject) {
		cb := func(msg *nats.Msg) {
			var env Envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				log.Printf("[BUS] failed to decode envelope: %v", err)
				_ = msg.Ack()
				return
			}
			if err := handler(&env); err != nil {
				if delay, ok := RetryDelay(err); ok {
					if delay > 0 {
						_ = msg.NakWithDelay(delay)
					} else {
						_ = msg.Nak()
					}
					return
				}
				log.Printf("[BUS] handler error (ack): %v", err)
			}
			_ = msg.Ack()
		}

		opts := []nats.SubOpt{
			nats.ManualAck(),
			nats.AckExplicit(),
			nats.AckWait(b.ackWait),
			nats.MaxAckPending(1024),
		}
		if durable := durableName(subject, queue); durable != "" {
			opts = append(opts, nats.Durable(durable))
		}

		var err error
		if queue == "" {
			_, err = b.js.Subscribe(subject, cb, opts...)
		} else {
			_, err = b.js.QueueSubscribe(subject, queue, cb, opts...)
		}
		return err
	}

	cb := func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("[BUS] failed to decode envelope: %v", err)
			return
		}
		if err := handler(&env); err != nil {
			log.Printf("[BUS] handler error: %v", err)
		}
	}
	if queue == "" {
		_, err := b.nc.Subscribe(subject, cb)
		return err
	}
	_, err := b.nc.QueueSubscribe(subject, queue, cb)
	return err
}

func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *NatsBus) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}

func initJetStreamEnabled() bool {
	return tlsenv.Bool(envUseJetStream)
}

func (b *NatsBus) initJetStreamFromEnv() {
	if b == nil || b.nc == nil || !initJetStreamEnabled() {
		return
	}
	ackWait := tlsenv.Duration(envJSAckWait, defaultAckWait)
	maxAge := tlsenv.Duration(envJSMaxAge, defaultMaxAge)

	js, err := b.nc.JetStream()
	if err != nil {
		log.Printf("[BUS] jetstream init failed: %v", err)
		return
	}
	if _, err := js.AccountInfo(); err != nil {
		log.Printf("[BUS] jetstream not available: %v", err)
		return
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       streamQueue,
		Subjects:   []string{"queue.>"},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     maxAge,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		// Stream may already exist; treat that as success.
		if _, infoErr := js.StreamInfo(streamQueue); infoErr != nil {
			log.Printf("[BUS] jetstream ensure stream failed name=%s: %v", streamQueue, err)
			return
		}
	}

	b.js = js
	b.jsEnabled = true
	b.ackWait = ackWait
	log.Printf("[BUS] jetstream enabled stream=%s ack_wait=%s max_age=%s", streamQueue, ackWait, maxAge)
}

func isDurableSubject(subject string) bool {
	return strings.HasPrefix(subject, "queue.")
}

func durableName(subject, queue string) string {
	name := sanitizeToken(subject)
	if name == "" {
		return ""
	}
	q := sanitizeToken(queue)
	if q == "" {
		return "dur_" + name
	}
	return "dur_" + q + "__" + name
}

func sanitizeToken(raw string) string {
	raw = strings.ReplaceAll(raw, ".", "_")
	raw = strings.ReplaceAll(raw, "*", "STAR")
	raw = strings.ReplaceAll(raw, ">", "GT")
	return strings.TrimSpace(raw)
}

// computeMsgID dedupes republished dispatches of the same attempt.
func computeMsgID(env *Envelope) string {
	if env == nil {
		return ""
	}
	if jobID := strings.TrimSpace(env.JobID); jobID != "" {
		return fmt.Sprintf("job:%s:%s:%d", env.Queue, jobID, env.Attempt)
	}
	return strings.TrimSpace(env.ID)
}
