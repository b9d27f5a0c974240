package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/nodeflow/nodeflow/core/infra/bus"
	"github.com/nodeflow/nodeflow/core/infra/metrics"
	"github.com/nodeflow/nodeflow/core/infra/queue"
	"github.com/nodeflow/nodeflow/core/users"
	wf "github.com/nodeflow/nodeflow/core/workflow"
	"github.com/redis/go-redis/v9"
)

type stubBus struct {
	mu        sync.Mutex
	published []*bus.Envelope
	handlers  map[string]func(*bus.Envelope) error
}

func (b *stubBus) Publish(subject string, env *bus.Envelope) error {
	b.mu.Lock()
	b.published = append(b.published, env)
	h := b.handlers[subject]
	b.mu.Unlock()
	if h != nil {
		return h(env)
	}
	return nil
}

func (b *stubBus) Subscribe(subject, _ string, handler func(*bus.Envelope) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[string]func(*bus.Envelope) error)
	}
	b.handlers[subject] = handler
	return nil
}

type recordingMetrics struct {
	mu     sync.Mutex
	routes []string
}

func (m *recordingMetrics) ObserveRequest(method, route, status string, _ float64) {
	m.mu.Lock()
	m.routes = append(m.routes, method+" "+route+" "+status)
	m.mu.Unlock()
}

type failingAuth struct{}

func (failingAuth) Authenticate(context.Context, string) (*Identity, error) {
	return nil, errors.New("connection refused")
}

const testTokens = `[
	{"token":"admin-token","user_id":"admin-1","email":"admin@example.com"},
	{"token":"user-token","user_id":"u1","email":"u1@example.com"},
	{"token":"other-token","user_id":"u2","email":"u2@example.com"},
	{"token":"ghost-token","user_id":"ghost","email":"ghost@example.com"}
]`

type testEnv struct {
	s      *server
	bus    *stubBus
	store  *wf.RedisStore
	client redis.UniversalClient
}

func newTestGateway(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b := &stubBus{}
	store := wf.NewRedisStore(client)
	profiles := users.NewRedisStore(client)
	jobs, err := queue.New("workflows", client, b)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	auth, err := NewTokenAuth(testTokens)
	if err != nil {
		t.Fatalf("token auth: %v", err)
	}
	ctx := context.Background()
	for _, p := range []*users.Profile{
		{ID: "admin-1", Email: "admin@example.com", Role: users.RoleAdmin},
		{ID: "u1", Email: "u1@example.com", Name: "User One"},
		{ID: "u2", Email: "u2@example.com", Name: "User Two"},
	} {
		if err := profiles.Create(ctx, p); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	s := &server{
		workflows: store,
		runs:      store,
		executor: wf.NewExecutor(
			wf.NewDefaultRegistry(wf.Providers{}),
			wf.WithRetryQueue(jobs, queue.JobOptions{Attempts: 3, Backoff: queue.Backoff{Type: queue.BackoffExponential, Delay: time.Second}}),
			wf.WithRunStore(store),
			wf.WithEvents(b),
		),
		profiles: profiles,
		jobs:     jobs,
		jobOpts:  queue.JobOptions{Attempts: 1},
		dlq:      queue.NewDLQStore(client),
		bus:      b,
		auth:     auth,
		metrics:  metrics.Noop{},
		hub:      newStreamHub(),
		started:  time.Now().UTC(),
	}
	return &testEnv{s: s, bus: b, store: store, client: client}
}

// do sends a request through the full middleware chain.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			if err := json.NewEncoder(&buf).Encode(v); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.s.handler().ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func errorOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeJSON(t, rr, &body)
	return body["error"]
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}
