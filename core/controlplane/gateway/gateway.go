package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nodeflow/nodeflow/core/controlplane/wiring"
	"github.com/nodeflow/nodeflow/core/infra/bus"
	"github.com/nodeflow/nodeflow/core/infra/config"
	"github.com/nodeflow/nodeflow/core/infra/logging"
	infraMetrics "github.com/nodeflow/nodeflow/core/infra/metrics"
	"github.com/nodeflow/nodeflow/core/infra/queue"
	"github.com/nodeflow/nodeflow/core/infra/redisutil"
	"github.com/nodeflow/nodeflow/core/users"
	wf "github.com/nodeflow/nodeflow/core/workflow"
	"golang.org/x/time/rate"
)

const (
	maxBodyBytes          = 2 << 20
	defaultListLimit      = 50
	maxListLimit          = 500
	defaultRateLimitRPS   = 50
	defaultRateLimitBurst = 100
	metricsNamespace      = "nodeflow_api_gateway"
)

type server struct {
	workflows wf.Store
	runs      wf.RunStore
	executor  *wf.Executor
	profiles  users.Store
	jobs      *queue.Queue
	jobOpts   queue.JobOptions
	dlq       *queue.DLQStore
	bus       bus.Bus

	auth        AuthProvider
	requireAuth bool
	metrics     infraMetrics.GatewayMetrics
	limiter     *rate.Limiter
	origins     originPolicy
	hub         *streamHub
	started     time.Time
}

// Run wires the gateway from cfg and serves until SIGINT/SIGTERM.
func Run(cfg *config.Config) error {
	if cfg == nil {
		cfg = config.Load()
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := redisutil.Connect(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer natsBus.Close()

	stores, err := wiring.OpenStores(ctx, cfg, client)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer stores.Close()

	queues, err := config.LoadQueues(cfg.QueueConfigPath)
	if err != nil {
		return fmt.Errorf("load queue config: %w", err)
	}
	jobs, err := queue.New(config.QueueWorkflows, client, natsBus)
	if err != nil {
		return err
	}
	jobs.WithMetrics(infraMetrics.NewQueueProm(metricsNamespace))

	providers, closeProviders := wiring.Providers(ctx, cfg)
	defer closeProviders()
	executor := wf.NewExecutor(
		wf.NewDefaultRegistry(providers),
		wf.WithRetryQueue(jobs, queue.OptionsFromPolicy(queues.Policy(config.JobRetry))),
		wf.WithRunStore(stores.Runs),
		wf.WithEvents(natsBus),
		wf.WithMetrics(infraMetrics.NewExecutorProm(metricsNamespace)),
	)

	auth, err := newAuthProvider(cfg)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	s := &server{
		workflows:   stores.Workflows,
		runs:        stores.Runs,
		executor:    executor,
		profiles:    stores.Profiles,
		jobs:        jobs,
		jobOpts:     queue.OptionsFromPolicy(queues.Policy(config.JobWorkflows)),
		dlq:         queue.NewDLQStore(client),
		bus:         natsBus,
		auth:        auth,
		requireAuth: cfg.RequireAuth,
		metrics:     infraMetrics.NewGatewayProm(metricsNamespace),
		limiter:     newLimiterFromEnv(),
		origins:     newOriginPolicy(cfg.AllowedOrigins),
		hub:         newStreamHub(),
		started:     time.Now().UTC(),
	}
	if err := s.startEventTap(); err != nil {
		logging.Error("api-gateway", "execution event tap failed", "error", err)
	}
	logging.Info("api-gateway", "stores ready", "backend", stores.Backend)

	return startHTTPServer(ctx, s, cfg.HTTPAddr, cfg.MetricsAddr)
}

func startHTTPServer(ctx context.Context, s *server, httpAddr, metricsAddr string) error {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", infraMetrics.Handler())
	metricsSrv := &http.Server{
		Addr:         metricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logging.Info("api-gateway", "metrics listening", "addr", metricsAddr+"/metrics")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("api-gateway", "metrics server error", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           s.handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.hub.closeAll()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	logging.Info("api-gateway", "http listening", "addr", httpAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("api-gateway", "http server error", "error", err)
		return err
	}
	return nil
}

// handler builds the routed mux wrapped in the global middleware chain.
func (s *server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.route(mux, "GET /api/menu", authOptional, s.handleMenu)

	// Workflows
	s.route(mux, "POST /api/workflows", authOptional, s.handleSaveWorkflow)
	s.route(mux, "GET /api/workflows", authOptional, s.handleListWorkflows)
	s.route(mux, "GET /api/workflows/{id}", authOptional, s.handleGetWorkflow)
	s.route(mux, "DELETE /api/workflows/{id}", authAdmin, s.handleDeleteWorkflow)
	s.route(mux, "POST /api/workflows/{id}/execute", authOptional, s.handleExecuteWorkflow)
	s.route(mux, "GET /api/workflows/{id}/executions", authOptional, s.handleListExecutions)
	s.route(mux, "GET /api/executions/{id}", authOptional, s.handleGetExecution)

	// Users
	s.route(mux, "GET /api/users", authAdmin, s.handleListUsers)
	s.route(mux, "POST /api/users", authAdmin, s.handleCreateUser)
	s.route(mux, "GET /api/users/{id}", authRequired, s.handleGetUser)
	s.route(mux, "PUT /api/users/{id}", authRequired, s.handleUpdateUser)
	s.route(mux, "DELETE /api/users/{id}", authAdmin, s.handleDeleteUser)

	// Jobs
	s.route(mux, "GET /api/jobs/failed", authAdmin, s.handleListFailedJobs)
	s.route(mux, "GET /api/jobs/{id}", authOptional, s.handleGetJob)

	s.route(mux, "GET /api/stream", authOptional, s.handleStream)

	return securityHeaders(s.cors(s.rateLimit(mux)))
}

// route registers pattern with auth and request metrics applied.
func (s *server) route(mux *http.ServeMux, pattern string, mode authMode, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, s.instrumented(routeLabel(pattern), s.withAuth(mode, fn)))
}

func routeLabel(pattern string) string {
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards websocket hijacking support to the underlying writer.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacker not supported")
	}
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrumented wraps handlers to record metrics.
func (s *server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start).Seconds())
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func listLimit(r *http.Request) int64 {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
