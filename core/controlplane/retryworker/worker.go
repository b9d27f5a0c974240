package retryworker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nodeflow/nodeflow/core/controlplane/wiring"
	"github.com/nodeflow/nodeflow/core/infra/bus"
	"github.com/nodeflow/nodeflow/core/infra/config"
	"github.com/nodeflow/nodeflow/core/infra/logging"
	infraMetrics "github.com/nodeflow/nodeflow/core/infra/metrics"
	"github.com/nodeflow/nodeflow/core/infra/queue"
	"github.com/nodeflow/nodeflow/core/infra/redisutil"
	"github.com/nodeflow/nodeflow/core/infra/tlsenv"
	wf "github.com/nodeflow/nodeflow/core/workflow"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	component        = "retry-worker"
	metricsNamespace = "nodeflow_retry_worker"
	healthService    = "nodeflow.RetryWorker"
)

// Run wires the retry worker from cfg and consumes the workflows queue
// until SIGINT/SIGTERM.
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

	worker := queue.NewWorker(jobs, queue.NewDLQStore(client))
	register(worker, executor, stores.Workflows)
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	go queue.NewPromoter(jobs, queues.Promoter).Start(ctx)

	ready := func(ctx context.Context) error {
		if !natsBus.IsConnected() {
			return fmt.Errorf("nats %s", natsBus.Status())
		}
		return client.Ping(ctx).Err()
	}
	httpSrv := startHealthServer(cfg.WorkerHTTPAddr, ready)

	grpcSrv, healthSrv := newGRPCServer()
	lis, err := net.Listen("tcp", cfg.WorkerGRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.WorkerGRPCAddr, err)
	}
	go func() {
		logging.Info(component, "grpc health listening", "addr", cfg.WorkerGRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logging.Error(component, "grpc server error", "error", err)
		}
	}()

	logging.Info(component, "started", "queue", config.QueueWorkflows, "backend", stores.Backend)
	<-ctx.Done()

	healthSrv.Shutdown()
	grpcSrv.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logging.Info(component, "stopped")
	return nil
}

// register binds the retry and workflows processors to w.
func register(w *queue.Worker, exec *wf.Executor, workflows wf.Store) {
	w.Process(config.JobRetry, retryProcessor(exec))
	w.Process(config.JobWorkflows, runProcessor(exec, workflows))
	w.OnFailed(exhaustedHandler(exec))
}

// retryProcessor re-runs the failed node of a retry job.
func retryProcessor(exec *wf.Executor) queue.Processor {
	return func(ctx context.Context, job *queue.Job) (any, error) {
		var p wf.RetryPayload
		if err := job.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode retry payload: %w", err)
		}
		logging.Info(component, "retrying node", "job_id", job.ID, "attempt", job.AttemptsMade,
			"execution_id", p.ExecutionID, "node_id", p.Node.ID, "type", p.Node.Type)
		return exec.RetryNode(ctx, p)
	}
}

// runProcessor executes a stored workflow for a queued run.
func runProcessor(exec *wf.Executor, workflows wf.Store) queue.Processor {
	return func(ctx context.Context, job *queue.Job) (any, error) {
		var p wf.RunPayload
		if err := job.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode run payload: %w", err)
		}
		if p.WorkflowID == "" {
			return nil, errors.New("workflowId required")
		}
		def, err := workflows.GetWorkflow(ctx, p.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("load workflow %s: %w", p.WorkflowID, err)
		}
		run, err := exec.Run(ctx, def, p.Input, "job:"+job.ID)
		if err != nil {
			return nil, err
		}
		logging.Info(component, "workflow run finished", "job_id", job.ID,
			"workflow_id", def.ID, "execution_id", run.ID, "status", run.Status)
		return map[string]string{"status": "completed"}, nil
	}
}

func exhaustedHandler(exec *wf.Executor) queue.FailedHandler {
	return func(ctx context.Context, job *queue.Job, err error) {
		if job == nil || job.Name != config.JobRetry {
			return
		}
		var p wf.RetryPayload
		if decErr := job.Decode(&p); decErr != nil {
			logging.Error(component, "decode exhausted retry", "job_id", job.ID, "error", decErr)
			return
		}
		logging.Error(component, "retry exhausted", "job_id", job.ID, "execution_id", p.ExecutionID, "node_id", p.Node.ID, "error", err)
		exec.MarkRetryExhausted(ctx, p.ExecutionID)
	}
}

// startHealthServer serves liveness, readiness and metrics on addr.
func startHealthServer(addr string, ready func(context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", infraMetrics.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logging.Info(component, "health listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(component, "health server error", "error", err)
		}
	}()
	return srv
}

// newGRPCServer registers the standard health service (overall and
// nodeflow.RetryWorker) plus reflection.
func newGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(serverCreds())
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv, hs
}

// serverCreds reads RETRY_WORKER_TLS_*; a misconfigured pair falls back
// to plaintext with an error log.
func serverCreds() grpc.ServerOption {
	plain := grpc.Creds(insecure.NewCredentials())
	tlsCfg, err := tlsenv.FromEnv("RETRY_WORKER").Server()
	if err != nil {
		logging.Error(component, "tls config invalid, continuing insecure", "error", err)
		return plain
	}
	if tlsCfg == nil {
		return plain
	}
	return grpc.Creds(credentials.NewTLS(tlsCfg))
}
