package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GatewayMetrics captures request metrics for the API gateway.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// ExecutorMetrics captures workflow execution metrics.
type ExecutorMetrics interface {
	IncExecutionStarted()
	IncExecutionCompleted(status string)
	ObserveNode(nodeType, status string, durationSeconds float64)
}

// QueueMetrics captures job queue metrics.
type QueueMetrics interface {
	IncJobAdded(queue, name string)
	IncJobProcessed(queue, name, outcome string)
	ObserveJobDuration(queue, name string, durationSeconds float64)
}

// Noop implements every metrics interface without emitting anything.
type Noop struct{}

func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) IncExecutionStarted()                           {}
func (Noop) IncExecutionCompleted(string)                   {}
func (Noop) ObserveNode(string, string, float64)            {}
func (Noop) IncJobAdded(string, string)                     {}
func (Noop) IncJobProcessed(string, string, string)         {}
func (Noop) ObserveJobDuration(string, string, float64)     {}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	prometheus.MustRegister(g.requests, g.latency)
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// --- Executor metrics ---

type executorProm struct {
	started   prometheus.Counter
	completed *prometheus.CounterVec
	nodes     *prometheus.HistogramVec
}

// NewExecutorProm constructs ExecutorMetrics for workflow executions.
func NewExecutorProm(namespace string) ExecutorMetrics {
	e := &executorProm{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_started_total",
			Help:      "Workflow executions started",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_completed_total",
			Help:      "Workflow executions completed by status",
		}, []string{"status"}),
		nodes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node evaluation latency by node type and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node_type", "status"}),
	}
	prometheus.MustRegister(e.started, e.completed, e.nodes)
	return e
}

func (e *executorProm) IncExecutionStarted() {
	e.started.Inc()
}

func (e *executorProm) IncExecutionCompleted(status string) {
	e.completed.WithLabelValues(status).Inc()
}

func (e *executorProm) ObserveNode(nodeType, status string, durationSeconds float64) {
	e.nodes.WithLabelValues(nodeType, status).Observe(durationSeconds)
}

// --- Queue metrics ---

type queueProm struct {
	added     *prometheus.CounterVec
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewQueueProm constructs QueueMetrics for job producers and workers.
func NewQueueProm(namespace string) QueueMetrics {
	q := &queueProm{
		added: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_added_total",
			Help:      "Jobs added by queue and name",
		}, []string{"queue", "name"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Job attempts by queue, name and outcome (completed/retried/failed)",
		}, []string{"queue", "name", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job processor latency by queue and name",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue", "name"}),
	}
	prometheus.MustRegister(q.added, q.processed, q.duration)
	return q
}

func (q *queueProm) IncJobAdded(queue, name string) {
	q.added.WithLabelValues(queue, name).Inc()
}

func (q *queueProm) IncJobProcessed(queue, name, outcome string) {
	q.processed.WithLabelValues(queue, name, outcome).Inc()
}

func (q *queueProm) ObserveJobDuration(queue, name string, durationSeconds float64) {
	q.duration.WithLabelValues(queue, name).Observe(durationSeconds)
}
