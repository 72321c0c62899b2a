// Package metrics exposes Prometheus metrics for sessions and executions.
//
// A Collector owns a private registry so tests and embedded uses never clash
// with the global default registry. It satisfies session.Recorder.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Namespace prefixes every metric name.
const Namespace = "sandboxd"

// Collector records session and execution metrics
type Collector struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	sessionsActive     prometheus.Gauge
	sessionsCreated    *prometheus.CounterVec
	sessionsClosed     *prometheus.CounterVec
	executionsTotal    *prometheus.CounterVec
	executionDurations *prometheus.HistogramVec
}

// New creates a Collector with Go runtime and process collectors registered
func New(logger *zap.Logger) *Collector {
	c := &Collector{
		logger:   logger.Named("metrics"),
		registry: prometheus.NewRegistry(),

		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions_active",
			Help:      "Number of registered workspace sessions",
		}),
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created, by mode (isolated or degraded)",
		}, []string{"mode"}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_closed_total",
			Help:      "Sessions torn down, by reason",
		}, []string{"reason"}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "executions_total",
			Help:      "Executions dispatched, by mode and outcome",
		}, []string{"mode", "outcome"}),
		executionDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "execution_duration_seconds",
			Help:      "Execution latency including session resolution",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 600},
		}, []string{"mode"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.sessionsActive,
		c.sessionsCreated,
		c.sessionsClosed,
		c.executionsTotal,
		c.executionDurations,
	)

	return c
}

// SessionCreated records a new session.
func (c *Collector) SessionCreated(mode string) {
	c.sessionsActive.Inc()
	c.sessionsCreated.WithLabelValues(mode).Inc()
}

// SessionClosed records a torn down session.
func (c *Collector) SessionClosed(reason string) {
	c.sessionsActive.Dec()
	c.sessionsClosed.WithLabelValues(reason).Inc()
}

// ExecutionFinished records one completed execution.
func (c *Collector) ExecutionFinished(mode, outcome string, duration time.Duration) {
	c.executionsTotal.WithLabelValues(mode, outcome).Inc()
	c.executionDurations.WithLabelValues(mode).Observe(duration.Seconds())
}

// Handler serves the collector's registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(c.logger),
	})
}
