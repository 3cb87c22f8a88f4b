// Package telemetry provides the Prometheus collectors and OpenTelemetry
// tracer the runtime emits through. Both have no-op variants so the engine
// never has to nil-check its instrumentation.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runtime's Prometheus collectors, namespaced with "oao_".
type Metrics struct {
	executions *prometheus.CounterVec
	toolCalls  *prometheus.CounterVec
	retries    prometheus.Counter
	stepTime   prometheus.Histogram
	queueDepth prometheus.Gauge
	inflight   prometheus.Gauge

	enabled bool
}

// NewMetrics creates and registers the runtime metrics with the given
// registry. Use prometheus.DefaultRegisterer for the global registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		enabled: true,
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oao_executions_total",
			Help: "Executions finished, labeled by terminal status.",
		}, []string{"status"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oao_tool_calls_total",
			Help: "Tool calls routed through the interception layer, labeled by outcome.",
		}, []string{"result"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "oao_retries_total",
			Help: "Retry attempts across tool and adapter invocations.",
		}),
		stepTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "oao_step_duration_seconds",
			Help:    "Duration of engine steps.",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "oao_queue_depth",
			Help: "Jobs waiting on the scheduler's pending queue.",
		}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "oao_inflight_executions",
			Help: "Executions currently being driven by an engine.",
		}),
	}
}

// NoopMetrics returns a Metrics whose methods do nothing.
func NoopMetrics() *Metrics {
	return &Metrics{}
}

// ExecutionFinished records a terminal execution outcome.
func (m *Metrics) ExecutionFinished(status string) {
	if m == nil || !m.enabled {
		return
	}
	m.executions.WithLabelValues(status).Inc()
}

// ToolCall records a tool call outcome: success, failed, or deduped.
func (m *Metrics) ToolCall(result string) {
	if m == nil || !m.enabled {
		return
	}
	m.toolCalls.WithLabelValues(result).Inc()
}

// RetryAttempted records one retry attempt.
func (m *Metrics) RetryAttempted() {
	if m == nil || !m.enabled {
		return
	}
	m.retries.Inc()
}

// StepObserved records the duration of one engine step.
func (m *Metrics) StepObserved(d time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.stepTime.Observe(d.Seconds())
}

// SetQueueDepth records the current pending queue depth.
func (m *Metrics) SetQueueDepth(n int64) {
	if m == nil || !m.enabled {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ExecutionStarted increments the in-flight gauge.
func (m *Metrics) ExecutionStarted() {
	if m == nil || !m.enabled {
		return
	}
	m.inflight.Inc()
}

// ExecutionEnded decrements the in-flight gauge.
func (m *Metrics) ExecutionEnded() {
	if m == nil || !m.enabled {
		return
	}
	m.inflight.Dec()
}
