// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the dispatcher and registry collectors.
type Metrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	tools     prometheus.Gauge
	models    prometheus.Gauge
	rebuilds  prometheus.Counter
	forwarded *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelmcp",
			Name:      "rpc_requests_total",
			Help:      "JSON-RPC requests handled, by method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modelmcp",
			Name:      "rpc_duration_seconds",
			Help:      "JSON-RPC dispatch latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		tools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modelmcp",
			Name:      "registry_tools",
			Help:      "Tools in the published tool set.",
		}),
		models: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modelmcp",
			Name:      "registry_models",
			Help:      "Models exposed by the registry.",
		}),
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modelmcp",
			Name:      "registry_rebuilds_total",
			Help:      "Successful registry rebuilds.",
		}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelmcp",
			Name:      "http_requests_total",
			Help:      "HTTP requests served on the MCP endpoint, by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.requests, m.duration, m.tools, m.models, m.rebuilds, m.forwarded)
	return m
}

// ObserveRequest records one dispatched call. Outcome is "ok", "tool_error"
// or a JSON-RPC error code.
func (m *Metrics) ObserveRequest(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveRebuild records a published registry rebuild.
func (m *Metrics) ObserveRebuild(models, tools int) {
	if m == nil {
		return
	}
	m.models.Set(float64(models))
	m.tools.Set(float64(tools))
	m.rebuilds.Inc()
}

// ObserveHTTP counts an HTTP response status on the MCP endpoint.
func (m *Metrics) ObserveHTTP(status string) {
	if m == nil {
		return
	}
	m.forwarded.WithLabelValues(status).Inc()
}
