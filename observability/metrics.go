// Package observability exposes prometheus metrics for the chat stream.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace   = "lawchat"
	streamingSubsystem = "stream"
)

// Metrics tracks stream lifecycle, tool calls and admission rejections.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// StreamsTotal counts finished streams. Labels: outcome
	StreamsTotal *prometheus.CounterVec

	// ActiveStreams is the number of open streams
	ActiveStreams prometheus.Gauge

	// StreamDurationSeconds measures stream lifetime. Labels: outcome
	StreamDurationSeconds *prometheus.HistogramVec

	// ToolCallsTotal counts tool invocations. Labels: status (ok, error)
	ToolCallsTotal *prometheus.CounterVec

	// RejectionsTotal counts pre-stream rejections. Labels: reason (validation, rate_limit)
	RejectionsTotal *prometheus.CounterVec
}

// NewMetrics registers the stream metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StreamsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "total",
			Help:      "Finished chat streams by outcome.",
		}, []string{"outcome"}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "active",
			Help:      "Chat streams currently open.",
		}),

		StreamDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "duration_seconds",
			Help:      "Chat stream duration.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"outcome"}),

		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "tool_calls_total",
			Help:      "search_law_articles invocations by status.",
		}, []string{"status"}),

		RejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "rejections_total",
			Help:      "Requests rejected before the stream opened.",
		}, []string{"reason"}),
	}
}

// StreamStarted marks a stream as open
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamFinished records a closed stream
func (m *Metrics) StreamFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	m.StreamsTotal.WithLabelValues(outcome).Inc()
	m.StreamDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ToolCall records one tool invocation
func (m *Metrics) ToolCall(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ToolCallsTotal.WithLabelValues(status).Inc()
}

// Rejected records a pre-stream rejection
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(reason).Inc()
}
