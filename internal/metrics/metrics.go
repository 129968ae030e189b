// Package metrics holds the bridge's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rlink_bridge"

// Frame directions.
const (
	Inbound  = "in"
	Outbound = "out"
)

// Handshake failure reasons.
const (
	ReasonInvalidRequest = "invalid_request"
	ReasonAuthTimeout    = "auth_timeout"
	ReasonBadAuthFrame   = "bad_auth_frame"
	ReasonConnect        = "connect"
)

type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions    prometheus.Gauge
	Frames            *prometheus.CounterVec
	HandshakeFailures *prometheus.CounterVec
	SessionDuration   prometheus.Histogram
	RelayedBytes      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Terminal sessions with an open shell.",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Protocol frames relayed, by direction and type.",
		}, []string{"direction", "type"}),
		HandshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Sessions that never reached the connected state.",
		}, []string{"reason"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of connected terminal sessions.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 4 * 3600},
		}),
		RelayedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_bytes_total",
			Help:      "Terminal payload bytes, by direction.",
		}, []string{"direction"}),
	}
	reg.MustRegister(
		m.ActiveSessions,
		m.Frames,
		m.HandshakeFailures,
		m.SessionDuration,
		m.RelayedBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Frame counts one frame of the given type.
func (m *Metrics) Frame(direction, frameType string) {
	m.Frames.WithLabelValues(direction, frameType).Inc()
}
