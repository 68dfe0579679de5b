package transport

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons recorded by Metrics.
const (
	ReasonInvalidSession = "invalid_session"
	ReasonUnknownSession = "unknown_session"
	ReasonReinitialize   = "already_initialized"
	ReasonStreamConflict = "stream_conflict"
	ReasonDraining       = "draining"
)

// Metrics holds the router's prometheus collectors on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	active     *prometheus.GaugeVec
	opened     *prometheus.CounterVec
	closed     *prometheus.CounterVec
	rejections *prometheus.CounterVec
	evicted    prometheus.Counter
}

// NewMetrics registers the session collectors plus Go runtime and process
// collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcpmux_sessions_active",
			Help: "Live sessions per transport kind.",
		}, []string{"kind"}),
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpmux_sessions_opened_total",
			Help: "Sessions registered per transport kind.",
		}, []string{"kind"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpmux_sessions_closed_total",
			Help: "Sessions removed per transport kind.",
		}, []string{"kind"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpmux_session_rejections_total",
			Help: "Requests rejected by the router, by reason.",
		}, []string{"reason"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcpmux_sessions_evicted_total",
			Help: "Streaming-HTTP sessions closed for idleness.",
		}),
	}
	m.registry.MustRegister(
		m.active, m.opened, m.closed, m.rejections, m.evicted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) sessionOpened(kind Kind) {
	if m == nil {
		return
	}
	m.opened.WithLabelValues(string(kind)).Inc()
	m.active.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) sessionClosed(kind Kind) {
	if m == nil {
		return
	}
	m.closed.WithLabelValues(string(kind)).Inc()
	m.active.WithLabelValues(string(kind)).Dec()
}

func (m *Metrics) rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) sessionEvicted() {
	if m == nil {
		return
	}
	m.evicted.Inc()
}
