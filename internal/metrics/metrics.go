package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the service's collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	wsConnections    prometheus.Gauge
	wsEvents         *prometheus.CounterVec
	wsErrors         *prometheus.CounterVec
	wsRateLimited    prometheus.Counter
	wsDropped        prometheus.Counter
	sendLatency      prometheus.Histogram
	roundtripLatency prometheus.Histogram
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates and registers all collectors
func New() *Metrics {
	latencyBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Current number of open WebSocket connections.",
		}),
		wsEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_events_total",
			Help: "WebSocket client events received, by event name.",
		}, []string{"event"}),
		wsErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_errors_total",
			Help: "WebSocket events answered with an error, by event and reason.",
		}, []string{"event", "reason"}),
		wsRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_rate_limited_total",
			Help: "sendMessage events rejected by the rate limiter.",
		}),
		wsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_dropped_frames_total",
			Help: "Broadcast frames dropped because a subscriber's buffer was full.",
		}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "message_send_latency_seconds",
			Help:    "Client-reported send time to server acknowledgement.",
			Buckets: latencyBuckets,
		}),
		roundtripLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "message_roundtrip_latency_seconds",
			Help:    "Server-side time from receiving sendMessage to broadcast.",
			Buckets: latencyBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency, by method and route.",
			Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.wsConnections,
		m.wsEvents,
		m.wsErrors,
		m.wsRateLimited,
		m.wsDropped,
		m.sendLatency,
		m.roundtripLatency,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom exporters
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnectionOpened increments the open connection gauge
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

// ConnectionClosed decrements the open connection gauge
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

// Event counts one received client event
func (m *Metrics) Event(event string) {
	if m == nil {
		return
	}
	m.wsEvents.WithLabelValues(event).Inc()
}

// EventError counts one event answered with an error
func (m *Metrics) EventError(event, reason string) {
	if m == nil {
		return
	}
	m.wsErrors.WithLabelValues(event, reason).Inc()
}

// RateLimited counts one rejected send
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.wsRateLimited.Inc()
}

// FrameDropped counts one frame dropped for a slow consumer
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.wsDropped.Inc()
}

// ObserveSendLatency records client-send to ack latency
func (m *Metrics) ObserveSendLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.sendLatency.Observe(d.Seconds())
}

// ObserveRoundtrip records server-side send handling time
func (m *Metrics) ObserveRoundtrip(d time.Duration) {
	if m == nil {
		return
	}
	m.roundtripLatency.Observe(d.Seconds())
}

// ObserveHTTP records one served HTTP request
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
