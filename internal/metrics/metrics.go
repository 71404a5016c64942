// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_gateway"

// Metrics holds the gateway collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessions       prometheus.Gauge
	activeStreams  prometheus.Gauge
	items          prometheus.Counter
	heartbeats     prometheus.Counter
	disconnects    prometheus.Counter
	producerErrors prometheus.Counter
	detached       prometheus.Counter
	reqTotal       *prometheus.CounterVec
	reqDuration    *prometheus.HistogramVec
}

// New creates and registers all collectors, including Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live sessions in the registry.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Query streams currently being written.",
		}),
		items: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_items_total",
			Help:      "Data frames delivered to clients.",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_heartbeats_total",
			Help:      "Keep-alive frames sent during idle periods.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_client_disconnects_total",
			Help:      "Streams torn down because the client went away.",
		}),
		producerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_producer_errors_total",
			Help:      "Streams whose session failed mid-production.",
		}),
		detached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_producers_detached_total",
			Help:      "Producers left running after stream teardown.",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route. Streaming routes measure the whole stream.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessions,
		m.activeStreams,
		m.items,
		m.heartbeats,
		m.disconnects,
		m.producerErrors,
		m.detached,
		m.reqTotal,
		m.reqDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency keyed by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.reqTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.reqDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// SetSessions implements session.SizeObserver.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// The methods below implement sse.Observer.

func (m *Metrics) StreamStarted() {
	if m != nil {
		m.activeStreams.Inc()
	}
}

func (m *Metrics) StreamFinished() {
	if m != nil {
		m.activeStreams.Dec()
	}
}

func (m *Metrics) ItemSent() {
	if m != nil {
		m.items.Inc()
	}
}

func (m *Metrics) HeartbeatSent() {
	if m != nil {
		m.heartbeats.Inc()
	}
}

func (m *Metrics) ClientGone() {
	if m != nil {
		m.disconnects.Inc()
	}
}

func (m *Metrics) ProducerFailed() {
	if m != nil {
		m.producerErrors.Inc()
	}
}

func (m *Metrics) ProducerDetached() {
	if m != nil {
		m.detached.Inc()
	}
}
