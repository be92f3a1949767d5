package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the request core.
// It owns its registry so two servers in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter
	AuthFailures    *prometheus.CounterVec
	BodyRejected    prometheus.Counter
	WSUpgrades      prometheus.Counter
	WSRefused       prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memgate",
			Name:      "http_requests_total",
			Help:      "Requests processed, by method and status code.",
		}, []string{"method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memgate",
			Name:      "http_request_duration_seconds",
			Help:      "Request processing time in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memgate",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the fixed-window rate limiter.",
		}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memgate",
			Name:      "auth_failures_total",
			Help:      "Authentication failures, by reason.",
		}, []string{"reason"}),
		BodyRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memgate",
			Name:      "body_rejected_total",
			Help:      "JSON bodies rejected for exceeding the size limit.",
		}),
		WSUpgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memgate",
			Name:      "websocket_upgrades_total",
			Help:      "Completed WebSocket handshakes.",
		}),
		WSRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memgate",
			Name:      "websocket_refused_total",
			Help:      "Upgrade requests destroyed without a handshake.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RateLimited,
		m.AuthFailures,
		m.BodyRejected,
		m.WSUpgrades,
		m.WSRefused,
	)

	return m
}

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(method string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
