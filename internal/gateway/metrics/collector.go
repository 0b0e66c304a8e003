// Package metrics exposes Prometheus metrics for the gateway pipeline,
// upstream calls and backend health.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Collector owns every gateway metric. All methods are safe on a nil
// receiver, which disables recording.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	rateLimitedTotal *prometheus.CounterVec
	upstreamTotal    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	backendUp        *prometheus.GaugeVec
}

// NewCollector registers the gateway metrics with registry, or with a new
// private registry when registry is nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests handled by the gateway, by route and final status code.",
			},
			[]string{"route", "method", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end request latency through the gateway pipeline.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route"},
		),
		rateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter, by violated tier.",
			},
			[]string{"tier"},
		),
		upstreamTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Forwarded calls by backend and outcome (response, unreachable, timeout).",
			},
			[]string{"service", "outcome"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Latency of forwarded calls.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service"},
		),
		backendUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backend_up",
				Help:      "1 if the last health probe of the backend succeeded, 0 otherwise.",
			},
			[]string{"service"},
		),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.rateLimitedTotal,
		c.upstreamTotal,
		c.upstreamDuration,
		c.backendUp,
	)
	return c
}

func (c *Collector) RecordRequest(route, method string, code int, duration time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (c *Collector) RecordRateLimited(tier string) {
	if c == nil {
		return
	}
	c.rateLimitedTotal.WithLabelValues(tier).Inc()
}

func (c *Collector) RecordUpstream(service, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.upstreamTotal.WithLabelValues(service, outcome).Inc()
	c.upstreamDuration.WithLabelValues(service).Observe(duration.Seconds())
}

func (c *Collector) SetBackendUp(service string, up bool) {
	if c == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	c.backendUp.WithLabelValues(service).Set(v)
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
