// Package metrics holds the Prometheus collectors for the webhook and the
// certificate-to-token pipeline. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "interhook"

// Metrics holds Prometheus metrics for interhook.
type Metrics struct {
	webhookRequests *prometheus.CounterVec
	tokenRequests   *prometheus.CounterVec
	tokenDuration   *prometheus.HistogramVec
	identityBuilds  *prometheus.CounterVec
	tokenCache      *prometheus.CounterVec
	registry        *prometheus.Registry
}

// New creates a Metrics instance on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.webhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Total number of webhook POSTs by response status",
		},
		[]string{"status"},
	)

	m.tokenRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "requests_total",
			Help:      "Total number of token endpoint calls by outcome",
		},
		[]string{"outcome"},
	)

	m.tokenDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "request_duration_seconds",
			Help:      "Token endpoint call duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	m.identityBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "builds_total",
			Help:      "Total number of mTLS identity builds by outcome",
		},
		[]string{"outcome"},
	)

	m.tokenCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "cache_total",
			Help:      "Token cache lookups by result",
		},
		[]string{"result"},
	)

	m.registry.MustRegister(
		m.webhookRequests,
		m.tokenRequests,
		m.tokenDuration,
		m.identityBuilds,
		m.tokenCache,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordWebhook records a webhook response status.
func (m *Metrics) RecordWebhook(status int) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordTokenRequest records one token endpoint call.
func (m *Metrics) RecordTokenRequest(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.tokenRequests.WithLabelValues(outcome).Inc()
	m.tokenDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordIdentityBuild records an identity build attempt.
func (m *Metrics) RecordIdentityBuild(outcome string) {
	if m == nil {
		return
	}
	m.identityBuilds.WithLabelValues(outcome).Inc()
}

// RecordCache records a cache hit or miss.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.tokenCache.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
