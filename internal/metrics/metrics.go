// Package metrics exposes Prometheus metrics for routing and stream relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "chat_relay"

// Collector records routing outcomes and chat relay activity. Every method is
// safe to call on a nil *Collector, which records nothing.
type Collector struct {
	registry *prometheus.Registry

	routesTotal    *prometheus.CounterVec
	requestsTotal  *prometheus.CounterVec
	chunksTotal    prometheus.Counter
	bytesTotal     prometheus.Counter
	setupDuration  prometheus.Histogram
	streamDuration prometheus.Histogram
}

// NewCollector registers all metrics with registry. A nil registry gets a
// fresh one; an empty namespace falls back to DefaultNamespace.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		registry: registry,
		routesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routes_total",
				Help:      "Requests dispatched by the router, by outcome",
			},
			[]string{"route"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_requests_total",
				Help:      "Chat requests handled, by terminal outcome",
			},
			[]string{"outcome"},
		),
		chunksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Backend output chunks relayed to clients",
		}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Backend output bytes relayed to clients",
		}),
		// LLM time to first byte: 50ms to ~25s
		setupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_setup_seconds",
			Help:      "Time from request receipt until the backend stream is open",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		streamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of relayed streams",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
	}

	registry.MustRegister(
		c.routesTotal,
		c.requestsTotal,
		c.chunksTotal,
		c.bytesTotal,
		c.setupDuration,
		c.streamDuration,
	)
	return c
}

// RecordRoute counts one routing decision.
func (c *Collector) RecordRoute(route string) {
	if c == nil {
		return
	}
	c.routesTotal.WithLabelValues(route).Inc()
}

// RecordSetup observes how long it took to open the backend stream.
func (c *Collector) RecordSetup(d time.Duration) {
	if c == nil {
		return
	}
	c.setupDuration.Observe(d.Seconds())
}

// RecordChunk counts one relayed chunk of n bytes.
func (c *Collector) RecordChunk(n int) {
	if c == nil {
		return
	}
	c.chunksTotal.Inc()
	c.bytesTotal.Add(float64(n))
}

// RecordOutcome counts a finished chat request. streamed is the relay
// duration and is ignored when zero.
func (c *Collector) RecordOutcome(outcome string, streamed time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(outcome).Inc()
	if streamed > 0 {
		c.streamDuration.Observe(streamed.Seconds())
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
