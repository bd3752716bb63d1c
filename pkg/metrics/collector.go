// Package metrics exposes Prometheus counters for the upstream bridge. All
// methods are safe to call on a nil *Collector, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kagi_proxy"

type Collector struct {
	registry *prometheus.Registry

	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	rotations        prometheus.Counter
	signals          *prometheus.CounterVec
	cleanupFailures  prometheus.Counter
	chatRequests     *prometheus.CounterVec
	activeStreams    prometheus.Gauge
	catalogModels    prometheus.Gauge
	catalogRefreshes *prometheus.CounterVec
}

func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: registry,
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_first_byte_seconds",
			Help:      "Time until upstream response headers arrived.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_rotations_total",
			Help:      "Session keys rotated by upstream Set-Cookie headers.",
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_signals_total",
			Help:      "Signals emitted by upstream streams by kind.",
		}, []string{"kind"}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thread_cleanup_failures_total",
			Help:      "Failed best-effort thread deletions.",
		}),
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat completion requests by mode and result.",
		}, []string{"mode", "result"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Chat completion requests currently streaming.",
		}),
		catalogModels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_models",
			Help:      "Models in the current catalog.",
		}),
		catalogRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_refreshes_total",
			Help:      "Model catalog refresh attempts by outcome.",
		}, []string{"outcome"}),
	}
	registry.MustRegister(
		c.upstreamRequests,
		c.upstreamLatency,
		c.rotations,
		c.signals,
		c.cleanupFailures,
		c.chatRequests,
		c.activeStreams,
		c.catalogModels,
		c.catalogRefreshes,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}

func (c *Collector) UpstreamRequest(endpoint, outcome string, firstByte time.Duration) {
	if c == nil {
		return
	}
	c.upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	if firstByte > 0 {
		c.upstreamLatency.WithLabelValues(endpoint).Observe(firstByte.Seconds())
	}
}

func (c *Collector) SessionRotated() {
	if c == nil {
		return
	}
	c.rotations.Inc()
}

func (c *Collector) Signal(kind string) {
	if c == nil {
		return
	}
	c.signals.WithLabelValues(kind).Inc()
}

func (c *Collector) CleanupFailed() {
	if c == nil {
		return
	}
	c.cleanupFailures.Inc()
}

func (c *Collector) ChatRequest(mode, result string) {
	if c == nil {
		return
	}
	c.chatRequests.WithLabelValues(mode, result).Inc()
}

// StreamStarted increments the active stream gauge and returns the matching
// decrement.
func (c *Collector) StreamStarted() func() {
	if c == nil {
		return func() {}
	}
	c.activeStreams.Inc()
	return c.activeStreams.Dec
}

func (c *Collector) CatalogRefreshed(outcome string, models int) {
	if c == nil {
		return
	}
	c.catalogRefreshes.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		c.catalogModels.Set(float64(models))
	}
}
