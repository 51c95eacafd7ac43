// Package metrics holds the proxy's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBuckets are the request duration buckets in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// Collector owns a private registry so several instances (tests, embedded
// servers) never collide on registration.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDurations *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	cacheFlushes     prometheus.Counter
	configVersion    prometheus.Gauge
	configMerges     *prometheus.CounterVec
	tunnelsActive    prometheus.Gauge
	shortCircuits    *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verkehr_requests_total",
			Help: "Total number of HTTP requests served.",
		}, []string{"entrypoint", "router", "code"}),
		requestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verkehr_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: DefaultBuckets,
		}, []string{"entrypoint", "router"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verkehr_routing_cache_lookups_total",
			Help: "Routing cache lookups by result.",
		}, []string{"result"}),
		cacheFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verkehr_routing_cache_flushes_total",
			Help: "Full routing cache invalidations.",
		}),
		configVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "verkehr_config_version",
			Help: "Version of the routing configuration in use.",
		}),
		configMerges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verkehr_config_merges_total",
			Help: "Configuration fragment merges by result.",
		}, []string{"result"}),
		tunnelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "verkehr_tunnels_active",
			Help: "Open CONNECT tunnels.",
		}),
		shortCircuits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verkehr_middleware_short_circuits_total",
			Help: "Responses produced by a middleware instead of the backend.",
		}, []string{"middleware"}),
	}
	c.registry.MustRegister(
		c.requestsTotal,
		c.requestDurations,
		c.cacheLookups,
		c.cacheFlushes,
		c.configVersion,
		c.configMerges,
		c.tunnelsActive,
		c.shortCircuits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRequest records a completed HTTP request.
func (c *Collector) RecordRequest(entrypoint, router string, statusCode int, duration time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(entrypoint, router, strconv.Itoa(statusCode)).Inc()
	c.requestDurations.WithLabelValues(entrypoint, router).Observe(duration.Seconds())
}

func (c *Collector) RecordCacheHit() {
	if c != nil {
		c.cacheLookups.WithLabelValues("hit").Inc()
	}
}

func (c *Collector) RecordCacheMiss() {
	if c != nil {
		c.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (c *Collector) RecordCacheFlush() {
	if c != nil {
		c.cacheFlushes.Inc()
	}
}

// RecordMerge records a merge outcome and, on success, the new version.
func (c *Collector) RecordMerge(version uint64, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.configMerges.WithLabelValues("rejected").Inc()
		return
	}
	c.configMerges.WithLabelValues("applied").Inc()
	c.configVersion.Set(float64(version))
}

func (c *Collector) TunnelOpened() {
	if c != nil {
		c.tunnelsActive.Inc()
	}
}

func (c *Collector) TunnelClosed() {
	if c != nil {
		c.tunnelsActive.Dec()
	}
}

func (c *Collector) RecordShortCircuit(middleware string) {
	if c != nil {
		c.shortCircuits.WithLabelValues(middleware).Inc()
	}
}

// Handler serves the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
