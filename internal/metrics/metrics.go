// Package metrics exposes Prometheus instruments for translation passes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "surn"

// Pass statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
	StatusCached = "cached"
)

// Collector records pass outcomes. A nil *Collector is valid and records
// nothing.
type Collector struct {
	registry *prometheus.Registry

	passes      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	unsupported *prometheus.CounterVec
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	reloads     *prometheus.CounterVec
}

// NewCollector registers the pass metrics with registry, or with a fresh
// registry when nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: registry,
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "passes_total",
			Help:      "Translation passes by target language and status.",
		}, []string{"language", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of translation passes.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"language"}),
		unsupported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "unsupported_constructs_total",
			Help:      "Constructs without a usable rule, by language and dispatch key.",
		}, []string{"language", "key"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_hits_total",
			Help:      "Translation cache hits.",
		}, []string{"language"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_misses_total",
			Help:      "Translation cache misses.",
		}, []string{"language"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "language_reloads_total",
			Help:      "Language registrations by outcome.",
		}, []string{"language", "status"}),
	}
	registry.MustRegister(c.passes, c.duration, c.unsupported, c.cacheHits, c.cacheMisses, c.reloads)
	return c
}

// Registry returns the registry the metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObservePass records one finished pass.
func (c *Collector) ObservePass(language, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.passes.WithLabelValues(language, status).Inc()
	c.duration.WithLabelValues(language).Observe(d.Seconds())
}

// Unsupported counts a construct that had no usable rule.
func (c *Collector) Unsupported(language, key string) {
	if c == nil {
		return
	}
	c.unsupported.WithLabelValues(language, key).Inc()
}

// CacheLookup counts a cache hit or miss.
func (c *Collector) CacheLookup(language string, hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.cacheHits.WithLabelValues(language).Inc()
		return
	}
	c.cacheMisses.WithLabelValues(language).Inc()
}

// Reload counts a language (re)registration.
func (c *Collector) Reload(language string, err error) {
	if c == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusFailed
	}
	c.reloads.WithLabelValues(language, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
