// Package metrics exposes Prometheus instrumentation for the query
// engine: query and stage latencies, strategy outcomes, token usage,
// and cache effectiveness. Each Collector owns its own registry so
// tests and embedded uses never fight over global registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the engine emits.
type Collector struct {
	registry *prometheus.Registry

	QueryCount    *prometheus.CounterVec
	QueryDuration prometheus.Histogram
	StageDuration *prometheus.HistogramVec
	RetrievedDocs prometheus.Histogram
	TokenUsage    *prometheus.CounterVec
	CacheEvents   *prometheus.CounterVec
}

// NewCollector builds and registers the engine metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		QueryCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strataquery_queries_total",
				Help: "Queries answered, by strategy and status",
			},
			[]string{"strategy", "status"},
		),
		QueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "strataquery_query_duration_seconds",
				Help:    "End-to-end query latency in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strataquery_stage_duration_seconds",
				Help:    "Retrieval pipeline stage latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"stage", "status"},
		),
		RetrievedDocs: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "strataquery_retrieved_documents",
				Help:    "Documents in the final retrieved context",
				Buckets: []float64{0, 1, 2, 5, 10, 15, 30, 50, 100},
			},
		),
		TokenUsage: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strataquery_tokens_total",
				Help: "Generation token usage, by model and direction",
			},
			[]string{"model", "direction"},
		),
		CacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strataquery_cache_events_total",
				Help: "Cache lookups, by cache kind and outcome",
			},
			[]string{"cache", "outcome"},
		),
	}

	c.registry.MustRegister(
		c.QueryCount,
		c.QueryDuration,
		c.StageDuration,
		c.RetrievedDocs,
		c.TokenUsage,
		c.CacheEvents,
	)
	return c
}

// Handler serves the collector's registry for a /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveStage records one pipeline stage completion. The signature
// matches the pipeline's observer hook.
func (c *Collector) ObserveStage(stage string, duration time.Duration, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	c.StageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// ObserveQuery records one answered query.
func (c *Collector) ObserveQuery(strategy, status string, duration time.Duration, retrieved int) {
	if strategy == "" {
		strategy = "none"
	}
	c.QueryCount.WithLabelValues(strategy, status).Inc()
	c.QueryDuration.Observe(duration.Seconds())
	c.RetrievedDocs.Observe(float64(retrieved))
}

// AddTokens records generation token usage. Zero counts are skipped so
// structured answers do not pollute the model label space.
func (c *Collector) AddTokens(model string, input, generated int) {
	if model == "" || (input == 0 && generated == 0) {
		return
	}
	if input > 0 {
		c.TokenUsage.WithLabelValues(model, "input").Add(float64(input))
	}
	if generated > 0 {
		c.TokenUsage.WithLabelValues(model, "generated").Add(float64(generated))
	}
}

// CacheHit records a cache hit for the named cache.
func (c *Collector) CacheHit(cache string) {
	c.CacheEvents.WithLabelValues(cache, "hit").Inc()
}

// CacheMiss records a cache miss for the named cache.
func (c *Collector) CacheMiss(cache string) {
	c.CacheEvents.WithLabelValues(cache, "miss").Inc()
}
