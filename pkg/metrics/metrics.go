// Package metrics defines the Prometheus metric collectors used across the
// platform and exposes an HTTP handler for scraping.
//
// Every Observe/Set helper is safe to call on a nil *Metrics so library code
// can run without metrics wired in.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	CategoriesAddedTotal  prometheus.Counter
	WriterCacheLookups    *prometheus.CounterVec
	TaxonomyCommitsTotal  *prometheus.CounterVec
	TaxonomySize          prometheus.Gauge
	TaxonomyReadersOpen   prometheus.Gauge
	TaxonomyReopensTotal  *prometheus.CounterVec
	DocsIndexedTotal      prometheus.Counter
	IndexFlushesTotal     *prometheus.CounterVec
	FacetCountLatency     *prometheus.HistogramVec
	FacetCacheHitsTotal   prometheus.Counter
	FacetCacheMissesTotal prometheus.Counter
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates all metrics and registers them with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		CategoriesAddedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "taxonomy_categories_added_total",
				Help: "Total categories assigned a new ordinal.",
			},
		),
		WriterCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxonomy_writer_cache_lookups_total",
				Help: "Taxonomy writer cache lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
		TaxonomyCommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxonomy_commits_total",
				Help: "Taxonomy commits by status (success, error, noop).",
			},
			[]string{"status"},
		),
		TaxonomySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taxonomy_size",
				Help: "Number of ordinals assigned, root included.",
			},
		),
		TaxonomyReadersOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taxonomy_readers_open",
				Help: "Taxonomy reader generations not yet closed.",
			},
		),
		TaxonomyReopensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxonomy_reopens_total",
				Help: "Taxonomy reopen attempts by result (changed, unchanged, error).",
			},
			[]string{"result"},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_flushes_total",
				Help: "Total index flush operations by status.",
			},
			[]string{"status"},
		),
		FacetCountLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facet_count_latency_seconds",
				Help:    "Facet counting latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		FacetCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "facet_cache_hits_total",
				Help: "Total number of facet result cache hits.",
			},
		),
		FacetCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "facet_cache_misses_total",
				Help: "Total number of facet result cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state by name (0 closed, 1 open, 2 half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.CategoriesAddedTotal,
		m.WriterCacheLookups,
		m.TaxonomyCommitsTotal,
		m.TaxonomySize,
		m.TaxonomyReadersOpen,
		m.TaxonomyReopensTotal,
		m.DocsIndexedTotal,
		m.IndexFlushesTotal,
		m.FacetCountLatency,
		m.FacetCacheHitsTotal,
		m.FacetCacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) ObserveCategoryAdded(size int32) {
	if m == nil {
		return
	}
	m.CategoriesAddedTotal.Inc()
	m.TaxonomySize.Set(float64(size))
}

func (m *Metrics) ObserveWriterCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.WriterCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.WriterCacheLookups.WithLabelValues("miss").Inc()
}

// ObserveCommit records a commit. noop marks a commit skipped because
// nothing changed.
func (m *Metrics) ObserveCommit(noop bool, err error) {
	if m == nil {
		return
	}
	if noop && err == nil {
		m.TaxonomyCommitsTotal.WithLabelValues("noop").Inc()
		return
	}
	m.TaxonomyCommitsTotal.WithLabelValues(statusOf(err)).Inc()
}

func (m *Metrics) ReaderOpened() {
	if m == nil {
		return
	}
	m.TaxonomyReadersOpen.Inc()
}

func (m *Metrics) ReaderClosed() {
	if m == nil {
		return
	}
	m.TaxonomyReadersOpen.Dec()
}

func (m *Metrics) ObserveReopen(changed bool, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.TaxonomyReopensTotal.WithLabelValues("error").Inc()
	case changed:
		m.TaxonomyReopensTotal.WithLabelValues("changed").Inc()
	default:
		m.TaxonomyReopensTotal.WithLabelValues("unchanged").Inc()
	}
}

func (m *Metrics) ObserveDocsIndexed(n int) {
	if m == nil {
		return
	}
	m.DocsIndexedTotal.Add(float64(n))
}

func (m *Metrics) ObserveFlush(err error) {
	if m == nil {
		return
	}
	m.IndexFlushesTotal.WithLabelValues(statusOf(err)).Inc()
}

func (m *Metrics) ObserveFacetCount(cacheStatus string, d time.Duration) {
	if m == nil {
		return
	}
	m.FacetCountLatency.WithLabelValues(cacheStatus).Observe(d.Seconds())
}

func (m *Metrics) ObserveFacetCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.FacetCacheHitsTotal.Inc()
		return
	}
	m.FacetCacheMissesTotal.Inc()
}

// SetBreakerState records the state of the named circuit breaker. state
// follows resilience.State numbering.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
