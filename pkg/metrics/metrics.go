// Package metrics defines the Prometheus metric collectors used by the
// search daemon and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the daemon.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	DocsIndexedTotal     prometheus.Counter
	DocsDeletedTotal     prometheus.Counter
	CommitsTotal         *prometheus.CounterVec
	CommitDuration       *prometheus.HistogramVec
	SnapshotGeneration   prometheus.Gauge
	SegmentCount         prometheus.Gauge
	DocumentCount        prometheus.Gauge
	PendingDocuments     prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates all metrics and registers them with reg. A nil reg uses the
// global default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
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
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents accepted into the write buffer.",
			},
		),
		DocsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_deleted_total",
				Help: "Total delete requests accepted into the write buffer.",
			},
		),
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_commits_total",
				Help: "Total commit and merge cycles by kind and status.",
			},
			[]string{"kind", "status"},
		),
		CommitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_commit_duration_seconds",
				Help:    "Duration of published commit and merge cycles.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"kind"},
		),
		SnapshotGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_snapshot_generation",
				Help: "Generation of the published snapshot.",
			},
		),
		SegmentCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_segments",
				Help: "Number of segments in the published snapshot.",
			},
		),
		DocumentCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_documents",
				Help: "Number of live documents in the published snapshot.",
			},
		),
		PendingDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_pending_documents",
				Help: "Number of buffered documents awaiting commit.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocsIndexedTotal,
		m.DocsDeletedTotal,
		m.CommitsTotal,
		m.CommitDuration,
		m.SnapshotGeneration,
		m.SegmentCount,
		m.DocumentCount,
		m.PendingDocuments,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// ObserveCommit records one commit or merge cycle. kind is "commit" or
// "merge".
func (m *Metrics) ObserveCommit(kind string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.CommitsTotal.WithLabelValues(kind, status).Inc()
	if err == nil {
		m.CommitDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// SetIndexState updates the gauges describing the published snapshot.
func (m *Metrics) SetIndexState(generation uint64, segments, documents, pending int) {
	m.SnapshotGeneration.Set(float64(generation))
	m.SegmentCount.Set(float64(segments))
	m.DocumentCount.Set(float64(documents))
	m.PendingDocuments.Set(float64(pending))
}

// Handler returns the Prometheus scrape HTTP handler for the registry m
// was created with.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil || m.gatherer == prometheus.DefaultGatherer {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
