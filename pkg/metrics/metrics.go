// Package metrics defines the Prometheus metric collectors used by the
// dataset search service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	GatewayRequestsTotal *prometheus.CounterVec
	GatewayLatency       *prometheus.HistogramVec
	GatewayPending       prometheus.Gauge
	WorkerFaultsTotal    prometheus.Counter

	IndexRebuildsTotal prometheus.Counter
	IndexedDatasets    prometheus.Gauge
	IndexedTokens      prometheus.Gauge
	SearchResultsCount prometheus.Histogram

	CatalogCacheHitsTotal   prometheus.Counter
	CatalogCacheMissesTotal prometheus.Counter
	CircuitBreakerState     *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
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
		GatewayRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_gateway_requests_total",
				Help: "Requests handled by the search worker by kind and outcome (ok, fault, closed).",
			},
			[]string{"kind", "outcome"},
		),
		GatewayLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_gateway_latency_seconds",
				Help:    "Time from send to response for search worker requests.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
			},
			[]string{"kind"},
		),
		GatewayPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "search_gateway_pending_requests",
				Help: "Number of search worker requests awaiting a response.",
			},
		),
		WorkerFaultsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_worker_faults_total",
				Help: "Total number of search worker faults.",
			},
		),
		IndexRebuildsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_rebuilds_total",
				Help: "Total number of full index rebuilds.",
			},
		),
		IndexedDatasets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_datasets",
				Help: "Number of datasets in the current index generation, sentinel included.",
			},
		),
		IndexedTokens: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_token_occurrences",
				Help: "Number of token occurrences in the current index generation.",
			},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of datasets returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
		),
		CatalogCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_cache_hits_total",
				Help: "Total number of catalog snapshot cache hits.",
			},
		),
		CatalogCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_cache_misses_total",
				Help: "Total number of catalog snapshot cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.GatewayRequestsTotal,
		m.GatewayLatency,
		m.GatewayPending,
		m.WorkerFaultsTotal,
		m.IndexRebuildsTotal,
		m.IndexedDatasets,
		m.IndexedTokens,
		m.SearchResultsCount,
		m.CatalogCacheHitsTotal,
		m.CatalogCacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
