// Package metrics exposes Prometheus collectors for crawling, fetching,
// grid writes, conversions and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch sources.
const (
	SourceModule = "module"
	SourceGrid   = "grid"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultMiss    = "miss"
	ResultExists  = "exists"
	ResultError   = "error"
)

var (
	documentsTotal             *prometheus.CounterVec
	fetchTotal                 *prometheus.CounterVec
	gridWritesTotal            *prometheus.CounterVec
	conversionsTotal           *prometheus.CounterVec
	accessModuleErrorsTotal    *prometheus.CounterVec
	exportedDocumentsTotal     prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signac_index_documents_total",
				Help: "Total number of index documents emitted, labeled by crawler.",
			},
			[]string{"crawler"},
		)

		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signac_index_fetch_total",
				Help: "Total number of payload fetch attempts, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		gridWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signac_index_grid_writes_total",
				Help: "Total number of grid writes, labeled by grid and result.",
			},
			[]string{"grid", "result"},
		)

		conversionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signac_index_conversions_total",
				Help: "Total number of conversions, labeled by result.",
			},
			[]string{"result"},
		)

		accessModuleErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signac_index_access_module_errors_total",
				Help: "Total number of access modules that failed to load, labeled by kind.",
			},
			[]string{"kind"},
		)

		exportedDocumentsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "signac_index_exported_documents_total",
				Help: "Total number of documents written to an index sink.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDocument increments the document counter for crawler.
func ObserveDocument(crawler string) {
	Init()
	documentsTotal.WithLabelValues(crawler).Inc()
}

// ObserveFetch records a fetch attempt.
func ObserveFetch(source, result string) {
	Init()
	fetchTotal.WithLabelValues(source, result).Inc()
}

// ObserveGridWrite records a grid write.
func ObserveGridWrite(grid, result string) {
	Init()
	gridWritesTotal.WithLabelValues(grid, result).Inc()
}

// ObserveConversion records a conversion outcome.
func ObserveConversion(result string) {
	Init()
	conversionsTotal.WithLabelValues(result).Inc()
}

// ObserveAccessModuleError records an access module that could not be used.
func ObserveAccessModuleError(kind string) {
	Init()
	accessModuleErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveExported adds n exported documents.
func ObserveExported(n int) {
	Init()
	exportedDocumentsTotal.Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
