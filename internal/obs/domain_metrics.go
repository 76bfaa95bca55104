package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuotePreviewsTotal counts totals previews served.
	QuotePreviewsTotal prometheus.Counter
	// QuoteSubmissionsTotal counts quote submissions by outcome.
	QuoteSubmissionsTotal *prometheus.CounterVec
	// QuoteGrandTotal records the grand total of submitted quotes in pesos.
	QuoteGrandTotal prometheus.Histogram
	// BoardMutationsTotal counts status board mutations.
	BoardMutationsTotal *prometheus.CounterVec
	// BackendRequestsTotal counts calls to the REST backend by operation and result.
	BackendRequestsTotal *prometheus.CounterVec
	// BackendRequestLatency records backend call latency in milliseconds.
	BackendRequestLatency *prometheus.HistogramVec
	// CatalogCacheTotal counts catalog snapshot cache lookups.
	CatalogCacheTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuotePreviewsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_previews_total",
			Help:      "Number of quote totals previews computed.",
		})
		QuoteSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_submissions_total",
			Help:      "Count of quote submissions by outcome.",
		}, []string{"result"})
		QuoteGrandTotal = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_grand_total_clp",
			Help:      "Grand total of submitted quotes.",
			Buckets:   prometheus.ExponentialBuckets(10_000, 4, 10),
		})
		BoardMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "board_mutations_total",
			Help:      "Count of status board mutations.",
		}, []string{"board", "op"})
		BackendRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Count of REST backend requests by operation and result.",
		}, []string{"op", "result"})
		BackendRequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_ms",
			Help:      "Latency of REST backend requests in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"op"})
		CatalogCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_total",
			Help:      "Catalog snapshot cache lookups by kind and outcome.",
		}, []string{"kind", "outcome"})

		QuotePreviewsTotal = register(reg, QuotePreviewsTotal)
		QuoteSubmissionsTotal = register(reg, QuoteSubmissionsTotal)
		QuoteGrandTotal = register(reg, QuoteGrandTotal)
		BoardMutationsTotal = register(reg, BoardMutationsTotal)
		BackendRequestsTotal = register(reg, BackendRequestsTotal)
		BackendRequestLatency = register(reg, BackendRequestLatency)
		CatalogCacheTotal = register(reg, CatalogCacheTotal)
	})
}
