// Package metrics holds the Prometheus instruments shared by the loader, the
// search engine and the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "geo_events"

// Metrics holds the Prometheus counters and histograms for import and search.
type Metrics struct {
	// Loader metrics.
	LoaderRecords       *prometheus.CounterVec // labels: outcome={imported,updated,skipped,failed}
	LoaderRejections    *prometheus.CounterVec // labels: reason
	LoaderBatches       prometheus.Counter
	LoaderBatchDuration prometheus.Histogram

	// Search metrics.
	SearchRequests *prometheus.CounterVec // labels: outcome={ok,invalid,unavailable,error}
	SearchDuration prometheus.Histogram
	SearchResults  prometheus.Histogram
}

// New creates the metrics and registers them with reg. A nil reg leaves them
// unregistered, which suits tests that build many instances.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoaderRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loader_records_total",
			Help:      "Raw records processed by the loader, by outcome.",
		}, []string{"outcome"}),
		LoaderRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loader_rejections_total",
			Help:      "Records rejected during normalization, by reason.",
		}, []string{"reason"}),
		LoaderBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loader_batches_total",
			Help:      "Batches flushed to the store.",
		}),
		LoaderBatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loader_batch_duration_seconds",
			Help:      "Duration of one batch upsert.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		SearchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Nearby searches by outcome.",
		}, []string{"outcome"}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Nearby search latency, store query included.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),
		SearchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of events returned per search.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.LoaderRecords,
			m.LoaderRejections,
			m.LoaderBatches,
			m.LoaderBatchDuration,
			m.SearchRequests,
			m.SearchDuration,
			m.SearchResults,
		)
	}
	return m
}
