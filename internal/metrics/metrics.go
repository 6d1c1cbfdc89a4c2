// Package metrics defines the Prometheus collectors shared across
// services. All collectors hang off an injected registry so tests can
// run with isolated registries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all service collectors.
type Metrics struct {
	Registry *prometheus.Registry

	// Ingestion
	RecordsProcessed prometheus.Counter
	RecordsRejected  *prometheus.CounterVec
	RecordsDuplicate prometheus.Counter
	WriteRetries     prometheus.Counter

	// Compaction
	WindowsCompacted prometheus.Counter
	RecordsDropped   prometheus.Counter
	DuplicatesMerged prometheus.Counter

	// Serving
	RecommendRequests *prometheus.CounterVec
	RecommendLatency  prometheus.Histogram
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates the collectors on the given registry.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		RecordsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "meridian_ingest_records_processed_total",
			Help: "Records accepted and persisted to raw partitions.",
		}),
		RecordsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_ingest_records_rejected_total",
			Help: "Records rejected at the ingestion boundary, by error code.",
		}, []string{"code"}),
		RecordsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "meridian_ingest_records_duplicate_total",
			Help: "Redelivered records resolved as no-ops.",
		}),
		WriteRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "meridian_ingest_write_retries_total",
			Help: "Storage write attempts beyond the first.",
		}),

		WindowsCompacted: factory.NewCounter(prometheus.CounterOpts{
			Name: "meridian_compaction_windows_total",
			Help: "Windows compacted to completion.",
		}),
		RecordsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "meridian_compaction_records_dropped_total",
			Help: "Raw records dropped by schema enforcement.",
		}),
		DuplicatesMerged: factory.NewCounter(prometheus.CounterOpts{
			Name: "meridian_compaction_duplicates_total",
			Help: "Duplicate records resolved during compaction.",
		}),

		RecommendRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_recommend_requests_total",
			Help: "Recommendation requests by outcome (full, degraded, error).",
		}, []string{"outcome"}),
		RecommendLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meridian_recommend_latency_seconds",
			Help:    "End to end recommendation latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
