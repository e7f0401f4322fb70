// Package metrics declares the prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Chunk Residency Metrics
// =============================================================================

var (
	// ActiveChunks is the number of chunks resident in memory
	ActiveChunks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vecpager_active_chunks",
			Help: "Number of chunks currently resident in memory",
		},
	)

	// ChunkLoadsTotal counts chunk acquisitions by outcome
	ChunkLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vecpager_chunk_loads_total",
			Help: "Total number of chunk acquisitions by result",
		},
		[]string{"result"}, // "hit", "loaded", "created", "corrupted", "error"
	)

	// ChunkEvictionsTotal counts evictions by outcome
	ChunkEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vecpager_chunk_evictions_total",
			Help: "Total number of chunk evictions by result",
		},
		[]string{"result"}, // "clean", "persisted", "failed", "dropped"
	)

	// ChunkLoadDuration measures time spent reading and decoding chunks
	ChunkLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vecpager_chunk_load_duration_seconds",
			Help:    "Time to read and decode a chunk from the store",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	// ChunkCompactionsTotal counts sub-index rebuilds that purged tombstones
	ChunkCompactionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vecpager_chunk_compactions_total",
			Help: "Total number of chunk compactions",
		},
	)
)

// =============================================================================
// Record Metrics
// =============================================================================

var (
	// RecordsInsertedTotal counts stored records
	RecordsInsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vecpager_records_inserted_total",
			Help: "Total number of records inserted",
		},
	)

	// RecordsDeduplicatedTotal counts puts answered by an existing content hash
	RecordsDeduplicatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vecpager_records_deduplicated_total",
			Help: "Total number of puts skipped because the content hash was already stored",
		},
	)

	// RecordsDeletedTotal counts deleted records
	RecordsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vecpager_records_deleted_total",
			Help: "Total number of records deleted",
		},
	)

	// RecordsReconciledTotal counts records dropped while reconciling a chunk with the catalog
	RecordsReconciledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vecpager_records_reconciled_total",
			Help: "Records dropped while reconciling a loaded chunk with the catalog",
		},
		[]string{"side"}, // "catalog", "chunk"
	)
)

// =============================================================================
// Search Metrics
// =============================================================================

var (
	// SearchDuration measures end-to-end search latency
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vecpager_search_duration_seconds",
			Help:    "Search latency by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"}, // "search", "stream_batch"
	)

	// SearchPartialTotal counts searches cut short by a deadline
	SearchPartialTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vecpager_search_partial_total",
			Help: "Total number of searches that returned partial results after a deadline",
		},
	)

	// OpenStreams is the number of registered streaming sessions
	OpenStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vecpager_open_streams",
			Help: "Number of open streaming search sessions",
		},
	)
)

// =============================================================================
// HTTP Metrics
// =============================================================================

var (
	// HTTPRequestsTotal counts API requests by route pattern and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vecpager_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"route", "code"},
	)
)
