// Package metrics provides Prometheus metrics for offstore batch runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "offstore"

var (
	// ObjectStoreOps tracks object store operations.
	ObjectStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objectstore_ops_total",
			Help:      "Total object store operations",
		},
		[]string{"operation", "status"}, // operation: get/put/copy/delete/list, status: success/error
	)

	// ObjectStoreLatency tracks object store operation latency.
	ObjectStoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "objectstore_latency_seconds",
			Help:      "Object store operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// ObjectStoreBytes counts bytes transferred to and from the object store.
	ObjectStoreBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objectstore_bytes_total",
			Help:      "Bytes transferred to and from the object store",
		},
		[]string{"direction"}, // read/write
	)

	// ThrottleRetries counts retries caused by throttling responses.
	ThrottleRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttle_retries_total",
			Help:      "Object store calls retried after a throttling response",
		},
		[]string{"operation"},
	)

	// FilesProcessed counts partitions processed per pass and outcome.
	FilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Partitions processed",
		},
		[]string{"pass", "status"}, // pass: count/mutate, status: no_updates/updated/dry_run/error
	)

	// FileLatency tracks per-partition processing time.
	FileLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_latency_seconds",
			Help:      "Per-partition processing latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"pass"},
	)

	// RowsMatched counts rows selected by the match specification.
	RowsMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_matched_total",
			Help:      "Rows selected by the match specification",
		},
		[]string{"pass"},
	)

	// RowsUpdated counts rows whose target value actually changed.
	RowsUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_updated_total",
			Help:      "Rows whose target value changed",
		},
	)

	// RowsDeduplicated counts historical rows dropped by deduplication.
	RowsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_deduplicated_total",
			Help:      "Superseded rows dropped by deduplication",
		},
	)

	// Backups counts backup attempts.
	Backups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Partition backups created",
		},
		[]string{"mode", "status"},
	)

	// QueryLatency tracks indexed query service round trips.
	QueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_seconds",
			Help:      "Indexed query latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"purpose"},
	)

	// QueriesTotal counts indexed queries by purpose and outcome.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Indexed queries executed",
		},
		[]string{"purpose", "status"},
	)

	// PruneOutcomes counts file set pruning outcomes.
	PruneOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prune_outcomes_total",
			Help:      "File set pruning outcomes",
		},
		[]string{"outcome"}, // pruned/fallback/skipped
	)

	// Stage exposes the orchestrator stage as an ordinal.
	Stage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_stage",
			Help:      "Current orchestrator stage (ordinal)",
		},
	)

	// PartitionCacheLookups counts partition read cache lookups.
	PartitionCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partition_cache_lookups_total",
			Help:      "Partition read cache lookups",
		},
		[]string{"result"}, // hit/miss
	)

	// PartitionCacheBytes is the current size of the partition read cache.
	PartitionCacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partition_cache_bytes",
			Help:      "Bytes held by the partition read cache",
		},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveObjectStoreOp records an object store operation.
func ObserveObjectStoreOp(operation string, latencySeconds float64, err error) {
	ObjectStoreOps.WithLabelValues(operation, status(err)).Inc()
	ObjectStoreLatency.WithLabelValues(operation).Observe(latencySeconds)
}

// AddObjectStoreBytes records transferred bytes.
func AddObjectStoreBytes(direction string, n int64) {
	if n > 0 {
		ObjectStoreBytes.WithLabelValues(direction).Add(float64(n))
	}
}

// IncThrottleRetry records one throttling retry.
func IncThrottleRetry(operation string) {
	ThrottleRetries.WithLabelValues(operation).Inc()
}

// ObserveFile records one processed partition.
func ObserveFile(pass, fileStatus string, latencySeconds float64, matched int) {
	FilesProcessed.WithLabelValues(pass, fileStatus).Inc()
	FileLatency.WithLabelValues(pass).Observe(latencySeconds)
	if matched > 0 {
		RowsMatched.WithLabelValues(pass).Add(float64(matched))
	}
}

// AddRowsUpdated records rows changed by a mutation.
func AddRowsUpdated(n int) {
	if n > 0 {
		RowsUpdated.Add(float64(n))
	}
}

// AddRowsDeduplicated records rows dropped by deduplication.
func AddRowsDeduplicated(n int) {
	if n > 0 {
		RowsDeduplicated.Add(float64(n))
	}
}

// ObserveBackup records a backup attempt.
func ObserveBackup(mode string, err error) {
	Backups.WithLabelValues(mode, status(err)).Inc()
}

// ObserveQuery records an indexed query round trip.
func ObserveQuery(purpose string, latencySeconds float64, err error) {
	QueriesTotal.WithLabelValues(purpose, status(err)).Inc()
	QueryLatency.WithLabelValues(purpose).Observe(latencySeconds)
}

// IncPruneOutcome records a pruning outcome.
func IncPruneOutcome(outcome string) {
	PruneOutcomes.WithLabelValues(outcome).Inc()
}

// SetStage records the orchestrator stage ordinal.
func SetStage(ordinal int) {
	Stage.Set(float64(ordinal))
}

// IncCacheLookup records a partition cache hit or miss.
func IncCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	PartitionCacheLookups.WithLabelValues(result).Inc()
}

// SetCacheBytes records the partition cache size.
func SetCacheBytes(n int64) {
	PartitionCacheBytes.Set(float64(n))
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
