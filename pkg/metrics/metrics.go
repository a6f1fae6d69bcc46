// Package metrics registers the Prometheus collectors the core
// exposes, following the naming convention of the teacher's
// warren_<subsystem>_<noun> metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Import metrics
	ImportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litp_imports_total",
			Help: "Total number of imports by source type and terminal status",
		},
		[]string{"source_type", "status"},
	)

	ImportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "litp_import_duration_seconds",
			Help:    "End-to-end import duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"source_type"},
	)

	AcquisitionFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litp_acquisition_files_total",
			Help: "Total files seen during acquisition by terminal status",
		},
		[]string{"dataset", "status"},
	)

	IngestionFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litp_ingestion_files_total",
			Help: "Total files seen during ingestion by terminal status",
		},
		[]string{"dataset", "status"},
	)

	IngestionRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litp_ingestion_records_total",
			Help: "Total records upserted during ingestion by change effect",
		},
		[]string{"dataset", "effect"},
	)

	// Cleanse analysis metrics
	CleanseRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litp_cleanse_runs_total",
			Help: "Total cleanse analysis runs by terminal status",
		},
		[]string{"status"},
	)

	CleanseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "litp_cleanse_duration_seconds",
			Help:    "Cleanse analysis duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
	)

	IssuesFoundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litp_issues_found_total",
			Help: "Total issues newly raised or reactivated by rule code",
		},
		[]string{"rule_code"},
	)

	IssuesResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litp_issues_resolved_total",
			Help: "Total issues deactivated by rule code",
		},
		[]string{"rule_code"},
	)

	QueryCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "litp_query_cache_hits_total",
			Help: "Total AnalysisContext query cache hits",
		},
	)

	QueryCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "litp_query_cache_misses_total",
			Help: "Total AnalysisContext query cache misses",
		},
	)

	LockAcquireFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litp_lock_acquire_failures_total",
			Help: "Total failed attempts to acquire a named distributed lock",
		},
		[]string{"lock_name"},
	)

	ObjectStoreRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litp_objectstore_retries_total",
			Help: "Total transient-failure retries performed by ObjectStore adapters",
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(
		ImportsTotal,
		ImportDuration,
		AcquisitionFilesTotal,
		IngestionFilesTotal,
		IngestionRecordsTotal,
		CleanseRunsTotal,
		CleanseDuration,
		IssuesFoundTotal,
		IssuesResolvedTotal,
		QueryCacheHits,
		QueryCacheMisses,
		LockAcquireFailuresTotal,
		ObjectStoreRetriesTotal,
	)
}

// Handler returns the Prometheus HTTP handler for the (external) metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
