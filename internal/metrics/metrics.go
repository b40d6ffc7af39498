package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Intake metrics
	UploadsTotal    *prometheus.CounterVec
	UploadBytes     prometheus.Histogram
	DuplicatesTotal prometheus.Counter

	// Parse metrics
	RowsStagedTotal  prometheus.Counter
	RowsSkippedTotal prometheus.Counter
	ParseDuration    *prometheus.HistogramVec

	// Linkage metrics
	LinkageRate      prometheus.Histogram
	OverridesTotal   prometheus.Counter
	MatchesTotal     *prometheus.CounterVec
	DirectoryLookups *prometheus.CounterVec

	// Finalize metrics
	FinalizeTotal  *prometheus.CounterVec
	EntriesTotal   prometheus.Counter
	StageFailures  *prometheus.CounterVec
	LedgerFailures prometheus.Counter

	// Job metrics
	JobDurationSeconds *prometheus.HistogramVec

	// Health metrics
	HealthStatus       *prometheus.GaugeVec
	StorageUsedPercent *prometheus.GaugeVec
}

var (
	once    sync.Once
	current *Metrics
)

// Default returns the process-wide metrics, registering them on first use
func Default() *Metrics {
	once.Do(func() {
		current = newMetrics()
		current.HealthStatus.WithLabelValues("db").Set(0)
		current.HealthStatus.WithLabelValues("redis").Set(0)
	})
	return current
}

func newMetrics() *Metrics {
	return &Metrics{
		UploadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smr_uploads_total",
				Help: "Total number of upload submissions by outcome",
			},
			[]string{"outcome"},
		),
		UploadBytes: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "smr_upload_bytes",
				Help:    "Size of accepted uploads in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),
		DuplicatesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "smr_duplicate_uploads_total",
				Help: "Total number of byte-identical resubmissions",
			},
		),

		RowsStagedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "smr_staging_rows_total",
				Help: "Total number of staging rows written",
			},
		),
		RowsSkippedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "smr_staging_rows_skipped_total",
				Help: "Total number of report rows skipped for a missing artist or title",
			},
		),
		ParseDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "smr_parse_duration_seconds",
				Help: "Duration of report parsing in seconds",
			},
			[]string{"format", "status"},
		),

		LinkageRate: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "smr_linkage_rate_percent",
				Help:    "Linkage rate observed after each resolution pass",
				Buckets: []float64{10, 25, 50, 75, 90, 95, 99, 100},
			},
		),
		OverridesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "smr_artist_overrides_total",
				Help: "Total number of manual artist mappings recorded",
			},
		),
		MatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smr_artist_matches_total",
				Help: "Total number of rows resolved by strategy",
			},
			[]string{"strategy"},
		),
		DirectoryLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smr_directory_lookups_total",
				Help: "Artist directory lookups by cache result",
			},
			[]string{"result"},
		),

		FinalizeTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smr_finalize_attempts_total",
				Help: "Total number of finalize attempts by outcome",
			},
			[]string{"outcome"},
		),
		EntriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "smr_chart_entries_total",
				Help: "Total number of canonical chart entries committed",
			},
		),
		StageFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smr_stage_failures_total",
				Help: "Total number of pipeline failures by stage and kind",
			},
			[]string{"stage", "kind"},
		),
		LedgerFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "smr_ledger_failures_total",
				Help: "Total number of failed ledger registrations",
			},
		),

		JobDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "smr_job_duration_seconds",
				Help: "Duration of jobs in seconds",
			},
			[]string{"queue", "type", "status"},
		),

		HealthStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "smr_health_status",
				Help: "Health status of dependencies (1=ok, 0=down)",
			},
			[]string{"dependency"},
		),

		StorageUsedPercent: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "smr_storage_used_percent",
				Help: "Disk usage of the upload storage root",
			},
			[]string{"path"},
		),
	}
}
