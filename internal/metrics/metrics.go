// Package metrics exposes prometheus instrumentation for the pipeline and
// scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector registered by the application.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	ItemsCollected     *prometheus.CounterVec
	ItemsStored        prometheus.Counter
	ItemsAnalyzed      prometheus.Counter
	DuplicatesSkipped  prometheus.Counter
	CollectorFailures  *prometheus.CounterVec
	JobRunsTotal       *prometheus.CounterVec
	QuotaDenials       *prometheus.CounterVec
}

// New registers all metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insightbull_pipeline_runs_total",
			Help: "Pipeline runs by terminal status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "insightbull_pipeline_run_duration_seconds",
			Help:    "Wall-clock duration of pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ItemsCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insightbull_items_collected_total",
			Help: "Raw items collected, by source.",
		}, []string{"source"}),
		ItemsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insightbull_items_stored_total",
			Help: "Raw items persisted.",
		}),
		ItemsAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insightbull_items_analyzed_total",
			Help: "Texts classified by the sentiment engine.",
		}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "insightbull_duplicates_skipped_total",
			Help: "Items skipped by in-run deduplication.",
		}),
		CollectorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insightbull_collector_failures_total",
			Help: "Collector invocations that failed, by source.",
		}, []string{"source"}),
		JobRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insightbull_scheduler_job_runs_total",
			Help: "Scheduled job firings, by job and outcome.",
		}, []string{"job", "outcome"}),
		QuotaDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insightbull_quota_denials_total",
			Help: "Sources disabled for a run by the quota gate.",
		}, []string{"source"}),
	}

	reg.MustRegister(
		m.RunsTotal, m.RunDuration, m.ItemsCollected, m.ItemsStored,
		m.ItemsAnalyzed, m.DuplicatesSkipped, m.CollectorFailures,
		m.JobRunsTotal, m.QuotaDenials,
	)
	return m
}
