// Package metrics holds the process-wide Prometheus collectors for cascades,
// dependency collection, snapshots and notifications.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stratline"

var (
	// Cascades counts orchestrator runs.
	// Labels: trigger (action, project, strategy, reconcile)
	Cascades = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cascade",
		Name:      "runs_total",
		Help:      "Total progress cascades by trigger",
	}, []string{"trigger"})

	// CascadeDuration measures a full bottom-up cascade.
	CascadeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cascade",
		Name:      "duration_seconds",
		Help:      "Cascade latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"trigger"})

	// AggregationWarnings counts ancestor recomputes that failed after the
	// primary write had already succeeded.
	// Labels: entity_kind (project, strategy)
	AggregationWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cascade",
		Name:      "aggregation_warnings_total",
		Help:      "Ancestor recompute failures that did not abort the mutation",
	}, []string{"entity_kind"})

	DependenciesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dependencies",
		Name:      "removed_total",
		Help:      "Dependency edges removed by garbage collection",
	})

	// Labels: kind (archive, unarchive)
	SnapshotsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "snapshots",
		Name:      "recorded_total",
		Help:      "Snapshots appended by kind",
	}, []string{"kind"})

	// Labels: kind (progress.milestone, status.changed), outcome (ok, error)
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notifications",
		Name:      "sent_total",
		Help:      "Notifications handed to the notifier",
	}, []string{"kind", "outcome"})
)

// ObserveCascade records a finished cascade for trigger.
func ObserveCascade(trigger string, started time.Time) {
	Cascades.WithLabelValues(trigger).Inc()
	CascadeDuration.WithLabelValues(trigger).Observe(time.Since(started).Seconds())
}
