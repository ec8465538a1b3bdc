// Package metrics exposes Prometheus counters for the reconciliation
// engine. Background work is fire-and-forget by design; these counters
// are how its failures stay observable.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OverdueNotificationCount counts notifications produced by the
	// overdue scan, by entity kind (task, subtask).
	OverdueNotificationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_overdue_notifications_total",
			Help: "Total overdue notifications created by the scan",
		},
		[]string{"kind"},
	)

	// RemoteFailureCount counts failed remote store calls by operation.
	RemoteFailureCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_remote_failures_total",
			Help: "Total failed remote store operations",
		},
		[]string{"op"},
	)

	// RefetchCount counts full project-list refetches triggered by the
	// realtime debounce.
	RefetchCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_refetch_total",
			Help: "Total debounced full refetches of the project list",
		},
	)

	// RollbackCount counts snapshot rollbacks applied after terminal
	// remote failures.
	RollbackCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_rollbacks_total",
			Help: "Total optimistic mutations rolled back after remote failure",
		},
	)

	// FanoutFailureCount counts collaborator notification fan-outs that
	// failed in the background.
	FanoutFailureCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_fanout_failures_total",
			Help: "Total collaborator notification fan-outs that failed",
		},
	)
)

// IncrementOverdue records one overdue notification for a kind.
func IncrementOverdue(kind string) {
	OverdueNotificationCount.WithLabelValues(kind).Inc()
}

// IncrementRemoteFailure records one failed remote operation.
func IncrementRemoteFailure(op string) {
	RemoteFailureCount.WithLabelValues(op).Inc()
}
