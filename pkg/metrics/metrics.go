// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts finished turns by terminal task state.
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "turns_total",
		Help:      "Finished turns by terminal task state.",
	}, []string{"state"})

	// TurnDuration observes end-to-end turn latency by terminal state.
	TurnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "parley",
		Name:      "turn_duration_seconds",
		Help:      "End-to-end turn duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"state"})

	// StatusUpdatesTotal counts emitted task status updates by state.
	StatusUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "status_updates_total",
		Help:      "Task status updates sent to callers, by state.",
	}, []string{"state"})

	// RetryAttemptsTotal counts turn retries on transient validation
	// failures.
	RetryAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "retry_attempts_total",
		Help:      "Turn re-executions triggered by transient validation failures.",
	})

	// SessionOpsTotal counts session store operations by kind and result.
	SessionOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "session_ops_total",
		Help:      "Session store operations by operation and result.",
	}, []string{"op", "result"})
)
