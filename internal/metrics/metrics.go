// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scans counts submitted payloads by outcome: recorded, unknown_identity,
	// already_closed, error.
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanattend",
		Name:      "scans_total",
		Help:      "Scan payloads submitted to the attendance pipeline.",
	}, []string{"result"})

	Edges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanattend",
		Name:      "edges_total",
		Help:      "Attendance transitions by edge and status.",
	}, []string{"edge", "status"})

	RaceRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scanattend",
		Name:      "race_retries_total",
		Help:      "Conditional writes that lost a race and were retried.",
	})

	Handoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanattend",
		Name:      "event_handoffs_total",
		Help:      "Attendance events handed to the notification queue.",
	}, []string{"result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanattend",
		Name:      "guardian_notifications_total",
		Help:      "Guardian notifications by dispatch outcome.",
	}, []string{"result"})

	RecordLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scanattend",
		Name:      "record_duration_seconds",
		Help:      "Time spent in the locked read-decide-write of one scan.",
		Buckets:   prometheus.DefBuckets,
	})
)
