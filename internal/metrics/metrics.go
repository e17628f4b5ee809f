package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialectic_jobs_handled_total",
			Help: "Total number of jobs driven by the orchestrator, by type and resulting status.",
		},
		[]string{"job_type", "status"},
	)

	JobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dialectic_job_duration_seconds",
			Help:    "Duration of orchestrated jobs in seconds.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"job_type", "status"},
	)

	JobsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dialectic_jobs_active",
			Help: "Number of jobs currently being processed.",
		},
		[]string{"job_type"},
	)

	NotificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialectic_notifications_sent_total",
			Help: "Total number of notifications emitted by type.",
		},
		[]string{"type", "internal"},
	)

	NotificationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialectic_notification_failures_total",
			Help: "Total number of notifications that could not be delivered.",
		},
		[]string{"type"},
	)

	BlockerResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialectic_blocker_resolutions_total",
			Help: "Total number of blocker resolutions by outcome and blocking job type.",
		},
		[]string{"outcome", "job_type"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialectic_job_retries_total",
			Help: "Total number of retry decisions by outcome.",
		},
		[]string{"outcome"},
	)

	ContinuationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialectic_job_continuations_total",
			Help: "Total number of continuation requests by outcome.",
		},
		[]string{"outcome"},
	)

	DependentsReleasedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialectic_dependents_released_total",
			Help: "Total number of dependent jobs transitioned after a prerequisite or child finished.",
		},
		[]string{"status"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialectic_events_dropped_total",
			Help: "Total number of bus events dropped because a subscriber fell behind.",
		},
		[]string{"type"},
	)

	WorkerClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialectic_worker_claims_total",
			Help: "Total number of jobs successfully claimed by worker node.",
		},
		[]string{"node_id"},
	)

	WorkerClaimContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialectic_worker_claim_contention_total",
			Help: "Total number of worker claim contention events.",
		},
		[]string{"node_id"},
	)

	WorkerLeaseExpirationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialectic_worker_lease_expirations_total",
			Help: "Total number of expired worker job leases reclaimed by node.",
		},
		[]string{"node_id"},
	)
)

// All lists every custom collector.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		JobsHandledTotal,
		JobDurationSeconds,
		JobsActive,
		NotificationsSentTotal,
		NotificationFailuresTotal,
		BlockerResolutionsTotal,
		RetriesTotal,
		ContinuationsTotal,
		DependentsReleasedTotal,
		EventsDroppedTotal,
		WorkerClaimsTotal,
		WorkerClaimContentionTotal,
		WorkerLeaseExpirationsTotal,
	}
}

// Register registers all custom dialectic metrics with the default Prometheus registry.
func Register() {
	prometheus.MustRegister(All()...)
}
