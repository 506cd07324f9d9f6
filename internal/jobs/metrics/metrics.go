// Package metrics exposes Prometheus instrumentation for the job queue and
// the orchestrator workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_jobs_enqueued_total",
		Help: "Jobs enqueued, including dedupe hits.",
	}, []string{"type"})

	JobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_jobs_claimed_total",
		Help: "Jobs claimed by orchestrator workers.",
	}, []string{"type"})

	JobAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_job_attempts_total",
		Help: "Job execution attempts by outcome.",
	}, []string{"type", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "custodia_job_duration_seconds",
		Help:    "Wall-clock duration of job execution attempts.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"type"})

	JobsDead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_jobs_dead_total",
		Help: "Jobs moved to the dead letter state.",
	}, []string{"type"})

	OwnershipLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_job_ownership_lost_total",
		Help: "Post-claim updates rejected because the worker lease had expired.",
	}, []string{"type"})

	AnchorPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_anchor_polls_total",
		Help: "Anchor confirmation poll outcomes by network.",
	}, []string{"network", "outcome"})
)
