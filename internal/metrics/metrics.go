// Package metrics defines the Prometheus collectors exported by apw.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "apw"

var (
	// JobsDispatched counts node actions handed to a worker.
	JobsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_dispatched_total",
		Help:      "Number of jobs dispatched to a worker.",
	})

	// JobsFinished counts finished jobs by result ("ok" or "failed").
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "Number of finished jobs by result.",
	}, []string{"result"})

	// JobsShared counts plans satisfied by a job another plan dispatched or
	// already completed.
	JobsShared = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_shared_total",
		Help:      "Number of times a plan reused a job run for another plan.",
	})

	// ActiveJobs is the number of jobs currently running.
	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_active",
		Help:      "Number of jobs currently running.",
	})

	// JobDuration observes how long node actions take.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Time spent running a node action.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	// TrackedPlans is the number of plans driven by a pool.
	TrackedPlans = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "plans_tracked",
		Help:      "Number of plans currently driven by the scheduler.",
	})

	// PlansFinished counts finished plans by result ("ok", "failed", "stuck").
	PlansFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plans_finished_total",
		Help:      "Number of finished plans by result.",
	}, []string{"result"})
)
