package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rolesync",
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Scheduled job runs by job and outcome.",
	}, []string{"job", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rolesync",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Wall time of scheduled job runs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})
)
