package cascade

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rolesync",
		Subsystem: "cascade",
		Name:      "runs_total",
		Help:      "Cascade runs by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	membersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rolesync",
		Subsystem: "cascade",
		Name:      "members_total",
		Help:      "Members processed by cascades, by result.",
	}, []string{"result"})

	warningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rolesync",
		Subsystem: "cascade",
		Name:      "warnings_total",
		Help:      "Non-fatal cascade failures by stage.",
	}, []string{"stage"})

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rolesync",
		Subsystem: "cascade",
		Name:      "batch_size",
		Help:      "Documents per atomic batch write.",
		Buckets:   []float64{1, 5, 25, 100, 250, 400, 500},
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rolesync",
		Subsystem: "cascade",
		Name:      "run_duration_seconds",
		Help:      "Wall time of cascade runs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"trigger"})
)
