package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rolesync",
		Subsystem: "presence",
		Name:      "classifications_total",
		Help:      "Presence classifications by resulting state.",
	}, []string{"state"})

	sourceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rolesync",
		Subsystem: "presence",
		Name:      "source_errors_total",
		Help:      "Presence source reads that failed and were skipped.",
	}, []string{"source"})

	updatesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rolesync",
		Subsystem: "presence",
		Name:      "updates_published_total",
		Help:      "PRESENCE_UPDATE events published on a state change.",
	})
)
