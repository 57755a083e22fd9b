package docstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// SubscriberBuffer is how many undelivered events a subscription holds.
// Backends that never block writers drop events past it.
const SubscriberBuffer = 4096

// DroppedEvents counts change events lost to subscribers that fell behind.
var DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rolesync",
	Subsystem: "docstore",
	Name:      "dropped_events_total",
	Help:      "Change events dropped because a subscriber buffer was full.",
}, []string{"backend"})

// Dropped records one event lost by backend.
func Dropped(backend, path string) {
	DroppedEvents.WithLabelValues(backend).Inc()
	log.Warn().Str("backend", backend).Str("path", path).Msg("subscriber full, dropping change event")
}
