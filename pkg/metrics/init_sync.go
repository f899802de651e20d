package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSyncMetrics() {
	r.MessagesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapsync_messages_total",
			Help: "Total inbound client messages by type",
		},
		[]string{"type"}, // identify, update, cursor
	)

	r.MutationsAppliedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapsync_mutations_applied_total",
			Help: "Total replicated-map mutations that won conflict resolution",
		},
		[]string{"map", "action"},
	)

	r.MutationsDroppedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "mapsync_mutations_dropped_total",
			Help: "Mutations dropped by conflict resolution or referential checks",
		},
	)

	r.CascadeDeletesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "mapsync_cascade_deletes_total",
			Help: "Edge deletions derived from node deletions",
		},
	)

	r.MalformedMessagesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "mapsync_malformed_messages_total",
			Help: "Client messages rejected at the session boundary",
		},
	)

	r.PresenceEvictionsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "mapsync_presence_evictions_total",
			Help: "Presence entries evicted by the inactivity sweep",
		},
	)
}
