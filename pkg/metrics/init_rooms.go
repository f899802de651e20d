package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRoomMetrics() {
	r.RoomsActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "mapsync_rooms_active",
			Help: "Number of rooms currently held in memory",
		},
	)

	r.RoomsOpenedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "mapsync_rooms_opened_total",
			Help: "Total number of rooms created",
		},
	)

	r.RoomsClosedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "mapsync_rooms_closed_total",
			Help: "Total number of rooms released after their grace period",
		},
	)

	r.SessionsActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "mapsync_sessions_active",
			Help: "Number of attached client sessions",
		},
	)

	r.SessionsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "mapsync_sessions_total",
			Help: "Total number of sessions ever attached",
		},
	)
}
