// Package metrics exposes the server's prometheus instrumentation behind
// a single Registry so every subsystem records through the same place.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for the sync server
type Registry struct {
	// Room metrics
	RoomsActive      prometheus.Gauge
	RoomsOpenedTotal prometheus.Counter
	RoomsClosedTotal prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsTotal    prometheus.Counter

	// Sync metrics
	MessagesTotal          *prometheus.CounterVec
	MutationsAppliedTotal  *prometheus.CounterVec
	MutationsDroppedTotal  prometheus.Counter
	CascadeDeletesTotal    prometheus.Counter
	MalformedMessagesTotal prometheus.Counter
	PresenceEvictionsTotal prometheus.Counter

	// Persistence metrics
	FlushesTotal  *prometheus.CounterVec
	FlushDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewRegistry creates a Registry with all metrics registered
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initRoomMetrics()
	r.initSyncMetrics()
	r.initPersistenceMetrics()

	return r
}

// Handler returns the HTTP handler serving the metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordMessage counts one inbound client message by type
func (r *Registry) RecordMessage(msgType string) {
	r.MessagesTotal.WithLabelValues(msgType).Inc()
}

// RecordMutation counts one applied mutation
func (r *Registry) RecordMutation(mapName, action string) {
	r.MutationsAppliedTotal.WithLabelValues(mapName, action).Inc()
}

// RecordFlush records one persistence flush attempt
func (r *Registry) RecordFlush(result string, duration time.Duration) {
	r.FlushesTotal.WithLabelValues(result).Inc()
	r.FlushDuration.Observe(duration.Seconds())
}
