// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pantry",
		Subsystem: "docstore",
		Name:      "writes_total",
		Help:      "Document writes by operation.",
	}, []string{"op"})

	ActiveListeners = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pantry",
		Subsystem: "sync",
		Name:      "active_listeners",
		Help:      "Live snapshot subscriptions per cache.",
	}, []string{"cache"})

	SnapshotsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pantry",
		Subsystem: "sync",
		Name:      "snapshots_applied_total",
		Help:      "Snapshots that replaced a cache.",
	}, []string{"cache"})

	SnapshotsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pantry",
		Subsystem: "sync",
		Name:      "snapshots_dropped_total",
		Help:      "Snapshots discarded because their scope was superseded.",
	}, []string{"cache"})

	ListenerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pantry",
		Subsystem: "sync",
		Name:      "listener_errors_total",
		Help:      "Listener deliveries that carried an error instead of a snapshot.",
	}, []string{"cache"})

	RepositoryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pantry",
		Subsystem: "repository",
		Name:      "errors_total",
		Help:      "Remote failures surfaced by repositories.",
	}, []string{"repository"})

	WebsocketSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pantry",
		Subsystem: "server",
		Name:      "websocket_sessions",
		Help:      "Open websocket listen sessions.",
	})
)
