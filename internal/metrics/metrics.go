// Package metrics declares the server's prometheus instruments.
//
// Naming convention: namespace_subsystem_name
//   - namespace: instant
//   - subsystem: websocket, room, dispatch, fileprod, ratelimit
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks currently open WebSocket sessions.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "instant",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of open WebSocket connections",
	})

	// ActiveRooms tracks live named rooms (the null room is excluded).
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "instant",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of live named rooms",
	})

	// RoomMembers tracks membership per room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "instant",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room"})

	// EnvelopesDispatched counts inbound envelopes by type and outcome.
	EnvelopesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "instant",
		Subsystem: "dispatch",
		Name:      "envelopes_total",
		Help:      "Inbound envelopes dispatched, by type and status",
	}, []string{"type", "status"})

	// BroadcastFanout observes how many queues each broadcast reached.
	BroadcastFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "instant",
		Subsystem: "dispatch",
		Name:      "broadcast_fanout",
		Help:      "Recipients per broadcast",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	// QueueOverflows counts clients dropped for a full send queue.
	QueueOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "instant",
		Subsystem: "websocket",
		Name:      "queue_overflows_total",
		Help:      "Connections closed because their send queue overflowed",
	})

	// ProducerCacheHits counts file producer cache hits.
	ProducerCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "instant",
		Subsystem: "fileprod",
		Name:      "cache_hits_total",
		Help:      "File producer cache hits",
	})

	// ProducerCacheMisses counts file producer cache misses.
	ProducerCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "instant",
		Subsystem: "fileprod",
		Name:      "cache_misses_total",
		Help:      "File producer cache misses",
	})

	// RateLimitRejections counts rejected requests by surface.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "instant",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Requests rejected by the rate limiter",
	}, []string{"surface"})
)

func IncConnection() { ActiveConnections.Inc() }
func DecConnection() { ActiveConnections.Dec() }
