// Package metrics exposes the engine's ambient observability surface
// via github.com/prometheus/client_golang, the way
// RoseWrightdev-Video-Conferencing instruments its room package — a
// small set of package-level collectors registered once and updated
// from the room/lifecycle/transport packages without those packages
// importing Prometheus types directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveRooms tracks the live room count (C9).
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "undercover",
		Name:      "active_rooms",
		Help:      "Number of rooms currently tracked by the registry.",
	})

	// CommandsTotal counts accepted/rejected engine commands by kind and
	// outcome (C7).
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "undercover",
		Name:      "engine_commands_total",
		Help:      "Room engine commands processed, partitioned by kind and outcome.",
	}, []string{"kind", "outcome"})

	// VoteTallyDuration observes how long a VotePhase's tally-to-result
	// transition takes to process (C7 ResultPhase).
	VoteTallyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "undercover",
		Name:      "vote_tally_duration_seconds",
		Help:      "Time spent tallying votes and computing win conditions in ResultPhase.",
		Buckets:   prometheus.DefBuckets,
	})

	// RoomsEvictedTotal counts lifecycle-manager evictions by reason (C8).
	RoomsEvictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "undercover",
		Name:      "rooms_evicted_total",
		Help:      "Rooms deleted by the lifecycle manager, partitioned by reason.",
	}, []string{"reason"})

	// WebsocketConnections tracks live connections handled by C10.
	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "undercover",
		Name:      "websocket_connections",
		Help:      "Number of currently open WebSocket connections.",
	})
)
