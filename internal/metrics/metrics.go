package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Relay groups the collectors updated by the websocket relay.
type Relay struct {
	ConnectionsActive prometheus.Gauge
	RoomsActive       prometheus.Gauge
	Joins             *prometheus.CounterVec
	KeyExchanges      prometheus.Counter
	FramesRelayed     prometheus.Counter
	FramesDropped     *prometheus.CounterVec
	RoomsReaped       prometheus.Counter
}

// Sessions groups the collectors updated by the polling session API.
type Sessions struct {
	Created        prometheus.Counter
	MessagesPosted prometheus.Counter
	Expired        prometheus.Counter
	RateLimited    *prometheus.CounterVec
}

// Frame drop reasons.
const (
	DropMalformed    = "malformed"
	DropUnknownType  = "unknown_type"
	DropUnbound      = "unbound"
	DropNoPeer       = "no_peer"
	DropBackpressure = "backpressure"
	DropExpired      = "expired"
)

// NewRelay registers relay collectors on reg. A nil reg uses a throwaway registry.
func NewRelay(reg prometheus.Registerer) *Relay {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Relay{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shadowtalk_connections_active",
			Help: "Current number of open relay websocket connections.",
		}),
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shadowtalk_rooms_active",
			Help: "Current number of live relay rooms.",
		}),
		Joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowtalk_room_joins_total",
			Help: "Join attempts grouped by outcome.",
		}, []string{"result"}),
		KeyExchanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowtalk_key_exchanges_total",
			Help: "Rooms whose peer-key fan-out fired.",
		}),
		FramesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowtalk_frames_relayed_total",
			Help: "Encrypted frames delivered to a peer.",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowtalk_frames_dropped_total",
			Help: "Frames dropped by the relay grouped by reason.",
		}, []string{"reason"}),
		RoomsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowtalk_rooms_reaped_total",
			Help: "Rooms removed by the expiry sweep.",
		}),
	}

	reg.MustRegister(
		m.ConnectionsActive,
		m.RoomsActive,
		m.Joins,
		m.KeyExchanges,
		m.FramesRelayed,
		m.FramesDropped,
		m.RoomsReaped,
	)
	return m
}

// NewSessions registers session API collectors on reg. A nil reg uses a throwaway registry.
func NewSessions(reg prometheus.Registerer) *Sessions {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Sessions{
		Created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowtalk_sessions_created_total",
			Help: "Polling sessions created.",
		}),
		MessagesPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowtalk_session_messages_total",
			Help: "Messages stored for polling sessions.",
		}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowtalk_sessions_expired_total",
			Help: "Sessions deleted by cleanup.",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowtalk_rate_limited_total",
			Help: "Requests rejected by the rate limiter grouped by action.",
		}, []string{"action"}),
	}

	reg.MustRegister(
		m.Created,
		m.MessagesPosted,
		m.Expired,
		m.RateLimited,
	)
	return m
}
