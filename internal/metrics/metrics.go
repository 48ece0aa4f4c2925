// Package metrics defines the Prometheus collectors exported at /metrics.
// Collectors are registered at package init through promauto; callers update
// them directly without holding any additional locks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts admitted streaming sessions by stream kind.
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plexbridge",
			Subsystem: "streaming",
			Name:      "sessions_started_total",
			Help:      "Streaming sessions admitted, by stream kind.",
		},
		[]string{"kind"},
	)

	// SessionsEnded counts ended sessions by end reason.
	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plexbridge",
			Subsystem: "streaming",
			Name:      "sessions_ended_total",
			Help:      "Streaming sessions ended, by reason.",
		},
		[]string{"reason"},
	)

	// SessionsActive tracks the number of currently active sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "plexbridge",
			Subsystem: "streaming",
			Name:      "sessions_active",
			Help:      "Currently active streaming sessions.",
		},
	)

	// BytesTransferred counts bytes delivered to streaming clients.
	BytesTransferred = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "plexbridge",
			Subsystem: "streaming",
			Name:      "bytes_transferred_total",
			Help:      "Bytes delivered to streaming clients.",
		},
	)

	// AdmissionRejected counts rejected admission attempts by cause.
	AdmissionRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plexbridge",
			Subsystem: "streaming",
			Name:      "admission_rejected_total",
			Help:      "Admission attempts rejected, by cause.",
		},
		[]string{"cause"},
	)

	// SessionDuration observes wall-clock session lifetimes.
	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "plexbridge",
			Subsystem: "streaming",
			Name:      "session_duration_seconds",
			Help:      "Session lifetime from admission to end.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	// KeepalivePackets counts null packets written while holding
	// connections open during upstream resolution.
	KeepalivePackets = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "plexbridge",
			Subsystem: "streaming",
			Name:      "keepalive_packets_total",
			Help:      "MPEG-TS null packets written by the progressive handler.",
		},
	)

	// EncoderRestarts counts encoder processes that exited while their
	// session was still wanted.
	EncoderRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "plexbridge",
			Subsystem: "streaming",
			Name:      "encoder_failures_total",
			Help:      "Encoder processes that exited before their session ended.",
		},
	)

	// EventSubscribers tracks connected event-bus subscribers.
	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "plexbridge",
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Connected event subscribers.",
		},
	)

	// EventsDropped counts events discarded because a subscriber's queue
	// was full.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "plexbridge",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped for slow subscribers.",
		},
	)

	// SSDPSearches counts M-SEARCH queries answered.
	SSDPSearches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "plexbridge",
			Subsystem: "ssdp",
			Name:      "searches_answered_total",
			Help:      "SSDP M-SEARCH queries answered.",
		},
	)

	// SSDPAnnouncements counts periodic NOTIFY announcements sent.
	SSDPAnnouncements = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "plexbridge",
			Subsystem: "ssdp",
			Name:      "announcements_total",
			Help:      "SSDP NOTIFY announcements sent.",
		},
	)
)
