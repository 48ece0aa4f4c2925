// Package events provides the publish/subscribe bus behind the operator
// dashboard. Components publish into named rooms; WebSocket clients join
// rooms and receive events as JSON frames. Delivery is best-effort and
// at-most-once: subscribers that fall behind lose events and reconcile by
// re-fetching the authoritative APIs.
package events

import "time"

// Room names subscribers can join.
const (
	RoomMetrics  = "metrics"
	RoomSettings = "settings"
	RoomStreams  = "streams"
	RoomLineup   = "lineup"
)

// Event types carried on the bus.
const (
	TypeSessionStarted  = "session:started"
	TypeSessionEnded    = "session:ended"
	TypeMonitoring      = "monitoring:update"
	TypeBandwidth       = "streams:bandwidth:update"
	TypeMetrics         = "metrics:update"
	TypeSettingsUpdated = "settings:updated"
	TypeLineupImported  = "lineup:imported"
	TypeLineupChanged   = "lineup:changed"
)

// Event is a single bus message.
type Event struct {
	Type string    `json:"type"`
	Room string    `json:"room"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"timestamp"`
}
