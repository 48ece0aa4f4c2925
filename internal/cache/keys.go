package cache

import "time"

// Conventional key prefixes and lifetimes. Keeping them in one place makes
// invalidation patterns greppable ("session:*", "epg:*").
const (
	// SystemMetricsKey holds the sampled host metrics block for /health.
	SystemMetricsKey = "metrics:system"
	// LineupKey holds the rendered HDHomeRun channel lineup.
	LineupKey = "lineup:channels"

	TTLSystemMetrics = 60 * time.Second
	TTLSession       = time.Hour
	TTLLineup        = 5 * time.Minute
	TTLEPG           = time.Hour
	TTLLogo          = 24 * time.Hour
)

// EPGKey caches guide data for one channel.
func EPGKey(channelID string) string { return "epg:" + channelID }

// StreamKey caches resolved stream metadata (format, final URL).
func StreamKey(streamID string) string { return "stream:" + streamID }

// SessionKey caches a streaming session snapshot for the API.
func SessionKey(sessionID string) string { return "session:" + sessionID }

// LogoKey caches fetched channel logo bytes.
func LogoKey(channelID string) string { return "logo:" + channelID }
