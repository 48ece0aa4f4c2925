package settings

// Defaults returns a fresh copy of the complete default tree. Every path the
// rest of the system reads must have a default here; persisted rows only
// override, never extend the schema.
func Defaults() Settings {
	return Settings{
		"ssdp": map[string]any{
			"enabled":          true,
			"friendlyName":     "PlexBridge",
			"manufacturer":     "Silicondust",
			"modelName":        "HDTC-2US",
			"modelNumber":      "HDTC-2US",
			"description":      "PlexBridge HDHomeRun tuner",
			"announceInterval": float64(1800), // seconds between NOTIFY bursts
			"multicastAddress": "239.255.255.250",
			"port":             float64(1900),
			"deviceUuid":       "", // generated and persisted on first start
		},
		"streaming": map[string]any{
			"maxConcurrentStreams": float64(5),
			"streamTimeout":        float64(30000), // ms without data before teardown
			"reconnectAttempts":    float64(3),
			"bufferSize":           float64(65536),
			"adaptiveBuffering": map[string]any{
				"enabled":   true,
				"minBuffer": float64(1048576),
				"maxBuffer": float64(16777216),
			},
			"preferredProtocol": "hls",
		},
		"transcoding": map[string]any{
			"enabled":              true,
			"hardwareAcceleration": false,
			"preset":               "veryfast",
			"videoCodec":           "copy",
			"audioCodec":           "copy",
			"qualityProfiles": map[string]any{
				"low":    map[string]any{"resolution": "720x480", "bitrate": "1500k"},
				"medium": map[string]any{"resolution": "1280x720", "bitrate": "3000k"},
				"high":   map[string]any{"resolution": "1920x1080", "bitrate": "6000k"},
			},
			"defaultProfile": "medium",
		},
		"caching": map[string]any{
			"enabled":         true,
			"duration":        float64(3600), // seconds
			"maxSize":         float64(1000), // entries
			"cleanupInterval": float64(3600), // seconds
		},
		"device": map[string]any{
			"name":       "PlexBridge",
			"id":         "PLEXTV001",
			"tunerCount": float64(4),
			"firmware":   "1.0.0",
			"baseUrl":    "", // derived from network settings when empty
		},
		"network": map[string]any{
			"bindAddress":    "0.0.0.0",
			"advertisedHost": "",
			"streamingPort":  float64(8080),
			"discoveryPort":  float64(1900),
			"ipv6Enabled":    false,
		},
		"compatibility": map[string]any{
			"hdHomeRunMode":       true,
			"plexPassRequired":    false,
			"gracePeriod":         float64(10000), // ms Plex may reconnect without losing the session
			"channelLogoFallback": true,
		},
		"localization": map[string]any{
			"timezone":       "UTC",
			"locale":         "en-US",
			"dateFormat":     "YYYY-MM-DD",
			"timeFormat":     "24h",
			"firstDayOfWeek": float64(1),
		},
	}
}

// Categories returns the top-level category names of the default tree.
func Categories() []string {
	tree := Defaults()
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	return names
}
