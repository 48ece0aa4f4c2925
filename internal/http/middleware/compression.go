package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForStreaming wraps a compression middleware so it never
// touches endpoints that must own their byte stream: MPEG-TS responses are
// pumped chunk by chunk and must not be buffered, WebSocket upgrades hijack
// the connection, and logo bytes are already-compressed image data.
func SkipCompressionForStreaming(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if strings.HasPrefix(path, "/stream/") ||
				strings.HasPrefix(path, "/logos/") ||
				path == "/ws" {
				next.ServeHTTP(w, r)
				return
			}

			compressedHandler.ServeHTTP(w, r)
		})
	}
}
