package stream

import (
	"encoding/base64"
	"net"
	"net/http"
	"strings"
)

// fingerprintLength caps the encoded fingerprint. Long enough to separate
// clients on a LAN, short enough to embed in session identifiers.
const fingerprintLength = 16

// Fingerprint derives a stable client identity from the request. The same
// device re-requesting a stream produces the same fingerprint, which is how
// reconnects are recognized. Built from the forwarded-for chain (or the
// remote address) plus the User-Agent.
func Fingerprint(r *http.Request) string {
	addr := r.Header.Get("X-Forwarded-For")
	if addr == "" {
		addr = remoteHost(r.RemoteAddr)
	}
	raw := addr + "|" + r.UserAgent()
	enc := base64.StdEncoding.EncodeToString([]byte(raw))
	if len(enc) > fingerprintLength {
		enc = enc[:fingerprintLength]
	}
	return enc
}

// remoteHost strips the port from a host:port remote address. Addresses
// already without a port pass through unchanged.
func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// isPlexClient reports whether the user agent identifies a Plex product.
// Used to pick the reconnect end reason for replaced sessions.
func isPlexClient(userAgent string) bool {
	return strings.Contains(strings.ToLower(userAgent), "plex")
}
