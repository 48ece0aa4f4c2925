package probe

import (
	"strings"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// RewriteMasterPlaylist prefixes every relative variant or media URI in an
// HLS master playlist with base, so the player's follow-up requests land on
// this bridge instead of the upstream host. base must end in "/".
//
// Media playlists (segment lists) and anything that fails to parse are
// returned untouched: segments are served by proxying the media playlist
// itself, not by rewriting it. Absolute URIs are left alone, which also
// makes the rewrite idempotent.
func RewriteMasterPlaylist(raw []byte, base string) ([]byte, bool) {
	parsed, err := playlist.Unmarshal(raw)
	if err != nil {
		return raw, false
	}
	if _, ok := parsed.(*playlist.Multivariant); !ok {
		return raw, false
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	// Rewrite line by line rather than re-marshalling, so unknown tags and
	// attribute ordering survive byte for byte.
	lines := strings.Split(string(raw), "\n")
	rewritten := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			if updated, ok := rewriteURIAttribute(line, base); ok {
				lines[i] = updated
				rewritten = true
			}
			continue
		}
		if rewriteTarget(trimmed) {
			lines[i] = base + trimmed
			rewritten = true
		}
	}
	if !rewritten {
		return raw, false
	}
	return []byte(strings.Join(lines, "\n")), true
}

// rewriteTarget reports whether a bare URI line is a relative playlist or
// transport-stream reference.
func rewriteTarget(uri string) bool {
	if isAbsolute(uri) {
		return false
	}
	path := uri
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	path = strings.ToLower(path)
	return strings.HasSuffix(path, ".m3u8") ||
		strings.HasSuffix(path, ".m3u") ||
		strings.HasSuffix(path, ".ts")
}

// rewriteURIAttribute rewrites the URI="..." attribute carried by tags like
// EXT-X-MEDIA and EXT-X-I-FRAME-STREAM-INF.
func rewriteURIAttribute(line, base string) (string, bool) {
	const marker = `URI="`
	start := strings.Index(line, marker)
	if start < 0 {
		return line, false
	}
	valueStart := start + len(marker)
	end := strings.Index(line[valueStart:], `"`)
	if end < 0 {
		return line, false
	}
	uri := line[valueStart : valueStart+end]
	if !rewriteTarget(uri) {
		return line, false
	}
	return line[:valueStart] + base + uri + line[valueStart+end:], true
}

func isAbsolute(uri string) bool {
	lower := strings.ToLower(uri)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "//")
}
