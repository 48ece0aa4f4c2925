package ffmpeg

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/plexbridge/plexbridge/internal/models"
)

// Request describes one upstream source to remux or transcode.
type Request struct {
	// URL is the resolved upstream URL (post-redirect).
	URL string

	// Kind selects the input argument profile.
	Kind models.StreamKind

	// UserAgent is sent on HTTP(S) inputs when set.
	UserAgent string

	// Username/Password inject HTTP Basic credentials on HTTP(S) inputs.
	Username string
	Password string

	// Headers are extra HTTP request headers (name -> value).
	Headers map[string]string

	// LogLevel overrides the default "error" loglevel.
	LogLevel string

	// Transcode enables re-encoding. Nil means codec copy.
	Transcode *Transcode
}

// Transcode holds re-encode parameters, usually derived from a configured
// quality profile. A codec value of "copy" passes that track through.
type Transcode struct {
	VideoCodec   string
	AudioCodec   string
	Preset       string
	VideoBitrate string
	AudioBitrate string
	Resolution   string // "1920x1080"
	HWAccel      string // "", "none", "auto", or an accel name like "cuda"
}

// simplifiedOrigins lists host substrings of CDNs whose tokenized URLs
// break when ffmpeg re-opens them. For these the reconnect flags are
// omitted so a dropped connection ends the session instead of replaying a
// stale token.
var simplifiedOrigins = struct {
	mu    sync.RWMutex
	hosts []string
}{
	hosts: []string{"amagi.tv"},
}

// RegisterSimplifiedOrigin adds a host substring to the simplified-profile
// registry.
func RegisterSimplifiedOrigin(hostSubstring string) {
	hostSubstring = strings.ToLower(strings.TrimSpace(hostSubstring))
	if hostSubstring == "" {
		return
	}
	simplifiedOrigins.mu.Lock()
	defer simplifiedOrigins.mu.Unlock()
	for _, h := range simplifiedOrigins.hosts {
		if h == hostSubstring {
			return
		}
	}
	simplifiedOrigins.hosts = append(simplifiedOrigins.hosts, hostSubstring)
	sort.Strings(simplifiedOrigins.hosts)
}

// SimplifiedOrigin reports whether the URL's host matches the registry.
func SimplifiedOrigin(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())

	simplifiedOrigins.mu.RLock()
	defer simplifiedOrigins.mu.RUnlock()
	for _, h := range simplifiedOrigins.hosts {
		if strings.Contains(host, h) {
			return true
		}
	}
	return false
}

// NewEncoder builds an Encoder for the request using the per-protocol
// argument profile.
func NewEncoder(binary string, req Request) *Encoder {
	return buildCommand(binary, req).Encoder()
}

// BuildArgs exposes the assembled argument vector, used by the API layer to
// report the exact command a session runs.
func BuildArgs(binary string, req Request) []string {
	return buildCommand(binary, req).Build()
}

func buildCommand(binary string, req Request) *Builder {
	b := NewBuilder(binary).LogLevel(req.LogLevel)

	httpInput := isHTTPURL(req.URL)
	if httpInput && !SimplifiedOrigin(req.URL) {
		b.Reconnect()
	}

	switch req.Kind {
	case models.StreamKindHLS:
		// The whitelist and connection flags must precede -i or the HLS
		// demuxer ignores them.
		b.InputArgs(
			"-protocol_whitelist", "file,http,https,tcp,tls,crypto",
			"-allowed_extensions", "ALL",
			"-http_persistent", "0",
			"-http_seekable", "0",
			"-multiple_requests", "1",
		)
	case models.StreamKindRTSP:
		b.InputArgs("-rtsp_transport", "tcp")
	case models.StreamKindRTMP:
		b.InputArgs("-rtmp_live", "live")
	}

	if httpInput {
		b.UserAgent(req.UserAgent)
		b.Headers(headerLines(req))
	}

	b.InputArgs("-fflags", "+genpts+discardcorrupt")

	if req.Transcode != nil && req.Transcode.HWAccel != "" && req.Transcode.HWAccel != "none" {
		b.InputArgs("-hwaccel", req.Transcode.HWAccel)
	}

	b.Input(req.URL)

	if req.Transcode == nil {
		b.CopyCodecs()
		if bsf := annexBFilter(req.Kind); bsf != "" {
			b.OutputArgs("-bsf:v", bsf)
		}
	} else {
		applyTranscode(b, req)
	}

	b.MpegtsOutput()
	b.Output("pipe:1")
	return b
}

func applyTranscode(b *Builder, req Request) {
	t := req.Transcode

	video := t.VideoCodec
	if video == "" {
		video = "copy"
	}
	if video == "copy" {
		b.OutputArgs("-c:v", "copy")
		if bsf := annexBFilter(req.Kind); bsf != "" {
			b.OutputArgs("-bsf:v", bsf)
		}
	} else {
		b.OutputArgs("-c:v", EncoderFor(video, t.HWAccel))
		if t.Preset != "" {
			b.OutputArgs("-preset", t.Preset)
		}
		if t.VideoBitrate != "" {
			b.OutputArgs("-b:v", t.VideoBitrate)
		}
		if t.Resolution != "" {
			if expr := scaleFilter(t.Resolution); expr != "" {
				b.VideoFilter(expr)
			}
		}
	}

	audio := t.AudioCodec
	if audio == "" {
		audio = "copy"
	}
	if audio == "copy" {
		b.OutputArgs("-c:a", "copy")
	} else {
		b.OutputArgs("-c:a", audio)
		if t.AudioBitrate != "" {
			b.OutputArgs("-b:a", t.AudioBitrate)
		}
	}
}

// annexBFilter returns the bitstream filter that converts length-prefixed
// H.264 to Annex-B for the MPEG-TS muxer. Sources that already carry
// Annex-B (raw TS, UDP/SRT transport streams, RTSP depacketized video) get
// none.
func annexBFilter(kind models.StreamKind) string {
	switch kind {
	case models.StreamKindTS, models.StreamKindUDP, models.StreamKindSRT,
		models.StreamKindRTSP, models.StreamKindMMS:
		return ""
	default:
		return "h264_mp4toannexb"
	}
}

// scaleFilter converts "1280x720" to "scale=1280:720".
func scaleFilter(resolution string) string {
	w, h, ok := strings.Cut(strings.ToLower(resolution), "x")
	if !ok || w == "" || h == "" {
		return ""
	}
	return fmt.Sprintf("scale=%s:%s", w, h)
}

// headerLines renders extra headers plus Basic credentials as "Name: value"
// lines in deterministic order.
func headerLines(req Request) []string {
	lines := make([]string, 0, len(req.Headers)+1)

	names := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lines = append(lines, name+": "+req.Headers[name])
	}

	if req.Username != "" || req.Password != "" {
		token := base64.StdEncoding.EncodeToString([]byte(req.Username + ":" + req.Password))
		lines = append(lines, "Authorization: Basic "+token)
	}
	return lines
}

func isHTTPURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
