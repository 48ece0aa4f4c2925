package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexbridge/plexbridge/internal/models"
)

func TestDetectBySyntax(t *testing.T) {
	d := NewDetector(nil)
	ctx := context.Background()

	tests := []struct {
		url      string
		kind     models.StreamKind
		protocol string
	}{
		{"http://example.com/live/channel.m3u8", models.StreamKindHLS, "http"},
		{"https://example.com/hls/stream?token=abc", models.StreamKindHLS, "https"},
		{"http://example.com/manifest.mpd", models.StreamKindDASH, "http"},
		{"http://example.com/dash/stream", models.StreamKindDASH, "http"},
		{"http://example.com/feed.ts", models.StreamKindTS, "http"},
		{"http://example.com/feed.mpegts", models.StreamKindTS, "http"},
		{"rtsp://camera.local/stream1", models.StreamKindRTSP, "rtsp"},
		{"rtmp://ingest.example.com/live", models.StreamKindRTMP, "rtmp"},
		{"rtmps://ingest.example.com/live", models.StreamKindRTMP, "rtmps"},
		{"udp://239.0.0.1:1234", models.StreamKindUDP, "udp"},
		{"mms://legacy.example.com/feed", models.StreamKindMMS, "mms"},
		{"srt://relay.example.com:9000", models.StreamKindSRT, "srt"},
	}
	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			got := d.Detect(ctx, tc.url)
			assert.Equal(t, tc.kind, got.Kind)
			assert.Equal(t, tc.protocol, got.Protocol)
		})
	}
}

func TestDetectPlaylistSuffixBeatsSegmentSuffix(t *testing.T) {
	d := NewDetector(nil)

	// A playlist path that mentions ts inside must still classify as HLS.
	got := d.Detect(context.Background(), "http://example.com/ts/playlist.m3u8")
	assert.Equal(t, models.StreamKindHLS, got.Kind)
}

func TestDetectByContentType(t *testing.T) {
	tests := []struct {
		contentType string
		kind        models.StreamKind
	}{
		{"application/vnd.apple.mpegurl", models.StreamKindHLS},
		{"application/x-mpegURL; charset=utf-8", models.StreamKindHLS},
		{"application/dash+xml", models.StreamKindDASH},
		{"video/mp2t", models.StreamKindTS},
		{"video/mp4", models.StreamKindHTTP},
		{"application/octet-stream", models.StreamKindHTTP},
	}
	for _, tc := range tests {
		t.Run(tc.contentType, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tc.contentType)
			}))
			defer srv.Close()

			got := NewDetector(nil).Detect(context.Background(), srv.URL+"/stream")
			assert.Equal(t, tc.kind, got.Kind)
		})
	}
}

func TestDetectBySniff(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind models.StreamKind
	}{
		{"hls playlist", "#EXTM3U\n#EXT-X-VERSION:3\n", models.StreamKindHLS},
		{"dash manifest", `<?xml version="1.0"?><MPD xmlns="urn:mpeg:dash:schema:mpd:2011"></MPD>`, models.StreamKindDASH},
		{"garbage", "BINARYDATA", KindUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodHead {
					// Uninformative HEAD forces the sniff step.
					w.Header().Set("Content-Type", "text/plain")
					return
				}
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			got := NewDetector(nil).Detect(context.Background(), srv.URL+"/stream")
			assert.Equal(t, tc.kind, got.Kind)
		})
	}
}

func TestDetectHeadRejected(t *testing.T) {
	// Some origins 405 HEAD requests; the sniff must still classify.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		fmt.Fprint(w, "#EXTM3U\n")
	}))
	defer srv.Close()

	got := NewDetector(nil).Detect(context.Background(), srv.URL+"/stream")
	assert.Equal(t, models.StreamKindHLS, got.Kind)
}

func TestDetectUnparseableURL(t *testing.T) {
	d := NewDetector(nil)
	assert.Equal(t, KindUnknown, d.Detect(context.Background(), "://nope").Kind)
	assert.Equal(t, KindUnknown, d.Detect(context.Background(), "no-scheme/path").Kind)
}

func TestResolveFinalFollowsRedirects(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			http.Redirect(w, r, "/b", http.StatusFound)
		case "/b":
			http.Redirect(w, r, srv.URL+"/final/playlist.m3u8", http.StatusMovedPermanently)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	final, err := NewDetector(nil).ResolveFinal(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/final/playlist.m3u8", final)
}

func TestResolveFinalRedirectBudget(t *testing.T) {
	hops := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, fmt.Sprintf("/hop%d", hops), http.StatusFound)
	}))
	defer srv.Close()

	_, err := NewDetector(nil).ResolveFinal(context.Background(), srv.URL+"/start")
	require.Error(t, err)
	// The default client retries a failed chain once, so at most two walks
	// of the budget.
	assert.LessOrEqual(t, hops, 2*(maxRedirects+1))
}

func TestDetectRetriesTransientUpstreamError(t *testing.T) {
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if atomic.AddInt32(&gets, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-VERSION:3\n")
	}))
	defer srv.Close()

	got := NewDetector(nil).Detect(context.Background(), srv.URL+"/stream")
	assert.Equal(t, models.StreamKindHLS, got.Kind)
	assert.EqualValues(t, 2, atomic.LoadInt32(&gets))
}

func TestResolveFinalNonHTTP(t *testing.T) {
	final, err := NewDetector(nil).ResolveFinal(context.Background(), "rtsp://camera.local/stream")
	require.NoError(t, err)
	assert.Equal(t, "rtsp://camera.local/stream", final)
}
