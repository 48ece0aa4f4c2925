// Package probe classifies upstream stream URLs so the proxy can pick a
// delivery path before any bytes flow. Classification is layered: cheap URL
// syntax first, then a HEAD for the Content-Type, then a short GET sniff of
// the body. Network steps only run for http(s) URLs.
package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/pkg/httpclient"
)

// KindUnknown marks a URL none of the detection steps could classify.
const KindUnknown models.StreamKind = "unknown"

const (
	// maxRedirects bounds redirect chains for HEAD, sniff and ResolveFinal.
	maxRedirects = 5
	// sniffBytes is how much body the content sniff reads.
	sniffBytes = 1024

	probeTimeout = 10 * time.Second
)

// Result is the outcome of stream classification.
type Result struct {
	Kind     models.StreamKind `json:"kind"`
	Protocol string            `json:"protocol"`
}

// Doer executes outbound HTTP requests. Both *http.Client and the resilient
// outbound client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Detector classifies stream URLs and resolves redirect chains. Every
// network step runs under its own deadline, so a shared long-lived client
// can be passed in without capping media fetches elsewhere.
type Detector struct {
	client Doer
	logger *slog.Logger
}

// RedirectBudget is the CheckRedirect policy enforcing the probe's
// five-redirect ceiling. Callers supplying their own client install it on
// the base http.Client; redirects are followed below the retry layer.
func RedirectBudget(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}

// NewDetector creates a Detector issuing requests through client. When
// client is nil a dedicated resilient one is built with the redirect budget
// and a single quick retry, so a transient origin hiccup does not
// misclassify a stream.
func NewDetector(client Doer) *Detector {
	if client == nil {
		cfg := httpclient.DefaultConfig()
		cfg.RetryAttempts = 1
		cfg.RetryDelay = 200 * time.Millisecond
		cfg.BaseClient = &http.Client{
			Timeout:       probeTimeout,
			CheckRedirect: RedirectBudget,
		}
		client = httpclient.New(cfg)
	}
	return &Detector{
		client: client,
		logger: slog.Default().With(slog.String("component", "probe")),
	}
}

// Detect classifies rawURL. Unparseable URLs and URLs nothing matched come
// back as KindUnknown; Detect never returns an error because the proxy can
// still attempt delivery with the transcoder fallback.
func (d *Detector) Detect(ctx context.Context, rawURL string) Result {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" {
		return Result{Kind: KindUnknown}
	}
	scheme := strings.ToLower(parsed.Scheme)

	if kind, ok := kindBySyntax(parsed); ok {
		return Result{Kind: kind, Protocol: scheme}
	}
	if scheme != "http" && scheme != "https" {
		return Result{Kind: KindUnknown, Protocol: scheme}
	}

	if kind, ok := d.kindByHead(ctx, rawURL); ok {
		return Result{Kind: kind, Protocol: scheme}
	}
	if kind, ok := d.kindBySniff(ctx, rawURL); ok {
		return Result{Kind: kind, Protocol: scheme}
	}
	return Result{Kind: KindUnknown, Protocol: scheme}
}

// KindFromURL classifies rawURL by syntax alone, with no network traffic.
// Bulk callers (the playlist importer) use this; URLs that would need a
// network probe report ok=false so the caller picks its own default.
func KindFromURL(rawURL string) (models.StreamKind, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" {
		return KindUnknown, false
	}
	return kindBySyntax(parsed)
}

// kindBySyntax applies scheme and path heuristics. It reports false when the
// URL needs a network probe to classify.
func kindBySyntax(parsed *url.URL) (models.StreamKind, bool) {
	switch strings.ToLower(parsed.Scheme) {
	case "rtsp":
		return models.StreamKindRTSP, true
	case "rtmp", "rtmps":
		return models.StreamKindRTMP, true
	case "udp":
		return models.StreamKindUDP, true
	case "mms", "mmsh", "mmst":
		return models.StreamKindMMS, true
	case "srt":
		return models.StreamKindSRT, true
	case "http", "https":
	default:
		return KindUnknown, false
	}

	path := strings.ToLower(parsed.Path)
	switch {
	case strings.HasSuffix(path, ".m3u8"), strings.HasSuffix(path, ".m3u"), strings.Contains(path, "/hls/"):
		return models.StreamKindHLS, true
	case strings.HasSuffix(path, ".mpd"), strings.Contains(path, "/dash/"):
		return models.StreamKindDASH, true
	case strings.HasSuffix(path, ".ts"), strings.HasSuffix(path, ".mpegts"), strings.HasSuffix(path, ".mts"):
		return models.StreamKindTS, true
	}
	return KindUnknown, false
}

// kindByHead issues a HEAD request and maps the Content-Type. Servers that
// reject HEAD or answer with a generic type report false so the sniff step
// can run.
func (d *Detector) kindByHead(ctx context.Context, rawURL string) (models.StreamKind, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return KindUnknown, false
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Debug("HEAD probe failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()))
		return KindUnknown, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return KindUnknown, false
	}
	return kindByContentType(resp.Header.Get("Content-Type"))
}

func kindByContentType(contentType string) (models.StreamKind, bool) {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = strings.TrimSpace(mediaType[:idx])
	}

	switch mediaType {
	case "application/vnd.apple.mpegurl", "application/x-mpegurl", "audio/x-mpegurl", "audio/mpegurl":
		return models.StreamKindHLS, true
	case "application/dash+xml":
		return models.StreamKindDASH, true
	case "video/mp2t":
		return models.StreamKindTS, true
	case "application/octet-stream":
		return models.StreamKindHTTP, true
	}
	if strings.HasPrefix(mediaType, "video/") {
		return models.StreamKindHTTP, true
	}
	return KindUnknown, false
}

// kindBySniff reads the first kilobyte of the body and looks for playlist or
// manifest markers.
func (d *Detector) kindBySniff(ctx context.Context, rawURL string) (models.StreamKind, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return KindUnknown, false
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Debug("Sniff probe failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()))
		return KindUnknown, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return KindUnknown, false
	}

	head, err := io.ReadAll(io.LimitReader(resp.Body, sniffBytes))
	if err != nil && len(head) == 0 {
		return KindUnknown, false
	}

	body := string(head)
	switch {
	case strings.Contains(body, "#EXTM3U"), strings.Contains(body, "#EXT-X-"):
		return models.StreamKindHLS, true
	case strings.Contains(body, "<MPD"), strings.Contains(body, "urn:mpeg:dash"):
		return models.StreamKindDASH, true
	}
	return KindUnknown, false
}

// ResolveFinal follows up to five redirects and returns the canonical
// absolute URL. HLS media playlists are fetched relative to this, not the
// original, so sub-file URLs stay valid after CDN bouncing.
func (d *Detector) ResolveFinal(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		// Non-HTTP schemes have no redirects to chase.
		return rawURL, nil
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	return resp.Request.URL.String(), nil
}
