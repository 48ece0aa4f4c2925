package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/plexbridge/plexbridge/internal/ffmpeg"
	"github.com/plexbridge/plexbridge/internal/metrics"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/observability"
	"github.com/plexbridge/plexbridge/internal/probe"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/pkg/httpclient"
)

// playlistMaxBytes caps playlist downloads. Master and media playlists are
// small; anything beyond this is not a playlist.
const playlistMaxBytes = 8 << 20

// upstreamBaseTTL is how long a redirect-resolved playlist base URL stays
// usable for segment resolution.
const upstreamBaseTTL = time.Minute

// ProxySettings is the settings surface the proxy reads per request.
type ProxySettings interface {
	SettingSource
	GetString(ctx context.Context, path string, def string) string
	GetBool(ctx context.Context, path string, def bool) bool
}

// ProxyConfig carries the static pieces of the proxy.
type ProxyConfig struct {
	// FFmpegPath is the encoder binary.
	FFmpegPath string

	// UserAgent is sent on outbound origin requests.
	UserAgent string
}

// Proxy serves tuner stream requests end to end: channel lookup, admission,
// handler selection, and byte pumping with live accounting.
type Proxy struct {
	log      *slog.Logger
	cfg      ProxyConfig
	manager  *Manager
	settings ProxySettings
	channels repository.ChannelRepository
	streams  repository.StreamRepository
	detector *probe.Detector
	client   *httpclient.Client

	// upstreamBase caches the redirect-resolved playlist location per
	// channel so segment paths resolve against the real origin.
	upstreamBase sync.Map
}

type baseEntry struct {
	url string
	at  time.Time
}

// NewProxy creates the stream proxy.
func NewProxy(cfg ProxyConfig, manager *Manager, settingSource ProxySettings, channels repository.ChannelRepository, streams repository.StreamRepository, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	// Long-lived media fetches get dial and header deadlines but no
	// overall timeout; retries and the per-origin breaker come from the
	// resilient client wrapped around the transport. The probe shares the
	// client, so one flapping origin trips a single breaker.
	ccfg := httpclient.DefaultConfig()
	ccfg.UserAgent = cfg.UserAgent
	ccfg.Logger = logger
	ccfg.RetryAttempts = 2
	ccfg.RetryDelay = 500 * time.Millisecond
	ccfg.RetryMaxDelay = 5 * time.Second
	ccfg.BaseClient = &http.Client{
		CheckRedirect: probe.RedirectBudget,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   8,
		},
	}
	client := httpclient.New(ccfg)
	return &Proxy{
		log:      observability.WithComponent(logger, "proxy"),
		cfg:      cfg,
		manager:  manager,
		settings: settingSource,
		channels: channels,
		streams:  streams,
		detector: probe.NewDetector(client),
		client:   client,
	}
}

// ServeChannel handles GET /stream/{channelId}: resolve the channel to its
// playback stream, admit a session, and hand off to the handler the stream
// calls for.
func (p *Proxy) ServeChannel(w http.ResponseWriter, r *http.Request, channelRef string) {
	ctx := r.Context()

	channel, st, err := p.lookup(ctx, channelRef)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	kind := st.Kind
	if kind == "" || kind == probe.KindUnknown {
		kind = p.detector.Detect(ctx, st.URL).Kind
	}
	if kind == probe.KindUnknown {
		writeJSONError(w, http.StatusBadRequest, "unrecognized stream format")
		return
	}

	sess, err := p.manager.Admit(ctx, AdmitRequest{
		ChannelID:     channel.ID,
		StreamID:      st.ID,
		ChannelName:   channel.Name,
		ChannelNumber: channel.Number,
		SourceURL:     st.URL,
		Kind:          kind,
		ClientAddress: remoteHost(r.RemoteAddr),
		Fingerprint:   Fingerprint(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	switch {
	case st.ConnectionLimited:
		p.serveProgressive(w, r, sess, st, kind)
	case kind == models.StreamKindHLS:
		p.serveHLS(w, r, sess, st)
	case kind == models.StreamKindDASH:
		p.serveManifest(w, r, sess, st)
	default:
		p.serveTranscode(w, r, sess, st, kind, st.URL)
	}
}

// lookup resolves a channel reference (ULID or channel number) to the
// channel and its playback stream.
func (p *Proxy) lookup(ctx context.Context, channelRef string) (*models.Channel, *models.Stream, error) {
	var channel *models.Channel
	if id, err := models.ParseULID(channelRef); err == nil {
		channel, _ = p.channels.GetByID(ctx, id)
	}
	if channel == nil {
		if number, err := strconv.Atoi(channelRef); err == nil {
			channel, _ = p.channels.GetByNumber(ctx, number)
		}
	}
	if channel == nil || !channel.IsEnabled() {
		return nil, nil, fmt.Errorf("channel %q not found", channelRef)
	}

	streams, err := p.streams.GetEnabledByChannelID(ctx, channel.ID)
	if err != nil || len(streams) == 0 {
		return nil, nil, fmt.Errorf("channel %q has no playable stream", channel.Name)
	}
	return channel, streams[0], nil
}

// serveHLS is the web-compatible direct proxy for HLS sources: master
// playlists are rewritten so variants route back through this server,
// media playlists pass through unchanged. Falls back to transcoding when
// the playlist cannot be fetched.
func (p *Proxy) serveHLS(w http.ResponseWriter, r *http.Request, sess *Session, st *models.Stream) {
	ctx := r.Context()

	resp, err := p.fetchUpstream(ctx, st, st.URL)
	if err != nil {
		p.log.Warn("direct proxy unavailable, transcoding instead",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
		p.serveTranscode(w, r, sess, st, models.StreamKindHLS, st.URL)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, playlistMaxBytes))
	if err != nil {
		p.manager.End(sess.ID, models.EndReasonEncoderError, "reading upstream playlist: "+err.Error())
		writeJSONError(w, http.StatusBadGateway, "upstream playlist unavailable")
		return
	}

	// Segment requests resolve against the post-redirect location.
	finalURL := st.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	p.upstreamBase.Store(sess.ChannelID.String(), baseEntry{url: finalURL, at: time.Now()})

	base := p.streamBase(ctx, r, sess.ChannelID)
	out, isMaster := probe.RewriteMasterPlaylist(body, base)
	if !isMaster {
		out = body
	}

	h := w.Header()
	h.Set("Content-Type", "application/vnd.apple.mpegurl")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	n, _ := w.Write(out)

	sess.SetPhase(PhaseStreaming)
	sess.RecordBytes(n)
	// The session stays open: segment requests keep feeding it until the
	// client stops and the inactivity timer reaps it.
}

// serveManifest pipes a non-HLS manifest (DASH) through unchanged.
func (p *Proxy) serveManifest(w http.ResponseWriter, r *http.Request, sess *Session, st *models.Stream) {
	ctx := r.Context()

	resp, err := p.fetchUpstream(ctx, st, st.URL)
	if err != nil {
		p.manager.End(sess.ID, models.EndReasonEncoderError, "fetching manifest: "+err.Error())
		writeJSONError(w, http.StatusBadGateway, "upstream manifest unavailable")
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)

	sess.SetPhase(PhaseStreaming)
	p.copyCounted(w, resp.Body, sess)
}

// ServeSegment handles GET /stream/{channelId}/{segment...}: requests made
// against URLs produced by the master-playlist rewrite. The segment path is
// resolved against the upstream playlist location and piped byte-for-byte.
// Bytes are accounted to the client's session when one is active.
func (p *Proxy) ServeSegment(w http.ResponseWriter, r *http.Request, channelRef, segmentPath string) {
	ctx := r.Context()

	channel, st, err := p.lookup(ctx, channelRef)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	target, err := p.segmentURL(channel.ID, st.URL, segmentPath, r.URL.RawQuery)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid segment path")
		return
	}

	resp, err := p.fetchUpstream(ctx, st, target)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "upstream segment unavailable")
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	w.WriteHeader(resp.StatusCode)

	sess, _ := p.manager.ActiveFor(Fingerprint(r), st.ID, channel.ID)
	p.copyCounted(w, resp.Body, sess)
}

// segmentURL resolves a rewritten segment path back to its upstream URL.
func (p *Proxy) segmentURL(channelID models.ULID, streamURL, segmentPath, rawQuery string) (string, error) {
	baseURL := streamURL
	if v, ok := p.upstreamBase.Load(channelID.String()); ok {
		if entry := v.(baseEntry); time.Since(entry.at) < upstreamBaseTTL {
			baseURL = entry.url
		}
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(segmentPath)
	if err != nil {
		return "", err
	}
	if rawQuery != "" {
		ref.RawQuery = rawQuery
	}
	return base.ResolveReference(ref).String(), nil
}

// serveTranscode feeds the source through the encoder and pipes MPEG-TS to
// the client.
func (p *Proxy) serveTranscode(w http.ResponseWriter, r *http.Request, sess *Session, st *models.Stream, kind models.StreamKind, srcURL string) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sess.attachCancel(cancel)

	if resolved, err := p.detector.ResolveFinal(ctx, srcURL); err == nil && resolved != "" {
		srcURL = resolved
	}

	enc, err := p.startEncoder(ctx, sess, st, kind, srcURL)
	if err != nil {
		p.log.Error("encoder start failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
		p.manager.End(sess.ID, models.EndReasonEncoderError, err.Error())
		writeJSONError(w, http.StatusBadGateway, "failed to start stream")
		return
	}

	writeTSHeaders(w)
	w.WriteHeader(http.StatusOK)
	p.pump(ctx, w, sess, enc)
}

// startEncoder builds and launches the encoder for a session.
func (p *Proxy) startEncoder(ctx context.Context, sess *Session, st *models.Stream, kind models.StreamKind, srcURL string) (*ffmpeg.Encoder, error) {
	req := ffmpeg.Request{
		URL:       srcURL,
		Kind:      kind,
		UserAgent: p.cfg.UserAgent,
		Username:  st.AuthUsername,
		Password:  st.AuthPassword,
		Headers:   map[string]string(st.Headers),
	}
	vc := p.settings.GetString(ctx, "transcoding.videoCodec", "copy")
	ac := p.settings.GetString(ctx, "transcoding.audioCodec", "copy")
	if vc != "copy" || ac != "copy" {
		req.Transcode = &ffmpeg.Transcode{
			VideoCodec: vc,
			AudioCodec: ac,
			Preset:     p.settings.GetString(ctx, "transcoding.preset", "veryfast"),
		}
	}

	enc := ffmpeg.NewEncoder(p.cfg.FFmpegPath, req)
	enc.OnStderr = func(line string, severity ffmpeg.Severity) {
		if severity == ffmpeg.SeverityError {
			sess.RecordError()
		}
	}

	sess.SetPhase(PhaseStartingFFmpeg)
	if err := enc.Start(ctx); err != nil {
		return nil, err
	}
	sess.attachEncoder(enc)
	return enc, nil
}

// pump moves encoder stdout to the client until either side gives up,
// accounting bytes and probing codecs from the leading output. Ends the
// session with the reason matching what broke the flow.
func (p *Proxy) pump(ctx context.Context, w http.ResponseWriter, sess *Session, enc *ffmpeg.Encoder) {
	flusher, _ := w.(http.Flusher)

	bufSize := p.settings.GetInt(ctx, "streaming.bufferSize", 64*1024)
	if bufSize < 4096 {
		bufSize = 4096
	}
	buf := make([]byte, bufSize)

	var probeBuf []byte
	probed := false
	var out io.Writer = w
	stdout := enc.Stdout()
	if mon := enc.Monitor(); mon != nil {
		// Counting both pipe ends keeps encoder throughput visible in the
		// session's stats entry.
		out = ffmpeg.NewCountingWriter(w, mon)
		stdout = ffmpeg.NewCountingReader(stdout, mon)
	}
	sess.SetPhase(PhaseStreaming)

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if !probed {
				probeBuf = append(probeBuf, buf[:n]...)
				if video, audio := detectCodecs(probeBuf); video != "" || audio != "" {
					sess.SetCodecs(video, audio)
					probed = true
					probeBuf = nil
				} else if len(probeBuf) >= codecProbeSize {
					probed = true
					probeBuf = nil
				}
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				p.manager.End(sess.ID, models.EndReasonClientDisconnect, "")
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			sess.RecordBytes(n)
		}
		if err != nil {
			break
		}
	}

	if ctx.Err() != nil {
		p.manager.End(sess.ID, models.EndReasonClientDisconnect, "")
		return
	}

	if waitErr := enc.Wait(); waitErr != nil {
		metrics.EncoderRestarts.Inc()
		msg := enc.LastError()
		if msg == "" {
			msg = waitErr.Error()
		}
		p.manager.End(sess.ID, models.EndReasonEncoderError, msg)
		return
	}
	p.manager.End(sess.ID, models.EndReasonProcessClosed, "")
}

// copyCounted pipes resp bytes to the client, flushing as it goes and
// accounting to the session when present.
func (p *Proxy) copyCounted(w http.ResponseWriter, src io.Reader, sess *Session) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			if sess != nil {
				sess.RecordBytes(n)
			}
		}
		if err != nil {
			return
		}
	}
}

// fetchUpstream issues a GET with the stream's credentials and headers.
// Non-2xx responses are returned as errors.
func (p *Proxy) fetchUpstream(ctx context.Context, st *models.Stream, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	for k, v := range st.Headers {
		req.Header.Set(k, v)
	}
	if st.AuthUsername != "" {
		req.SetBasicAuth(st.AuthUsername, st.AuthPassword)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("upstream returned %s", resp.Status)
	}
	return resp, nil
}

// streamBase is the advertised URL prefix rewritten into master playlists:
// http://{advertisedHost}:{streamingPort}/stream/{channelId}/
func (p *Proxy) streamBase(ctx context.Context, r *http.Request, channelID models.ULID) string {
	host := p.settings.GetString(ctx, "network.advertisedHost", "")
	if host == "" {
		host = requestHost(r)
	}
	port := p.settings.GetInt(ctx, "network.streamingPort", 8080)
	return fmt.Sprintf("http://%s/stream/%s/", net.JoinHostPort(host, strconv.Itoa(port)), channelID)
}

// requestHost strips the port from the inbound Host header.
func requestHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.Host); err == nil {
		return host
	}
	return r.Host
}

// writeTSHeaders sets the response headers for MPEG-TS delivery. Chunked
// transfer encoding follows from the absent Content-Length.
func writeTSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "video/mp2t")
	h.Set("Accept-Ranges", "none")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
}

// writeJSONError writes {"error": message} with the given status.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
