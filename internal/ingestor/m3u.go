// Package ingestor feeds the channel lineup from external playlists.
// The implemented feed is M3U: each playlist entry becomes a channel with
// one stream; entries sharing a guide id collapse into one channel with
// fallback streams. Re-imports are idempotent, keyed on the guide id when
// present and the stream URL otherwise.
package ingestor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/events"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/probe"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/pkg/httpclient"
	"github.com/plexbridge/plexbridge/pkg/m3u"
)

const (
	// defaultFetchTimeout bounds the playlist download. Provider playlists
	// can run to tens of megabytes over slow links.
	defaultFetchTimeout = 5 * time.Minute

	// maxPlaylistBytes caps the decompressed playlist size.
	maxPlaylistBytes = 256 << 20

	// maxImportErrors caps how many per-entry errors a Result carries.
	maxImportErrors = 100
)

// URL scheme prefixes accepted for remote playlists.
const (
	httpPrefix  = "http://"
	httpsPrefix = "https://"
)

// Result summarizes an import run.
type Result struct {
	ChannelsCreated int      `json:"channelsCreated"`
	ChannelsUpdated int      `json:"channelsUpdated"`
	StreamsCreated  int      `json:"streamsCreated"`
	StreamsUpdated  int      `json:"streamsUpdated"`
	Skipped         int      `json:"skipped"`
	Errors          []string `json:"errors,omitempty"`
}

// M3UImporter imports M3U playlists into channels and streams.
type M3UImporter struct {
	channels repository.ChannelRepository
	streams  repository.StreamRepository
	client   *httpclient.Client
	store    *cache.Store
	hub      *events.Hub
	log      *slog.Logger
}

// NewM3UImporter creates an importer over the given repositories. store and
// hub may be nil; lineup cache invalidation and bus events are then skipped.
func NewM3UImporter(channels repository.ChannelRepository, streams repository.StreamRepository, store *cache.Store, hub *events.Hub, logger *slog.Logger) *M3UImporter {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = defaultFetchTimeout
	cfg.MaxResponseSize = maxPlaylistBytes
	if logger == nil {
		logger = slog.Default()
	}

	return &M3UImporter{
		channels: channels,
		streams:  streams,
		client:   httpclient.New(cfg),
		store:    store,
		hub:      hub,
		log:      logger,
	}
}

// WithHTTPClient replaces the playlist fetch client.
func (imp *M3UImporter) WithHTTPClient(client *httpclient.Client) *M3UImporter {
	imp.client = client
	return imp
}

// ValidateURL checks that url is a fetchable playlist location.
func (imp *M3UImporter) ValidateURL(url string) error {
	if url == "" {
		return fmt.Errorf("playlist URL is required")
	}
	if !strings.HasPrefix(url, httpPrefix) && !strings.HasPrefix(url, httpsPrefix) {
		return fmt.Errorf("playlist URL must be HTTP or HTTPS")
	}
	return nil
}

// ImportURL fetches the playlist at url and imports it.
func (imp *M3UImporter) ImportURL(ctx context.Context, url string) (*Result, error) {
	if err := imp.ValidateURL(url); err != nil {
		return nil, err
	}

	body, err := imp.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching playlist: %w", err)
	}
	defer body.Close()

	return imp.ImportReader(ctx, body)
}

// ImportReader imports a playlist from r. Compressed payloads (gzip, bzip2,
// xz, brotli) are detected and decompressed transparently.
func (imp *M3UImporter) ImportReader(ctx context.Context, r io.Reader) (*Result, error) {
	run, err := imp.newRun(ctx)
	if err != nil {
		return nil, err
	}

	parser := &m3u.Parser{
		OnEntry: func(entry *m3u.Entry) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			run.apply(ctx, entry)
			return nil
		},
		OnError: func(lineNum int, err error) {
			run.addError(fmt.Sprintf("line %d: %v", lineNum, err))
		},
	}

	if err := parser.ParseCompressed(r); err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}

	if err := run.flush(ctx); err != nil {
		return nil, err
	}

	res := run.result
	imp.log.Info("playlist import finished",
		slog.Int("channels_created", res.ChannelsCreated),
		slog.Int("channels_updated", res.ChannelsUpdated),
		slog.Int("streams_created", res.StreamsCreated),
		slog.Int("streams_updated", res.StreamsUpdated),
		slog.Int("skipped", res.Skipped),
		slog.Int("errors", len(res.Errors)))

	if res.ChannelsCreated+res.ChannelsUpdated+res.StreamsCreated+res.StreamsUpdated > 0 {
		if imp.store != nil {
			imp.store.Delete(ctx, cache.LineupKey)
		}
		if imp.hub != nil {
			imp.hub.Publish(events.RoomLineup, events.TypeLineupImported, res)
		}
	}

	return res, nil
}

// fetch retrieves the playlist through the resilient client.
func (imp *M3UImporter) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := imp.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// pendingChannel is a channel staged for batch creation together with the
// streams that will bind to it once it has an id.
type pendingChannel struct {
	ch      *models.Channel
	streams []*models.Stream
}

// importRun carries the state of one import: lineup lookups as of run
// start, entities staged during the run, and the running tally.
type importRun struct {
	imp    *M3UImporter
	result *Result

	// byEpgID indexes existing channels by guide id; streamByURL indexes
	// existing streams by source URL.
	byEpgID     map[string]*models.Channel
	streamByURL map[string]*models.Stream

	// pending holds channels staged this run; pendingByKey finds them by
	// dedup key, stagedURLs dedups source URLs within the run.
	pending      []*pendingChannel
	pendingByKey map[string]*pendingChannel
	stagedURLs   map[string]bool

	// numbers tracks taken channel numbers; next is the low-water mark
	// for sequential assignment.
	numbers map[int]bool
	next    int
}

func (imp *M3UImporter) newRun(ctx context.Context) (*importRun, error) {
	existing, err := imp.channels.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading channels: %w", err)
	}
	allStreams, err := imp.streams.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading streams: %w", err)
	}

	run := &importRun{
		imp:          imp,
		result:       &Result{},
		byEpgID:      make(map[string]*models.Channel, len(existing)),
		streamByURL:  make(map[string]*models.Stream, len(allStreams)),
		pendingByKey: make(map[string]*pendingChannel),
		stagedURLs:   make(map[string]bool),
		numbers:      make(map[int]bool, len(existing)),
		next:         1,
	}

	byID := make(map[models.ULID]*models.Channel, len(existing))
	for _, ch := range existing {
		byID[ch.ID] = ch
		if ch.EpgID != "" {
			run.byEpgID[ch.EpgID] = ch
		}
		run.numbers[ch.Number] = true
	}
	for _, st := range allStreams {
		run.streamByURL[st.URL] = st
		if st.Channel == nil {
			st.Channel = byID[st.ChannelID]
		}
	}

	return run, nil
}

// apply processes one playlist entry.
func (run *importRun) apply(ctx context.Context, entry *m3u.Entry) {
	rawURL := strings.TrimSpace(entry.URL)
	if rawURL == "" {
		run.result.Skipped++
		return
	}
	if u, err := url.Parse(rawURL); err != nil || !u.IsAbs() {
		run.addError(fmt.Sprintf("channel %q: invalid URL %q", channelName(entry), rawURL))
		return
	}

	// An existing stream with the same URL wins over everything: the
	// entry is a refresh of that stream's channel.
	if st, ok := run.streamByURL[rawURL]; ok {
		run.refreshExisting(ctx, entry, st)
		return
	}

	// Duplicate URL within this playlist.
	if run.stagedURLs[rawURL] {
		run.result.Skipped++
		return
	}
	run.stagedURLs[rawURL] = true

	// Entries sharing a guide id collapse into one channel; later URLs
	// become fallback streams.
	if entry.TvgID != "" {
		if ch, ok := run.byEpgID[entry.TvgID]; ok {
			run.addStream(ctx, entry, ch)
			return
		}
		if p, ok := run.pendingByKey[entry.TvgID]; ok {
			p.streams = append(p.streams, run.buildStream(entry))
			run.result.StreamsCreated++
			return
		}
	}

	run.createChannel(entry)
}

// refreshExisting updates the channel and stream a re-imported entry maps to.
func (run *importRun) refreshExisting(ctx context.Context, entry *m3u.Entry, st *models.Stream) {
	ch := st.Channel
	if ch == nil {
		var err error
		ch, err = run.imp.channels.GetByID(ctx, st.ChannelID)
		if err != nil {
			run.addError(fmt.Sprintf("channel %q: loading owner: %v", channelName(entry), err))
			return
		}
		st.Channel = ch
	}

	name := channelName(entry)
	chChanged := false
	if name != "" && ch.Name != name {
		ch.Name = name
		chChanged = true
	}
	if entry.TvgLogo != "" && ch.LogoURL != entry.TvgLogo {
		ch.LogoURL = entry.TvgLogo
		chChanged = true
	}
	if entry.GroupTitle != "" && ch.GroupTitle != entry.GroupTitle {
		ch.GroupTitle = entry.GroupTitle
		chChanged = true
	}
	if entry.TvgID != "" && ch.EpgID != entry.TvgID {
		ch.EpgID = entry.TvgID
		chChanged = true
	}
	if chChanged {
		if err := run.imp.channels.Update(ctx, ch); err != nil {
			run.addError(fmt.Sprintf("channel %q: %v", ch.Name, err))
			return
		}
		if ch.EpgID != "" {
			run.byEpgID[ch.EpgID] = ch
		}
		run.result.ChannelsUpdated++
	}

	stChanged := false
	if name != "" && st.Name != name {
		st.Name = name
		stChanged = true
	}
	if headers := entryHeaders(entry); len(headers) > 0 && !mapsEqual(st.Headers, headers) {
		st.Headers = headers
		stChanged = true
	}
	if stChanged {
		if err := run.imp.streams.Update(ctx, st); err != nil {
			run.addError(fmt.Sprintf("stream %q: %v", st.Name, err))
			return
		}
		run.result.StreamsUpdated++
	}

	if !chChanged && !stChanged {
		run.result.Skipped++
	}
}

// addStream appends a fallback stream to an existing channel.
func (run *importRun) addStream(ctx context.Context, entry *m3u.Entry, ch *models.Channel) {
	st := run.buildStream(entry)
	st.ChannelID = ch.ID

	if err := run.imp.streams.Create(ctx, st); err != nil {
		run.addError(fmt.Sprintf("stream %q: %v", st.Name, err))
		return
	}
	st.Channel = ch
	run.streamByURL[st.URL] = st
	run.result.StreamsCreated++
}

// createChannel stages a new channel and its first stream.
func (run *importRun) createChannel(entry *m3u.Entry) {
	name := channelName(entry)
	ch := &models.Channel{
		Name:       name,
		Number:     run.assignNumber(entry.ChannelNumber),
		Enabled:    models.BoolPtr(true),
		LogoURL:    entry.TvgLogo,
		GroupTitle: entry.GroupTitle,
		EpgID:      entry.TvgID,
	}
	if err := ch.Validate(); err != nil {
		run.addError(fmt.Sprintf("channel %q: %v", name, err))
		return
	}

	p := &pendingChannel{
		ch:      ch,
		streams: []*models.Stream{run.buildStream(entry)},
	}
	run.pending = append(run.pending, p)
	run.pendingByKey[dedupKey(entry)] = p
	if ch.EpgID != "" {
		run.byEpgID[ch.EpgID] = ch
	}
	run.result.ChannelsCreated++
	run.result.StreamsCreated++
}

// buildStream turns an entry into a stream model with a syntax-detected kind.
func (run *importRun) buildStream(entry *m3u.Entry) *models.Stream {
	kind, ok := probe.KindFromURL(entry.URL)
	if !ok {
		kind = models.StreamKindHTTP
	}

	return &models.Stream{
		Name:    channelName(entry),
		URL:     entry.URL,
		Kind:    kind,
		Enabled: models.BoolPtr(true),
		Headers: entryHeaders(entry),
		Options: entryOptions(entry),
	}
}

// assignNumber honors the playlist's tvg-chno when free, otherwise hands out
// the next unused number.
func (run *importRun) assignNumber(want int) int {
	if want >= models.MinChannelNumber && want <= models.MaxChannelNumber && !run.numbers[want] {
		run.numbers[want] = true
		return want
	}
	for run.numbers[run.next] {
		run.next++
	}
	run.numbers[run.next] = true
	return run.next
}

// flush batch-creates the staged channels, then their streams with the
// assigned channel ids.
func (run *importRun) flush(ctx context.Context) error {
	if len(run.pending) == 0 {
		return nil
	}

	channels := make([]*models.Channel, 0, len(run.pending))
	for _, p := range run.pending {
		channels = append(channels, p.ch)
	}
	if err := run.imp.channels.CreateBatch(ctx, channels); err != nil {
		return fmt.Errorf("creating channels: %w", err)
	}

	var streams []*models.Stream
	for _, p := range run.pending {
		for _, st := range p.streams {
			st.ChannelID = p.ch.ID
			streams = append(streams, st)
		}
	}
	if err := run.imp.streams.CreateBatch(ctx, streams); err != nil {
		return fmt.Errorf("creating streams: %w", err)
	}
	return nil
}

func (run *importRun) addError(msg string) {
	if len(run.result.Errors) < maxImportErrors {
		run.result.Errors = append(run.result.Errors, msg)
	}
}

// channelName picks the best display name for an entry.
func channelName(entry *m3u.Entry) string {
	if entry.Title != "" {
		return entry.Title
	}
	if entry.TvgName != "" {
		return entry.TvgName
	}
	return nameFromURL(entry.URL)
}

// dedupKey identifies an entry across imports: guide id first, URL otherwise.
func dedupKey(entry *m3u.Entry) string {
	if entry.TvgID != "" {
		return entry.TvgID
	}
	return entry.URL
}

// entryHeaders maps VLC transport options onto upstream request headers.
func entryHeaders(entry *m3u.Entry) models.StringMap {
	if len(entry.VLCOpts) == 0 {
		return nil
	}
	headers := make(models.StringMap)
	if ua := entry.VLCOpts["http-user-agent"]; ua != "" {
		headers["User-Agent"] = ua
	}
	if ref := entry.VLCOpts["http-referrer"]; ref != "" {
		headers["Referer"] = ref
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

// entryOptions keeps the VLC options that are not plain HTTP headers.
func entryOptions(entry *m3u.Entry) models.StringMap {
	if len(entry.VLCOpts) == 0 {
		return nil
	}
	opts := make(models.StringMap)
	for k, v := range entry.VLCOpts {
		if k == "http-user-agent" || k == "http-referrer" {
			continue
		}
		opts[k] = v
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// nameFromURL derives a channel name from the last URL path segment.
func nameFromURL(url string) string {
	lastSlash := strings.LastIndex(url, "/")
	if lastSlash >= 0 && lastSlash < len(url)-1 {
		name := url[lastSlash+1:]
		if qMark := strings.Index(name, "?"); qMark > 0 {
			name = name[:qMark]
		}
		if dot := strings.LastIndex(name, "."); dot > 0 {
			name = name[:dot]
		}
		if name != "" {
			return name
		}
	}
	return "Unknown"
}

func mapsEqual(a, b models.StringMap) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
