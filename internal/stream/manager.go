// Package stream implements session admission and tracking for the tuner
// stream endpoint, plus the per-request proxies that move bytes: direct
// playlist/segment proxying, transcode-to-MPEG-TS through the encoder, and
// the progressive keep-alive handler for slow origins.
//
// The Manager is the sole owner of live session state. Everything it hands
// out is a snapshot copy; serving goroutines feed bytes and errors back in
// through Session methods.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plexbridge/plexbridge/internal/events"
	"github.com/plexbridge/plexbridge/internal/metrics"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/observability"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/pkg/format"
)

const (
	// defaultChannelLimit caps concurrent sessions per channel.
	defaultChannelLimit = 3

	// defaultMaxConcurrent is the fallback global ceiling when settings
	// are unavailable.
	defaultMaxConcurrent = 5

	// defaultStreamTimeout is the fallback inactivity window.
	defaultStreamTimeout = 30 * time.Second

	// timeoutScanInterval is how often idle sessions are checked against
	// the inactivity window.
	timeoutScanInterval = time.Second

	// staleSweepInterval and StaleSessionAge bound runaway sessions: the
	// sweep ends anything that has been running longer than the age limit.
	// The manual cleanup endpoint uses the same age as its idle cutoff.
	staleSweepInterval = 5 * time.Minute
	StaleSessionAge    = time.Hour

	// broadcastInterval is the dashboard refresh cadence.
	broadcastInterval = 2 * time.Second

	// persistTimeout bounds history writes on the end path, which runs
	// detached from any request context.
	persistTimeout = 5 * time.Second
)

// Admission rejections. The text is client-visible in 503 bodies.
var (
	ErrAtCapacity   = errors.New("Maximum concurrent streams reached")
	ErrChannelLimit = errors.New("Maximum concurrent streams per channel reached")
	ErrDraining     = errors.New("Service is shutting down")
)

// SettingSource provides the runtime knobs consulted on each admission and
// sweep. *settings.Service satisfies it.
type SettingSource interface {
	GetInt(ctx context.Context, path string, def int) int
	GetDuration(ctx context.Context, path string, unit time.Duration, def time.Duration) time.Duration
}

// Publisher is the event-bus surface the manager needs.
type Publisher interface {
	Publish(room, eventType string, data any)
}

// Manager owns all live session state and enforces the admission policy.
type Manager struct {
	log      *slog.Logger
	settings SettingSource
	history  repository.SessionRepository
	events   Publisher

	channelLimit int
	now          func() time.Time

	mu             sync.RWMutex
	active         map[string]*Session
	byClientStream map[string]*Session
	channelCount   map[string]int
	peakConcurrent int
	draining       bool

	endedCount atomic.Int64
	endedBytes atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a session manager. The publisher may be nil when no
// event bus is wired (tests).
func NewManager(settingSource SettingSource, history repository.SessionRepository, publisher Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Manager{
		log:            observability.WithComponent(logger, "sessions"),
		settings:       settingSource,
		history:        history,
		events:         publisher,
		channelLimit:   defaultChannelLimit,
		now:            time.Now,
		active:         make(map[string]*Session),
		byClientStream: make(map[string]*Session),
		channelCount:   make(map[string]int),
		stop:           make(chan struct{}),
	}
}

// WithChannelLimit overrides the per-channel session ceiling.
func (m *Manager) WithChannelLimit(limit int) *Manager {
	if limit > 0 {
		m.channelLimit = limit
	}
	return m
}

// WithClock overrides the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, string, any) {}

// AdmitRequest describes the playback a client is asking for.
type AdmitRequest struct {
	ChannelID     models.ULID
	StreamID      models.ULID
	ChannelName   string
	ChannelNumber int
	SourceURL     string
	Kind          models.StreamKind
	ClientAddress string
	Fingerprint   string
	UserAgent     string
}

// idKey is the stream identity used in session ids and duplicate detection:
// the stream id when known, otherwise the channel id.
func (r AdmitRequest) idKey() string {
	if !r.StreamID.IsZero() {
		return r.StreamID.String()
	}
	return r.ChannelID.String()
}

// Admit applies the admission policy and registers a new session.
//
// A client re-requesting a stream it already holds replaces its old session
// (ended with client_reconnect, or plex_reconnect for Plex user agents)
// before any capacity counting. Then the global ceiling and the per-channel
// ceiling are enforced, in that order.
func (m *Manager) Admit(ctx context.Context, req AdmitRequest) (*Session, error) {
	maxStreams := m.settings.GetInt(ctx, "streaming.maxConcurrentStreams", defaultMaxConcurrent)
	if maxStreams < 1 {
		maxStreams = 1
	}
	clientKey := req.Fingerprint + "|" + req.idKey()
	channelKey := req.ChannelID.String()

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil, ErrDraining
	}
	old := m.byClientStream[clientKey]
	if old != nil {
		m.removeLocked(old)
	}
	m.mu.Unlock()

	if old != nil {
		reason := models.EndReasonClientReconnect
		if isPlexClient(req.UserAgent) {
			reason = models.EndReasonPlexReconnect
		}
		m.finishSession(old, reason, "")
	}

	now := m.now()
	sess := &Session{
		StreamID:      req.StreamID,
		ChannelID:     req.ChannelID,
		ChannelName:   req.ChannelName,
		ChannelNumber: req.ChannelNumber,
		SourceURL:     req.SourceURL,
		Kind:          req.Kind,
		ClientAddress: req.ClientAddress,
		Fingerprint:   req.Fingerprint,
		UserAgent:     req.UserAgent,
		StartedAt:     now,
		clientKey:     clientKey,
		channelKey:    channelKey,
		now:           m.now,
		phase:         PhaseInitializing,
		lastActivity:  now,
	}

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil, ErrDraining
	}
	if len(m.active) >= maxStreams {
		m.mu.Unlock()
		metrics.AdmissionRejected.WithLabelValues("capacity").Inc()
		return nil, ErrAtCapacity
	}
	if m.channelCount[channelKey] >= m.channelLimit {
		m.mu.Unlock()
		metrics.AdmissionRejected.WithLabelValues("channel_limit").Inc()
		return nil, ErrChannelLimit
	}
	sess.ID = fmt.Sprintf("%s_%s_%d", req.idKey(), req.Fingerprint, now.UnixMilli())
	m.active[sess.ID] = sess
	m.byClientStream[clientKey] = sess
	m.channelCount[channelKey]++
	if len(m.active) > m.peakConcurrent {
		m.peakConcurrent = len(m.active)
	}
	metrics.SessionsActive.Set(float64(len(m.active)))
	m.mu.Unlock()

	row := &models.StreamSession{
		SessionID:         sess.ID,
		StreamID:          ulidPtr(req.StreamID),
		ChannelID:         ulidPtr(req.ChannelID),
		ChannelName:       req.ChannelName,
		ChannelNumber:     req.ChannelNumber,
		SourceURL:         req.SourceURL,
		ClientAddress:     req.ClientAddress,
		ClientFingerprint: req.Fingerprint,
		UserAgent:         req.UserAgent,
		StartedAt:         now,
		LastUpdateAt:      now,
		Status:            models.SessionStatusActive,
	}
	if err := m.history.Create(ctx, row); err != nil {
		m.log.Warn("failed to persist session start",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
	} else {
		sess.mu.Lock()
		sess.row = row
		sess.mu.Unlock()
	}

	metrics.SessionsStarted.WithLabelValues(string(req.Kind)).Inc()
	m.events.Publish(events.RoomStreams, events.TypeSessionStarted, sess.Snapshot())
	m.log.Info("session started",
		slog.String("session_id", sess.ID),
		slog.String("channel", req.ChannelName),
		slog.Int("channel_number", req.ChannelNumber),
		slog.String("client", req.ClientAddress),
		slog.String("kind", string(req.Kind)))
	return sess, nil
}

// End terminates a session by id. Returns false if the session is not
// active (already ended or unknown).
func (m *Manager) End(sessionID string, reason models.EndReason, message string) bool {
	m.mu.Lock()
	sess, ok := m.active[sessionID]
	if ok {
		m.removeLocked(sess)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.finishSession(sess, reason, message)
	return true
}

// EndClientSessions terminates every active session held by a client
// fingerprint and returns the count ended.
func (m *Manager) EndClientSessions(fingerprint string, reason models.EndReason) int {
	m.mu.Lock()
	var victims []*Session
	for _, s := range m.active {
		if s.Fingerprint == fingerprint {
			victims = append(victims, s)
		}
	}
	for _, s := range victims {
		m.removeLocked(s)
	}
	m.mu.Unlock()

	for _, s := range victims {
		m.finishSession(s, reason, "")
	}
	return len(victims)
}

// removeLocked drops a session from all maps. Caller holds m.mu.
func (m *Manager) removeLocked(s *Session) {
	if _, ok := m.active[s.ID]; !ok {
		return
	}
	delete(m.active, s.ID)
	if cur := m.byClientStream[s.clientKey]; cur == s {
		delete(m.byClientStream, s.clientKey)
	}
	if c := m.channelCount[s.channelKey]; c <= 1 {
		delete(m.channelCount, s.channelKey)
	} else {
		m.channelCount[s.channelKey] = c - 1
	}
	metrics.SessionsActive.Set(float64(len(m.active)))
}

// finishSession completes the terminal transition: final history row,
// metrics, event, log. Safe to call for already-ended sessions.
func (m *Manager) finishSession(s *Session, reason models.EndReason, message string) {
	if !s.finish(reason, message) {
		return
	}

	snap := s.Snapshot()
	m.endedCount.Add(1)
	m.endedBytes.Add(snap.BytesTransferred)
	metrics.SessionsEnded.WithLabelValues(string(reason)).Inc()
	metrics.SessionDuration.Observe(m.now().Sub(s.StartedAt).Seconds())

	s.syncRow()
	s.mu.Lock()
	row := s.row
	s.mu.Unlock()
	if row != nil {
		row.End(reason, message)
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := m.history.Update(ctx, row); err != nil {
			m.log.Warn("failed to persist session end",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()))
		}
		cancel()
	}

	m.events.Publish(events.RoomStreams, events.TypeSessionEnded, snap)
	m.log.Info("session ended",
		slog.String("session_id", s.ID),
		slog.String("reason", string(reason)),
		slog.String("duration", snap.Duration),
		slog.String("bytes", snap.BytesHuman),
		slog.Int("errors", snap.ErrorCount))
}

// ActiveFor returns the live session a client holds on a stream, if any.
func (m *Manager) ActiveFor(fingerprint string, streamID, channelID models.ULID) (*Session, bool) {
	idKey := channelID.String()
	if !streamID.IsZero() {
		idKey = streamID.String()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byClientStream[fingerprint+"|"+idKey]
	return s, ok
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// snapshotSessions copies the live session pointers for lock-free iteration.
func (m *Manager) snapshotSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		out = append(out, s)
	}
	return out
}

// Active returns snapshots of all live sessions, oldest first.
func (m *Manager) Active() []Snapshot {
	sessions := m.snapshotSessions()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	snaps := make([]Snapshot, len(sessions))
	for i, s := range sessions {
		snaps[i] = s.Snapshot()
	}
	return snaps
}

// Capacity describes utilization against the configured global ceiling.
type Capacity struct {
	TotalActiveStreams    int     `json:"totalActiveStreams"`
	MaxConcurrentStreams  int     `json:"maxConcurrentStreams"`
	AvailableStreams      int     `json:"availableStreams"`
	UtilizationPercentage float64 `json:"utilizationPercentage"`
	Status                string  `json:"status"`
}

// Capacity reports current utilization. Status is normal up to 70%,
// warning up to 90%, critical above.
func (m *Manager) Capacity(ctx context.Context) Capacity {
	maxStreams := m.settings.GetInt(ctx, "streaming.maxConcurrentStreams", defaultMaxConcurrent)
	if maxStreams < 1 {
		maxStreams = 1
	}
	active := m.Count()
	util := float64(active) / float64(maxStreams) * 100
	status := "normal"
	switch {
	case util > 90:
		status = "critical"
	case util > 70:
		status = "warning"
	}
	avail := maxStreams - active
	if avail < 0 {
		avail = 0
	}
	return Capacity{
		TotalActiveStreams:    active,
		MaxConcurrentStreams:  maxStreams,
		AvailableStreams:      avail,
		UtilizationPercentage: math.Round(util*10) / 10,
		Status:                status,
	}
}

// SessionBandwidth is one session's rolling metrics in a bandwidth report.
type SessionBandwidth struct {
	SessionID        string `json:"sessionId"`
	ChannelName      string `json:"channelName"`
	CurrentBitrate   int64  `json:"currentBitrate"`
	AverageBitrate   int64  `json:"averageBitrate"`
	PeakBitrate      int64  `json:"peakBitrate"`
	BytesTransferred int64  `json:"bytesTransferred"`
}

// BandwidthStats aggregates rolling bandwidth across active sessions.
type BandwidthStats struct {
	TotalBitrate      int64              `json:"totalBitrate"`
	TotalBitrateHuman string             `json:"totalBitrateHuman"`
	SessionCount      int                `json:"sessionCount"`
	Sessions          []SessionBandwidth `json:"sessions"`
	Timestamp         time.Time          `json:"timestamp"`
}

// Bandwidth returns the rolling bandwidth report for all active sessions.
func (m *Manager) Bandwidth() BandwidthStats {
	snaps := m.Active()
	stats := BandwidthStats{
		SessionCount: len(snaps),
		Sessions:     make([]SessionBandwidth, 0, len(snaps)),
		Timestamp:    m.now().UTC(),
	}
	for _, s := range snaps {
		stats.TotalBitrate += s.CurrentBitrate
		stats.Sessions = append(stats.Sessions, SessionBandwidth{
			SessionID:        s.SessionID,
			ChannelName:      s.ChannelName,
			CurrentBitrate:   s.CurrentBitrate,
			AverageBitrate:   s.AverageBitrate,
			PeakBitrate:      s.PeakBitrate,
			BytesTransferred: s.BytesTransferred,
		})
	}
	stats.TotalBitrateHuman = format.Bitrate(stats.TotalBitrate)
	return stats
}

// Summary is the lifetime roll-up across active and ended sessions.
type Summary struct {
	ActiveSessions        int    `json:"activeSessions"`
	PeakConcurrent        int    `json:"peakConcurrentSessions"`
	TotalSessions         int64  `json:"totalSessions"`
	TotalBytesTransferred int64  `json:"totalBytesTransferred"`
	TotalBytesHuman       string `json:"totalBytesTransferredHuman"`
}

// Summary returns lifetime totals since process start.
func (m *Manager) Summary() Summary {
	m.mu.RLock()
	active := len(m.active)
	peak := m.peakConcurrent
	var liveBytes int64
	for _, s := range m.active {
		s.mu.Lock()
		liveBytes += s.bytes
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	total := m.endedBytes.Load() + liveBytes
	return Summary{
		ActiveSessions:        active,
		PeakConcurrent:        peak,
		TotalSessions:         m.endedCount.Load() + int64(active),
		TotalBytesTransferred: total,
		TotalBytesHuman:       format.Bytes(total),
	}
}

// ActiveReport is the combined dashboard payload.
type ActiveReport struct {
	Sessions  []Snapshot     `json:"sessions"`
	Capacity  Capacity       `json:"capacity"`
	Bandwidth BandwidthStats `json:"bandwidth"`
	Summary   Summary        `json:"summary"`
}

// Report builds the combined dashboard payload.
func (m *Manager) Report(ctx context.Context) ActiveReport {
	return ActiveReport{
		Sessions:  m.Active(),
		Capacity:  m.Capacity(ctx),
		Bandwidth: m.Bandwidth(),
		Summary:   m.Summary(),
	}
}

// History returns recent session rows, newest first.
func (m *Manager) History(ctx context.Context, limit, offset int) ([]*models.StreamSession, error) {
	return m.history.GetRecent(ctx, limit, offset)
}

// CleanupIdle ends sessions whose last activity is older than maxIdle with
// reason cleanup_stale. Returns the count ended.
func (m *Manager) CleanupIdle(maxIdle time.Duration) int {
	now := m.now()
	ended := 0
	for _, s := range m.snapshotSessions() {
		if s.idleFor(now) > maxIdle {
			if m.End(s.ID, models.EndReasonCleanupStale, "idle past cleanup threshold") {
				ended++
			}
		}
	}
	return ended
}

// Start recovers orphaned history rows and launches the background loops:
// a per-second inactivity scan, a five-minute age sweep, and a two-second
// dashboard broadcast.
func (m *Manager) Start(ctx context.Context) {
	if n, err := m.history.EndActive(ctx, models.EndReasonShutdown, "closed at startup after unclean shutdown"); err != nil {
		m.log.Warn("failed to close orphaned sessions", slog.String("error", err.Error()))
	} else if n > 0 {
		m.log.Info("closed orphaned sessions from previous run", slog.Int64("count", n))
	}

	m.wg.Add(1)
	go m.run()
}

func (m *Manager) run() {
	defer m.wg.Done()

	timeoutTicker := time.NewTicker(timeoutScanInterval)
	defer timeoutTicker.Stop()
	staleTicker := time.NewTicker(staleSweepInterval)
	defer staleTicker.Stop()
	broadcastTicker := time.NewTicker(broadcastInterval)
	defer broadcastTicker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-timeoutTicker.C:
			m.reapIdle()
		case <-staleTicker.C:
			m.reapStale()
		case <-broadcastTicker.C:
			m.broadcast()
		}
	}
}

// reapIdle ends sessions that moved no bytes for the configured inactivity
// window.
func (m *Manager) reapIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), timeoutScanInterval)
	timeout := m.settings.GetDuration(ctx, "streaming.streamTimeout", time.Millisecond, defaultStreamTimeout)
	cancel()
	if timeout <= 0 {
		return
	}
	now := m.now()
	for _, s := range m.snapshotSessions() {
		if s.idleFor(now) > timeout {
			m.End(s.ID, models.EndReasonTimeout, fmt.Sprintf("no data for %s", timeout))
		}
	}
}

// reapStale ends sessions that outlived the hard age limit.
func (m *Manager) reapStale() {
	now := m.now()
	for _, s := range m.snapshotSessions() {
		if now.Sub(s.StartedAt) > StaleSessionAge {
			m.End(s.ID, models.EndReasonStale, "exceeded maximum session age")
		}
	}
}

// broadcast pushes the periodic dashboard refresh onto the event bus.
func (m *Manager) broadcast() {
	ctx, cancel := context.WithTimeout(context.Background(), broadcastInterval)
	defer cancel()

	report := m.Report(ctx)
	m.events.Publish(events.RoomMetrics, events.TypeMonitoring, report)
	if len(report.Sessions) > 0 {
		m.events.Publish(events.RoomStreams, events.TypeBandwidth, report.Bandwidth)
	}
}

// Shutdown stops accepting sessions, ends all active ones with reason
// shutdown, and waits for the background loops up to the context deadline.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.draining = true
	victims := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		victims = append(victims, s)
	}
	for _, s := range victims {
		m.removeLocked(s)
	}
	m.mu.Unlock()

	for _, s := range victims {
		m.finishSession(s, models.EndReasonShutdown, "")
	}

	m.stopOnce.Do(func() { close(m.stop) })
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func ulidPtr(u models.ULID) *models.ULID {
	if u.IsZero() {
		return nil
	}
	return &u
}
