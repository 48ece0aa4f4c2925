package stream

import (
	"context"
	"sync"
	"time"

	"github.com/plexbridge/plexbridge/internal/ffmpeg"
	"github.com/plexbridge/plexbridge/internal/metrics"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/pkg/format"
)

// Phase is the startup stage a session is in. Progressive sessions walk the
// full sequence; plain transcode sessions jump straight to streaming.
type Phase string

const (
	PhaseInitializing   Phase = "initializing"
	PhaseResolving      Phase = "resolving"
	PhaseStreamResolved Phase = "stream_resolved"
	PhaseStartingFFmpeg Phase = "starting_ffmpeg"
	PhaseStreaming      Phase = "streaming"
	PhaseCompleted      Phase = "completed"
	PhaseError          Phase = "error"
)

// Session is the live state of one client playback. The manager owns the
// session maps; the serving goroutine feeds byte and error counts in through
// the methods here. All reads by other goroutines go through Snapshot.
type Session struct {
	// Identity, fixed at admission.
	ID            string
	StreamID      models.ULID
	ChannelID     models.ULID
	ChannelName   string
	ChannelNumber int
	SourceURL     string
	Kind          models.StreamKind
	ClientAddress string
	Fingerprint   string
	UserAgent     string
	StartedAt     time.Time

	clientKey  string
	channelKey string

	now func() time.Time

	mu           sync.Mutex
	phase        Phase
	lastActivity time.Time
	bytes        int64
	sampleStart  time.Time
	sampleBytes  int64
	currentBps   int64
	errorCount   int
	videoCodec   string
	audioCodec   string
	cancel       context.CancelFunc
	encoder      *ffmpeg.Encoder
	ended        bool
	endReason    models.EndReason
	errorMessage string

	bw  bandwidthWindow
	row *models.StreamSession
}

// RecordBytes accounts bytes delivered to the client. Resets the inactivity
// clock and feeds the bandwidth ring once at least bitrateMinInterval has
// elapsed since the current accumulation window opened.
func (s *Session) RecordBytes(n int) {
	if n <= 0 {
		return
	}
	now := s.now()

	s.mu.Lock()
	s.bytes += int64(n)
	s.lastActivity = now
	s.sampleBytes += int64(n)
	if s.sampleStart.IsZero() {
		s.sampleStart = now
	} else if dt := now.Sub(s.sampleStart); dt >= bitrateMinInterval {
		bps := s.sampleBytes * 8 * int64(time.Second) / int64(dt)
		s.currentBps = bps
		s.bw.record(now, bps)
		s.sampleBytes = 0
		s.sampleStart = now
	}
	s.mu.Unlock()

	metrics.BytesTransferred.Add(float64(n))
}

// RecordError bumps the session error counter.
func (s *Session) RecordError() {
	s.mu.Lock()
	s.errorCount++
	s.mu.Unlock()
}

// SetCodecs records the codecs detected from the delivered stream.
func (s *Session) SetCodecs(video, audio string) {
	s.mu.Lock()
	if video != "" {
		s.videoCodec = video
	}
	if audio != "" {
		s.audioCodec = audio
	}
	s.mu.Unlock()
}

// SetPhase advances the startup phase. Ended sessions keep their terminal
// phase.
func (s *Session) SetPhase(p Phase) {
	s.mu.Lock()
	if !s.ended {
		s.phase = p
	}
	s.mu.Unlock()
}

// Phase returns the current startup phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Ended reports whether the session has reached a terminal state.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// attachCancel registers the cancel function that tears the serving
// goroutine down when the session ends from outside.
func (s *Session) attachCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// attachEncoder registers the child process so an external end can stop it.
func (s *Session) attachEncoder(enc *ffmpeg.Encoder) {
	s.mu.Lock()
	s.encoder = enc
	s.mu.Unlock()
}

// idleFor returns how long ago bytes last moved. Sessions that never moved
// a byte idle from their start time.
func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.lastActivity
	if last.IsZero() {
		last = s.StartedAt
	}
	return now.Sub(last)
}

// finish transitions the session to its terminal state exactly once and
// triggers teardown of the serving goroutine and encoder. Returns false if
// the session already ended.
func (s *Session) finish(reason models.EndReason, message string) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.ended = true
	s.endReason = reason
	s.errorMessage = message
	if models.ErrorReasons[reason] {
		s.phase = PhaseError
	} else {
		s.phase = PhaseCompleted
	}
	cancel := s.cancel
	encoder := s.encoder
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if encoder != nil {
		// Stop blocks for up to the kill grace period.
		go func() { _ = encoder.Stop() }()
	}
	return true
}

// syncRow copies live counters into the persisted history row.
func (s *Session) syncRow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.row == nil {
		return
	}
	now := s.now()
	avg, peak := s.bw.stats(now)
	s.row.BytesTransferred = s.bytes
	s.row.CurrentBitrate = s.currentBps
	s.row.AverageBitrate = avg
	s.row.PeakBitrate = peak
	s.row.ErrorCount = s.errorCount
	s.row.VideoCodec = s.videoCodec
	s.row.AudioCodec = s.audioCodec
	if !s.lastActivity.IsZero() {
		s.row.LastUpdateAt = s.lastActivity
	}
}

// Snapshot is an immutable copy of session state for APIs and events.
type Snapshot struct {
	SessionID         string           `json:"sessionId"`
	StreamID          string           `json:"streamId,omitempty"`
	ChannelID         string           `json:"channelId,omitempty"`
	ChannelName       string           `json:"channelName"`
	ChannelNumber     int              `json:"channelNumber"`
	ClientAddress     string           `json:"clientAddress"`
	ClientFingerprint string           `json:"clientFingerprint"`
	UserAgent         string           `json:"userAgent"`
	StartedAt         time.Time        `json:"startedAt"`
	Duration          string           `json:"duration"`
	DurationMs        int64            `json:"durationMs"`
	Phase             Phase            `json:"phase"`
	BytesTransferred  int64            `json:"bytesTransferred"`
	BytesHuman        string           `json:"bytesTransferredHuman"`
	CurrentBitrate    int64            `json:"currentBitrate"`
	AverageBitrate    int64            `json:"averageBitrate"`
	PeakBitrate       int64            `json:"peakBitrate"`
	CurrentBitrateStr string           `json:"currentBitrateHuman"`
	AverageBitrateStr string           `json:"averageBitrateHuman"`
	PeakBitrateStr    string           `json:"peakBitrateHuman"`
	ErrorCount        int              `json:"errorCount"`
	VideoCodec        string           `json:"videoCodec,omitempty"`
	AudioCodec        string           `json:"audioCodec,omitempty"`
	EndReason         models.EndReason `json:"endReason,omitempty"`
	ErrorMessage      string           `json:"errorMessage,omitempty"`

	// Encoder carries the child process resource sample for sessions that
	// run one; direct-proxy sessions have none.
	Encoder *ffmpeg.ProcessStats `json:"encoder,omitempty"`
}

// Snapshot captures the current session state.
func (s *Session) Snapshot() Snapshot {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	avg, peak := s.bw.stats(now)
	age := now.Sub(s.StartedAt)

	snap := Snapshot{
		SessionID:         s.ID,
		ChannelName:       s.ChannelName,
		ChannelNumber:     s.ChannelNumber,
		ClientAddress:     s.ClientAddress,
		ClientFingerprint: s.Fingerprint,
		UserAgent:         s.UserAgent,
		StartedAt:         s.StartedAt,
		Duration:          format.DurationShort(age),
		DurationMs:        age.Milliseconds(),
		Phase:             s.phase,
		BytesTransferred:  s.bytes,
		BytesHuman:        format.Bytes(s.bytes),
		CurrentBitrate:    s.currentBps,
		AverageBitrate:    avg,
		PeakBitrate:       peak,
		CurrentBitrateStr: format.Bitrate(s.currentBps),
		AverageBitrateStr: format.Bitrate(avg),
		PeakBitrateStr:    format.Bitrate(peak),
		ErrorCount:        s.errorCount,
		VideoCodec:        s.videoCodec,
		AudioCodec:        s.audioCodec,
	}
	if !s.StreamID.IsZero() {
		snap.StreamID = s.StreamID.String()
	}
	if !s.ChannelID.IsZero() {
		snap.ChannelID = s.ChannelID.String()
	}
	if s.ended {
		snap.EndReason = s.endReason
		snap.ErrorMessage = s.errorMessage
	}
	if s.encoder != nil {
		snap.Encoder = s.encoder.Stats()
	}
	return snap
}
