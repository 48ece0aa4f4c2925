package models

import (
	"time"

	"gorm.io/gorm"
)

// SessionStatus is the lifecycle state of a stream session.
type SessionStatus string

const (
	// SessionStatusActive indicates a session currently serving a client.
	SessionStatusActive SessionStatus = "active"
	// SessionStatusEnded indicates a session that terminated cleanly.
	SessionStatusEnded SessionStatus = "ended"
	// SessionStatusError indicates a session that terminated due to an error.
	SessionStatusError SessionStatus = "error"
)

// EndReason explains why a session terminated. Reasons are recorded on the
// session row and broadcast on the event bus.
type EndReason string

const (
	// EndReasonNormal is an orderly end of playback.
	EndReasonNormal EndReason = "normal"
	// EndReasonClientDisconnect means the client went away mid-stream.
	EndReasonClientDisconnect EndReason = "client_disconnect"
	// EndReasonTimeout means no bytes moved for the inactivity window.
	EndReasonTimeout EndReason = "timeout"
	// EndReasonStale marks sessions whose updates stopped arriving.
	EndReasonStale EndReason = "stale"
	// EndReasonManualTermination is an operator-initiated end.
	EndReasonManualTermination EndReason = "manual_termination"
	// EndReasonClientReconnect replaces a session when the same client
	// opens the same stream again.
	EndReasonClientReconnect EndReason = "client_reconnect"
	// EndReasonPlexReconnect is the client_reconnect variant for requests
	// identified as coming from a Plex product.
	EndReasonPlexReconnect EndReason = "plex_reconnect"
	// EndReasonEncoderError means the encoder process failed.
	EndReasonEncoderError EndReason = "ffmpeg_error"
	// EndReasonProcessClosed means the encoder exited on its own.
	EndReasonProcessClosed EndReason = "process_closed"
	// EndReasonForced is a hard stop that skips graceful encoder shutdown.
	EndReasonForced EndReason = "forced"
	// EndReasonCleanupStale is the periodic sweep ending sessions that
	// outlived the hard age limit.
	EndReasonCleanupStale EndReason = "cleanup_stale"
	// EndReasonShutdown ends all sessions during service shutdown.
	EndReasonShutdown EndReason = "shutdown"
)

// ErrorReasons lists end reasons that mark the session status as error.
var ErrorReasons = map[EndReason]bool{
	EndReasonEncoderError: true,
	EndReasonTimeout:      true,
	EndReasonStale:        true,
	EndReasonCleanupStale: true,
}

// StreamSession is the persisted record of one client-stream binding.
// Live state (bandwidth ring, encoder handle) is owned by the session
// manager; rows exist for history and crash recovery.
type StreamSession struct {
	BaseModel

	// SessionID is the public session identifier, formed as
	// {streamOrChannel}_{fingerprint}_{epochMillis}.
	SessionID string `gorm:"uniqueIndex;not null;size:255" json:"session_id"`

	// StreamID is the owning stream, when the session maps to a stored stream.
	StreamID *ULID `gorm:"type:varchar(26);index" json:"stream_id,omitempty"`

	// ChannelID is a snapshot of the owning channel.
	ChannelID *ULID `gorm:"type:varchar(26);index" json:"channel_id,omitempty"`

	// ChannelName and ChannelNumber snapshot lineup identity at start time.
	ChannelName   string `gorm:"size:512" json:"channel_name,omitempty"`
	ChannelNumber int    `gorm:"default:0" json:"channel_number,omitempty"`

	// SourceURL snapshots the upstream URL served to this session.
	SourceURL string `gorm:"size:4096" json:"source_url,omitempty"`

	// ClientAddress is the remote address of the client connection.
	ClientAddress string `gorm:"size:100;index" json:"client_address"`

	// ClientFingerprint is the stable identity derived from address,
	// forwarded-for, and user-agent.
	ClientFingerprint string `gorm:"size:32;index" json:"client_fingerprint"`

	// UserAgent is the client's User-Agent header.
	UserAgent string `gorm:"size:1024" json:"user_agent,omitempty"`

	// StartedAt is when the session was admitted.
	StartedAt time.Time `gorm:"not null;index" json:"started_at"`

	// LastUpdateAt is the last time bytes moved or state changed.
	LastUpdateAt time.Time `gorm:"not null" json:"last_update_at"`

	// EndedAt is when the session ended, if it has.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// BytesTransferred is the total bytes sent to the client. Monotonic.
	BytesTransferred int64 `gorm:"default:0" json:"bytes_transferred"`

	// CurrentBitrate, AverageBitrate, and PeakBitrate are bits/sec
	// snapshots taken from the live bandwidth ring.
	CurrentBitrate int64 `gorm:"default:0" json:"current_bitrate"`
	AverageBitrate int64 `gorm:"default:0" json:"average_bitrate"`
	PeakBitrate    int64 `gorm:"default:0" json:"peak_bitrate"`

	// ErrorCount is the number of encoder stderr error lines observed.
	ErrorCount int `gorm:"default:0" json:"error_count"`

	// VideoCodec and AudioCodec are filled by the first-chunk probe.
	VideoCodec string `gorm:"size:50" json:"video_codec,omitempty"`
	AudioCodec string `gorm:"size:50" json:"audio_codec,omitempty"`

	// Status is the lifecycle state.
	Status SessionStatus `gorm:"not null;default:'active';size:20;index" json:"status"`

	// EndReason explains termination when Status is not active.
	EndReason EndReason `gorm:"size:50" json:"end_reason,omitempty"`

	// ErrorMessage carries detail for error terminations.
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`
}

// TableName returns the table name for StreamSession.
func (StreamSession) TableName() string {
	return "stream_sessions"
}

// IsActive reports whether the session is still serving a client.
func (s *StreamSession) IsActive() bool {
	return s.Status == SessionStatusActive
}

// Duration returns how long the session has run (or ran).
func (s *StreamSession) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// End marks the session terminated with the given reason. The status
// becomes error for failure reasons and ended otherwise.
func (s *StreamSession) End(reason EndReason, errorMessage string) {
	now := time.Now()
	s.EndedAt = &now
	s.LastUpdateAt = now
	s.EndReason = reason
	s.ErrorMessage = errorMessage
	if ErrorReasons[reason] || errorMessage != "" {
		s.Status = SessionStatusError
	} else {
		s.Status = SessionStatusEnded
	}
}

// Validate performs basic validation on the session.
func (s *StreamSession) Validate() error {
	if s.SessionID == "" {
		return ErrSessionIDRequired
	}
	if s.ClientAddress == "" {
		return ErrValidation{Field: "client_address", Message: "required"}
	}
	if s.StartedAt.IsZero() {
		return ErrStartTimeRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the session and generates ULID.
func (s *StreamSession) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if s.LastUpdateAt.IsZero() {
		s.LastUpdateAt = s.StartedAt
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the session before update.
func (s *StreamSession) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
