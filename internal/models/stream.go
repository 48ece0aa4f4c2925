package models

import (
	"net/url"
	"strings"

	"gorm.io/gorm"
)

// StreamKind identifies the declared protocol/container of a stream source.
type StreamKind string

// Supported stream kinds.
const (
	StreamKindHLS  StreamKind = "hls"
	StreamKindDASH StreamKind = "dash"
	StreamKindRTSP StreamKind = "rtsp"
	StreamKindRTMP StreamKind = "rtmp"
	StreamKindUDP  StreamKind = "udp"
	StreamKindHTTP StreamKind = "http"
	StreamKindMMS  StreamKind = "mms"
	StreamKindSRT  StreamKind = "srt"
	StreamKindTS   StreamKind = "ts"
)

// AllStreamKinds lists every supported stream kind.
var AllStreamKinds = []StreamKind{
	StreamKindHLS, StreamKindDASH, StreamKindRTSP, StreamKindRTMP,
	StreamKindUDP, StreamKindHTTP, StreamKindMMS, StreamKindSRT, StreamKindTS,
}

// IsValid reports whether the kind is in the supported set.
func (k StreamKind) IsValid() bool {
	for _, valid := range AllStreamKinds {
		if k == valid {
			return true
		}
	}
	return false
}

// ParseStreamKind normalizes a string to a StreamKind.
func ParseStreamKind(s string) (StreamKind, bool) {
	k := StreamKind(strings.ToLower(strings.TrimSpace(s)))
	if k.IsValid() {
		return k, true
	}
	return "", false
}

// StringSlice stores a string slice as a JSON text column.
type StringSlice []string

// StringMap stores a string map as a JSON text column.
type StringMap map[string]string

// Stream represents a concrete playable source bound to a Channel.
type Stream struct {
	BaseModel

	// ChannelID is the foreign key to the owning Channel.
	ChannelID ULID `gorm:"type:varchar(26);not null;index" json:"channel_id"`

	// Name is the display name of this source.
	Name string `gorm:"not null;size:512" json:"name"`

	// URL is the upstream source URL.
	URL string `gorm:"not null;size:4096" json:"url"`

	// Kind is the declared stream protocol/container.
	Kind StreamKind `gorm:"not null;size:20;default:'http'" json:"kind"`

	// BackupURLs are tried in order when the primary URL fails.
	BackupURLs StringSlice `gorm:"type:text;serializer:json" json:"backup_urls,omitempty"`

	// AuthUsername and AuthPassword carry optional HTTP Basic credentials
	// for the upstream provider.
	AuthUsername string `gorm:"size:255" json:"auth_username,omitempty"`
	AuthPassword string `gorm:"size:255" json:"auth_password,omitempty" masq:"secret"`

	// Headers are additional HTTP request headers sent upstream.
	Headers StringMap `gorm:"type:text;serializer:json" json:"headers,omitempty"`

	// Options carries protocol-specific tuning (e.g. rtsp transport).
	Options StringMap `gorm:"type:text;serializer:json" json:"options,omitempty"`

	// Enabled controls whether this stream is eligible for playback.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// ConnectionLimited marks providers that reject concurrent probing;
	// playback then starts with keep-alive padding while the source URL
	// is resolved in the background.
	ConnectionLimited bool `gorm:"default:false" json:"connection_limited"`

	// Channel is the relationship back to the owning Channel.
	Channel *Channel `gorm:"foreignKey:ChannelID" json:"channel,omitempty"`
}

// TableName returns the table name for Stream.
func (Stream) TableName() string {
	return "streams"
}

// GetChannelID returns the owning channel ID.
func (s *Stream) GetChannelID() ULID {
	return s.ChannelID
}

// IsEnabled reports whether this stream is eligible for playback.
func (s *Stream) IsEnabled() bool {
	return BoolVal(s.Enabled)
}

// Validate performs basic validation on the stream.
func (s *Stream) Validate() error {
	if s.ChannelID.IsZero() {
		return ErrChannelIDRequired
	}
	if s.Name == "" {
		return ErrNameRequired
	}
	if s.URL == "" {
		return ErrStreamURLRequired
	}
	if u, err := url.Parse(s.URL); err != nil || !u.IsAbs() {
		return ErrInvalidURL
	}
	if !s.Kind.IsValid() {
		return ErrInvalidStreamKind
	}
	for _, backup := range s.BackupURLs {
		if u, err := url.Parse(backup); err != nil || !u.IsAbs() {
			return ErrInvalidURL
		}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the stream and generates ULID.
func (s *Stream) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the stream before update.
func (s *Stream) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
