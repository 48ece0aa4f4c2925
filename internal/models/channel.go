package models

import (
	"gorm.io/gorm"
)

// Channel number bounds accepted by validation.
const (
	MinChannelNumber = 1
	MaxChannelNumber = 9999
)

// Channel represents a logical TV position exposed to tuner clients.
// Each channel owns an ordered set of playable streams; the first enabled
// stream is the primary source, the rest act as fallbacks.
type Channel struct {
	BaseModel

	// Name is the display name shown in lineups and guides.
	Name string `gorm:"not null;size:512" json:"name"`

	// Number is the tuner channel number. Unique among non-deleted channels.
	Number int `gorm:"not null;index" json:"number"`

	// Enabled controls whether the channel appears in the lineup.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// LogoURL is an optional URL to the channel logo.
	LogoURL string `gorm:"size:2048" json:"logo_url,omitempty"`

	// GroupTitle is an optional category used for grouping in playlists.
	GroupTitle string `gorm:"size:255;index" json:"group_title,omitempty"`

	// EpgID is the guide association key (matches EpgChannel.EpgID).
	EpgID string `gorm:"size:255;index" json:"epg_id,omitempty"`

	// Streams are the playable sources bound to this channel.
	// Deleting the channel cascades to them.
	Streams []Stream `gorm:"foreignKey:ChannelID;constraint:OnDelete:CASCADE" json:"streams,omitempty"`
}

// TableName returns the table name for Channel.
func (Channel) TableName() string {
	return "channels"
}

// IsEnabled reports whether the channel is visible in the lineup.
func (c *Channel) IsEnabled() bool {
	return BoolVal(c.Enabled)
}

// Validate performs basic validation on the channel.
func (c *Channel) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	if c.Number < MinChannelNumber || c.Number > MaxChannelNumber {
		return ErrChannelNumberRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the channel and generates ULID.
func (c *Channel) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}

// BeforeUpdate is a GORM hook that validates the channel before update.
func (c *Channel) BeforeUpdate(tx *gorm.DB) error {
	return c.Validate()
}
