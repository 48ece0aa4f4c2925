package models

import (
	"gorm.io/gorm"
)

// EpgChannel represents a guide channel identifier advertised by an EPG
// source. Channels link to guide data through Channel.EpgID → EpgID.
type EpgChannel struct {
	BaseModel

	// SourceID is the foreign key to the parent EpgSource.
	SourceID ULID `gorm:"type:varchar(26);not null;index:idx_epg_channel_source,unique" json:"source_id"`

	// EpgID is the guide channel identifier (XMLTV channel id).
	EpgID string `gorm:"not null;size:255;index:idx_epg_channel_source,unique;index" json:"epg_id"`

	// DisplayName is the name advertised by the feed.
	DisplayName string `gorm:"not null;size:512;index" json:"display_name"`

	// IconURL is an optional channel icon from the feed.
	IconURL string `gorm:"size:2048" json:"icon_url,omitempty"`

	// Source is the relationship back to the parent EpgSource.
	Source *EpgSource `gorm:"foreignKey:SourceID" json:"source,omitempty"`
}

// TableName returns the table name for EpgChannel.
func (EpgChannel) TableName() string {
	return "epg_channels"
}

// Validate performs basic validation on the EPG channel.
func (c *EpgChannel) Validate() error {
	if c.SourceID.IsZero() {
		return ErrSourceIDRequired
	}
	if c.EpgID == "" {
		return ErrEpgIDRequired
	}
	if c.DisplayName == "" {
		return ErrNameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the channel and generates ULID.
func (c *EpgChannel) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}

// BeforeUpdate is a GORM hook that validates the channel before update.
func (c *EpgChannel) BeforeUpdate(tx *gorm.DB) error {
	return c.Validate()
}
