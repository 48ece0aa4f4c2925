package models

import (
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"
)

// EpgSourceStatus represents the freshness of an EPG source.
type EpgSourceStatus string

const (
	// EpgSourceStatusPending indicates the source has no data yet.
	EpgSourceStatusPending EpgSourceStatus = "pending"
	// EpgSourceStatusSuccess indicates the last refresh was successful.
	EpgSourceStatusSuccess EpgSourceStatus = "success"
	// EpgSourceStatusFailed indicates the last refresh failed.
	EpgSourceStatusFailed EpgSourceStatus = "failed"
)

// EpgSource represents a registered XMLTV schedule feed. Guide data flows
// into epg_channels and epg_programs; the core consumes it read-only
// through the guide resolver.
type EpgSource struct {
	BaseModel

	// Name is a user-friendly name for the source.
	// Must be unique across all EPG sources.
	Name string `gorm:"uniqueIndex;not null;size:255" json:"name"`

	// URL is the XMLTV feed URL.
	URL string `gorm:"not null;size:2048" json:"url"`

	// UserAgent to use when fetching the source (optional).
	UserAgent string `gorm:"size:512" json:"user_agent,omitempty"`

	// Enabled indicates whether this source contributes guide data.
	Enabled bool `gorm:"default:true" json:"enabled"`

	// Priority determines the order when programs from multiple sources
	// cover the same guide channel. Lower wins.
	Priority int `gorm:"default:0" json:"priority"`

	// Status indicates the current refresh state.
	Status EpgSourceStatus `gorm:"not null;default:'pending';size:20" json:"status"`

	// LastRefreshAt is the timestamp of the last successful refresh.
	LastRefreshAt *time.Time `json:"last_refresh_at,omitempty"`

	// LastError contains the error message from the last failed refresh.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// ProgramCount is the number of programs from the last refresh.
	ProgramCount int `gorm:"default:0" json:"program_count"`
}

// TableName returns the table name for EpgSource.
func (EpgSource) TableName() string {
	return "epg_sources"
}

// MarkSuccess records a successful refresh with the program count.
func (s *EpgSource) MarkSuccess(programCount int) {
	s.Status = EpgSourceStatusSuccess
	now := Now()
	s.LastRefreshAt = &now
	s.ProgramCount = programCount
	s.LastError = ""
}

// MarkFailed records a failed refresh with an error message.
func (s *EpgSource) MarkFailed(err error) {
	s.Status = EpgSourceStatusFailed
	if err != nil {
		s.LastError = err.Error()
	}
}

// Sanitize trims whitespace from user-provided fields.
func (s *EpgSource) Sanitize() {
	s.Name = strings.TrimSpace(s.Name)
	s.URL = strings.TrimSpace(s.URL)
	s.UserAgent = strings.TrimSpace(s.UserAgent)
}

// Validate performs basic validation on the EPG source.
func (s *EpgSource) Validate() error {
	// Sanitize inputs first
	s.Sanitize()

	if s.Name == "" {
		return ErrNameRequired
	}
	if s.URL == "" {
		return ErrURLRequired
	}
	// Validate URL format
	if _, err := url.Parse(s.URL); err != nil {
		return ErrInvalidURL
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the source and generates ULID.
func (s *EpgSource) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the source before update.
func (s *EpgSource) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
