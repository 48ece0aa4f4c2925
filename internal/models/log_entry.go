package models

import (
	"time"

	"gorm.io/gorm"
)

// LogEntry is a persisted log record captured by the database log sink.
type LogEntry struct {
	BaseModel

	// Timestamp is when the record was emitted (distinct from CreatedAt,
	// which is when the row was flushed).
	Timestamp time.Time `gorm:"not null;index:idx_logs_level_time,priority:2" json:"timestamp"`

	// Level is the log level (INFO, WARN, ERROR).
	Level string `gorm:"not null;size:20;index:idx_logs_level_time,priority:1" json:"level"`

	// Component identifies the emitting subsystem.
	Component string `gorm:"size:100;index" json:"component,omitempty"`

	// Message is the log message.
	Message string `gorm:"not null;type:text" json:"message"`

	// Fields carries remaining attributes as a JSON object.
	Fields string `gorm:"type:text" json:"fields,omitempty"`
}

// TableName returns the table name for LogEntry.
func (LogEntry) TableName() string {
	return "logs"
}

// Validate performs basic validation on the log entry.
func (l *LogEntry) Validate() error {
	if l.Level == "" {
		return ErrLevelRequired
	}
	if l.Message == "" {
		return ErrMessageRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the entry and generates ULID.
func (l *LogEntry) BeforeCreate(tx *gorm.DB) error {
	if err := l.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now()
	}
	return l.Validate()
}
