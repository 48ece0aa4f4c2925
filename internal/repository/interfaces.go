// Package repository defines data access interfaces for plexbridge entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/plexbridge/plexbridge/internal/models"
)

// FieldValueResult represents a distinct field value with its occurrence count.
type FieldValueResult struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// LogQuery filters persisted log entries. Zero-valued fields are ignored.
type LogQuery struct {
	// Level filters by exact level (INFO, WARN, ERROR).
	Level string
	// Component filters by emitting subsystem.
	Component string
	// Search matches a case-insensitive substring of the message.
	Search string
	// Since and Until bound the entry timestamp (inclusive / exclusive).
	Since time.Time
	Until time.Time
	// Offset and Limit page the result, newest entries first.
	// A Limit of 0 falls back to a server-chosen default.
	Offset int
	Limit  int
}

// ChannelRepository defines operations for channel persistence.
type ChannelRepository interface {
	// Create creates a new channel. Returns models.ErrChannelNumberTaken
	// when the channel number is already in use.
	Create(ctx context.Context, channel *models.Channel) error
	// CreateBatch creates multiple channels in a single batch.
	CreateBatch(ctx context.Context, channels []*models.Channel) error
	// GetByID retrieves a channel by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Channel, error)
	// GetByIDWithStreams retrieves a channel with its streams preloaded.
	GetByIDWithStreams(ctx context.Context, id models.ULID) (*models.Channel, error)
	// GetByNumber retrieves a channel by its lineup number.
	GetByNumber(ctx context.Context, number int) (*models.Channel, error)
	// GetAll retrieves all channels ordered by number.
	GetAll(ctx context.Context) ([]*models.Channel, error)
	// GetEnabled retrieves all enabled channels ordered by number.
	GetEnabled(ctx context.Context) ([]*models.Channel, error)
	// GetEnabledWithStreams retrieves enabled channels with their streams
	// preloaded, ordered by number. This is the lineup query.
	GetEnabledWithStreams(ctx context.Context) ([]*models.Channel, error)
	// Update updates an existing channel. Returns models.ErrChannelNumberTaken
	// when the new number collides with a different channel.
	Update(ctx context.Context, channel *models.Channel) error
	// Delete deletes a channel and all of its streams.
	Delete(ctx context.Context, id models.ULID) error
	// MaxNumber returns the highest channel number in use, 0 when empty.
	MaxNumber(ctx context.Context) (int, error)
	// Count returns the total number of channels.
	Count(ctx context.Context) (int64, error)
	// Transaction executes the given function within a database transaction.
	Transaction(ctx context.Context, fn func(ChannelRepository) error) error
}

// StreamRepository defines operations for stream persistence.
type StreamRepository interface {
	// Create creates a new stream.
	Create(ctx context.Context, stream *models.Stream) error
	// CreateBatch creates multiple streams in a single batch.
	CreateBatch(ctx context.Context, streams []*models.Stream) error
	// GetByID retrieves a stream by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Stream, error)
	// GetByChannelID retrieves all streams for a channel, oldest first.
	GetByChannelID(ctx context.Context, channelID models.ULID) ([]*models.Stream, error)
	// GetEnabledByChannelID retrieves enabled streams for a channel, oldest
	// first. The first entry is the playback candidate.
	GetEnabledByChannelID(ctx context.Context, channelID models.ULID) ([]*models.Stream, error)
	// GetAll retrieves all streams.
	GetAll(ctx context.Context) ([]*models.Stream, error)
	// Update updates an existing stream.
	Update(ctx context.Context, stream *models.Stream) error
	// Delete deletes a stream by ID.
	Delete(ctx context.Context, id models.ULID) error
	// DeleteByChannelID deletes all streams for a channel.
	DeleteByChannelID(ctx context.Context, channelID models.ULID) error
	// Count returns the total number of streams.
	Count(ctx context.Context) (int64, error)
}

// EpgSourceRepository defines operations for EPG source persistence.
type EpgSourceRepository interface {
	// Create creates a new EPG source.
	Create(ctx context.Context, source *models.EpgSource) error
	// GetByID retrieves an EPG source by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.EpgSource, error)
	// GetByName retrieves an EPG source by name.
	GetByName(ctx context.Context, name string) (*models.EpgSource, error)
	// GetByURL retrieves an EPG source by URL.
	GetByURL(ctx context.Context, url string) (*models.EpgSource, error)
	// GetAll retrieves all EPG sources ordered by priority (lower first).
	GetAll(ctx context.Context) ([]*models.EpgSource, error)
	// GetEnabled retrieves enabled EPG sources ordered by priority (lower first).
	GetEnabled(ctx context.Context) ([]*models.EpgSource, error)
	// Update updates an existing EPG source.
	Update(ctx context.Context, source *models.EpgSource) error
	// Delete deletes an EPG source together with its guide channels and
	// programs.
	Delete(ctx context.Context, id models.ULID) error
	// UpdateRefresh records the outcome of a refresh run without touching
	// any operator-edited fields.
	UpdateRefresh(ctx context.Context, id models.ULID, status models.EpgSourceStatus, programCount int, lastError string) error
}

// EpgChannelRepository defines operations for guide channel persistence.
type EpgChannelRepository interface {
	// UpsertBatch inserts or updates guide channels keyed on (source_id, epg_id).
	UpsertBatch(ctx context.Context, channels []*models.EpgChannel) error
	// GetBySourceID retrieves all guide channels for a source.
	GetBySourceID(ctx context.Context, sourceID models.ULID) ([]*models.EpgChannel, error)
	// GetByEpgID retrieves guide channels matching an XMLTV channel id across
	// all enabled sources, ordered by source priority (lower first).
	GetByEpgID(ctx context.Context, epgID string) ([]*models.EpgChannel, error)
	// GetAll retrieves all guide channels.
	GetAll(ctx context.Context) ([]*models.EpgChannel, error)
	// SearchByDisplayName retrieves guide channels whose display name contains
	// the fragment, case-insensitive, ordered by source priority.
	SearchByDisplayName(ctx context.Context, fragment string) ([]*models.EpgChannel, error)
	// DeleteBySourceID deletes all guide channels for a source.
	DeleteBySourceID(ctx context.Context, sourceID models.ULID) error
	// CountBySourceID returns the number of guide channels for a source.
	CountBySourceID(ctx context.Context, sourceID models.ULID) (int64, error)
}

// EpgProgramRepository defines operations for guide program persistence.
type EpgProgramRepository interface {
	// UpsertBatch inserts or updates programs keyed on
	// (source_id, channel_id, start_time).
	UpsertBatch(ctx context.Context, programs []*models.EpgProgram) error
	// GetByChannelID retrieves programs for a guide channel overlapping
	// [start, end), ordered by start time.
	GetByChannelID(ctx context.Context, channelID string, start, end time.Time) ([]*models.EpgProgram, error)
	// GetCurrent retrieves the program airing on a guide channel at the
	// given instant.
	GetCurrent(ctx context.Context, channelID string, at time.Time) (*models.EpgProgram, error)
	// GetNext retrieves the first program starting after the given instant.
	GetNext(ctx context.Context, channelID string, at time.Time) (*models.EpgProgram, error)
	// GetBySourceID streams all programs for a source through the callback,
	// ordered by channel then start time.
	GetBySourceID(ctx context.Context, sourceID models.ULID, callback func(*models.EpgProgram) error) error
	// DeleteBySourceID deletes all programs for a source.
	DeleteBySourceID(ctx context.Context, sourceID models.ULID) error
	// DeleteEndedBefore deletes programs whose end time is before the cutoff
	// and returns the number of rows removed.
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// CountBySourceID returns the number of programs for a source.
	CountBySourceID(ctx context.Context, sourceID models.ULID) (int64, error)
	// Count returns the total number of programs.
	Count(ctx context.Context) (int64, error)
}

// SessionRepository defines operations for stream session persistence.
// Live session state is owned by the session manager; rows exist for
// history, the dashboard, and crash recovery.
type SessionRepository interface {
	// Create persists a new session record.
	Create(ctx context.Context, session *models.StreamSession) error
	// GetByID retrieves a session by row ID.
	GetByID(ctx context.Context, id models.ULID) (*models.StreamSession, error)
	// GetBySessionID retrieves a session by its public session identifier.
	GetBySessionID(ctx context.Context, sessionID string) (*models.StreamSession, error)
	// GetActive retrieves all sessions still marked active, oldest first.
	GetActive(ctx context.Context) ([]*models.StreamSession, error)
	// GetRecent retrieves the most recently started sessions, newest first,
	// skipping offset rows for pagination.
	GetRecent(ctx context.Context, limit, offset int) ([]*models.StreamSession, error)
	// Update updates an existing session record.
	Update(ctx context.Context, session *models.StreamSession) error
	// EndActive marks every active session ended with the given reason and
	// returns the number of rows updated. Run at startup to close sessions
	// orphaned by an unclean shutdown.
	EndActive(ctx context.Context, reason models.EndReason, message string) (int64, error)
	// CountActive returns the number of sessions still marked active.
	CountActive(ctx context.Context) (int64, error)
}

// SettingRepository defines operations for persistent settings rows.
type SettingRepository interface {
	// Get retrieves a setting by key.
	Get(ctx context.Context, key string) (*models.Setting, error)
	// GetAll retrieves all settings ordered by key.
	GetAll(ctx context.Context) ([]*models.Setting, error)
	// GetByPrefix retrieves settings whose key starts with the prefix,
	// ordered by key.
	GetByPrefix(ctx context.Context, prefix string) ([]*models.Setting, error)
	// Upsert creates the setting or updates its value, type, and description.
	Upsert(ctx context.Context, setting *models.Setting) error
	// UpsertBatch upserts multiple settings in one statement.
	UpsertBatch(ctx context.Context, settings []*models.Setting) error
	// InsertMissing inserts settings whose keys are not yet present, leaving
	// existing rows untouched, and returns the number of rows inserted.
	// This is the second seeding pass that picks up newly added defaults
	// after an upgrade.
	InsertMissing(ctx context.Context, settings []*models.Setting) (int64, error)
	// Delete removes a setting by key.
	Delete(ctx context.Context, key string) error
	// DeleteByPrefix removes all settings whose key starts with the prefix
	// and returns the number of rows removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
	// Transaction executes the given function within a database transaction.
	Transaction(ctx context.Context, fn func(SettingRepository) error) error
}

// LogRepository defines operations for persisted log entries.
type LogRepository interface {
	// CreateBatch persists a batch of log entries.
	CreateBatch(ctx context.Context, entries []*models.LogEntry) error
	// Query retrieves entries matching the filter, newest first, along with
	// the total match count before paging.
	Query(ctx context.Context, q LogQuery) ([]*models.LogEntry, int64, error)
	// Components returns the distinct component values with occurrence
	// counts, for filter dropdowns.
	Components(ctx context.Context) ([]FieldValueResult, error)
	// DeleteBefore deletes entries whose timestamp is before the cutoff and
	// returns the number of rows removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// Clear deletes all entries and returns the number of rows removed.
	Clear(ctx context.Context) (int64, error)
}
