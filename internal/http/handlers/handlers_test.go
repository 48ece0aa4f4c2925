package handlers

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/events"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/internal/settings"
)

// testEnv wires handlers against a real in-memory database, cache and event
// hub so tests assert on observable behavior rather than mock expectations.
type testEnv struct {
	db       *gorm.DB
	channels repository.ChannelRepository
	streams  repository.StreamRepository
	sessions repository.SessionRepository
	settings *settings.Service
	store    *cache.Store
	hub      *events.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Channel{},
		&models.Stream{},
		&models.StreamSession{},
		&models.Setting{},
	))

	store := cache.New(cache.Options{})
	hub := events.NewHub(discardLogger())
	t.Cleanup(func() {
		hub.Close()
		_ = store.Close()
	})

	return &testEnv{
		db:       db,
		channels: repository.NewChannelRepository(db),
		streams:  repository.NewStreamRepository(db),
		sessions: repository.NewSessionRepository(db),
		settings: settings.NewService(repository.NewSettingRepository(db)),
		store:    store,
		hub:      hub,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// putSetting persists one settings leaf directly, bypassing validation.
func (e *testEnv) putSetting(t *testing.T, path string, value any) {
	t.Helper()
	row := models.EncodeSetting(path, value)
	require.NoError(t, repository.NewSettingRepository(e.db).Upsert(context.Background(), &row))
	e.settings.Invalidate()
}

// seedChannel persists a channel with one enabled HLS stream and returns it
// reloaded with the stream attached.
func (e *testEnv) seedChannel(t *testing.T, name string, number int, enabled bool) *models.Channel {
	t.Helper()
	ctx := context.Background()

	ch := &models.Channel{
		Name:    name,
		Number:  number,
		Enabled: &enabled,
	}
	require.NoError(t, e.channels.Create(ctx, ch))

	st := &models.Stream{
		ChannelID: ch.ID,
		Name:      name + " feed",
		URL:       "http://upstream.example/" + name + "/index.m3u8",
		Kind:      models.StreamKindHLS,
	}
	require.NoError(t, e.streams.Create(ctx, st))

	loaded, err := e.channels.GetByIDWithStreams(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	return loaded
}

func boolPtr(b bool) *bool { return &b }

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }
