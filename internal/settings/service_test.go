package settings

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

func newTestService(t *testing.T) (*Service, repository.SettingRepository) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Setting{}))

	repo := repository.NewSettingRepository(db)
	return NewService(repo), repo
}

func TestLoadReturnsDefaultsOnEmptyTable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tree, err := svc.Load(ctx)
	require.NoError(t, err)

	tuners, ok := tree.Get("device.tunerCount")
	require.True(t, ok)
	assert.Equal(t, float64(4), tuners)

	protocol, ok := tree.Get("streaming.preferredProtocol")
	require.True(t, ok)
	assert.Equal(t, "hls", protocol)
}

func TestLoadOverlaysPersistedRows(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	row := models.EncodeSetting("device.tunerCount", 8)
	require.NoError(t, repo.Upsert(ctx, &row))

	tree, err := svc.Load(ctx)
	require.NoError(t, err)

	tuners, _ := tree.Get("device.tunerCount")
	assert.Equal(t, float64(8), tuners)

	// Sibling defaults survive the overlay.
	name, _ := tree.Get("device.name")
	assert.Equal(t, "PlexBridge", name)
}

func TestLegacyPrefixWins(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	plain := models.EncodeSetting("device.tunerCount", 2)
	require.NoError(t, repo.Upsert(ctx, &plain))
	prefixed := models.EncodeSetting("plexlive.device.tunerCount", 6)
	require.NoError(t, repo.Upsert(ctx, &prefixed))

	tree, err := svc.Load(ctx)
	require.NoError(t, err)

	tuners, _ := tree.Get("device.tunerCount")
	assert.Equal(t, float64(6), tuners, "prefixed row must win over the plain spelling")
}

func TestUpdatePersistsAndNotifies(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	var notified Settings
	unsubscribe := svc.Subscribe(func(tree Settings) { notified = tree })
	defer unsubscribe()

	tree, err := svc.Update(ctx, map[string]any{
		"streaming": map[string]any{
			"maxConcurrentStreams": 10,
		},
		"device": map[string]any{
			"name": "Living Room Tuner",
		},
	})
	require.NoError(t, err)

	got, _ := tree.Get("streaming.maxConcurrentStreams")
	assert.Equal(t, float64(10), got)

	require.NotNil(t, notified, "subscribers must hear about the update")
	name, _ := notified.Get("device.name")
	assert.Equal(t, "Living Room Tuner", name)

	row, err := repo.Get(ctx, "streaming.maxConcurrentStreams")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, models.SettingTypeNumber, row.Type)
}

func TestUpdateMigratesLegacyRow(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	stale := models.EncodeSetting("plexlive.device.tunerCount", 2)
	require.NoError(t, repo.Upsert(ctx, &stale))

	_, err := svc.Update(ctx, map[string]any{
		"device": map[string]any{"tunerCount": 8},
	})
	require.NoError(t, err)

	// The legacy row would shadow the new value; update must remove it.
	legacy, err := repo.Get(ctx, "plexlive.device.tunerCount")
	require.NoError(t, err)
	assert.Nil(t, legacy)

	tree, err := svc.Load(ctx)
	require.NoError(t, err)
	tuners, _ := tree.Get("device.tunerCount")
	assert.Equal(t, float64(8), tuners)
}

func TestUpdateValidation(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		partial map[string]any
	}{
		{"concurrent streams too high", map[string]any{"streaming": map[string]any{"maxConcurrentStreams": 101}}},
		{"concurrent streams zero", map[string]any{"streaming": map[string]any{"maxConcurrentStreams": 0}}},
		{"timeout too short", map[string]any{"streaming": map[string]any{"streamTimeout": 1000}}},
		{"timeout too long", map[string]any{"streaming": map[string]any{"streamTimeout": 600000}}},
		{"tuner count", map[string]any{"device": map[string]any{"tunerCount": 33}}},
		{"privileged port", map[string]any{"network": map[string]any{"streamingPort": 80}}},
		{"malformed locale", map[string]any{"localization": map[string]any{"locale": "english"}}},
		{"unknown locale", map[string]any{"localization": map[string]any{"locale": "zz-ZZ"}}},
		{"date format", map[string]any{"localization": map[string]any{"dateFormat": "MM-DD-YYYY"}}},
		{"time format", map[string]any{"localization": map[string]any{"timeFormat": "48h"}}},
		{"first day of week", map[string]any{"localization": map[string]any{"firstDayOfWeek": 7}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Update(ctx, tc.partial)
			var verr models.ErrValidation
			require.ErrorAs(t, err, &verr)
		})
	}

	// A rejected update must not write anything.
	rows, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUpdateAcceptsValidLocales(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, locale := range []string{"en", "de-DE", "pt-BR"} {
		_, err := svc.Update(ctx, map[string]any{
			"localization": map[string]any{"locale": locale},
		})
		require.NoError(t, err, "locale %s", locale)
	}
}

func TestResetCategory(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.Update(ctx, map[string]any{
		"device":  map[string]any{"tunerCount": 8},
		"network": map[string]any{"streamingPort": 9090},
	})
	require.NoError(t, err)

	tree, err := svc.Reset(ctx, "device")
	require.NoError(t, err)

	tuners, _ := tree.Get("device.tunerCount")
	assert.Equal(t, float64(4), tuners, "device branch reverts to defaults")

	port, _ := tree.Get("network.streamingPort")
	assert.Equal(t, float64(9090), port, "other branches keep their overrides")

	row, err := repo.Get(ctx, "device.tunerCount")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestResetAllPreservesDeviceUUID(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureIdentity(ctx))
	before, err := repo.Get(ctx, "ssdp.deviceUuid")
	require.NoError(t, err)
	require.NotNil(t, before)

	_, err = svc.Update(ctx, map[string]any{
		"device": map[string]any{"tunerCount": 8},
	})
	require.NoError(t, err)

	tree, err := svc.Reset(ctx, "")
	require.NoError(t, err)

	tuners, _ := tree.Get("device.tunerCount")
	assert.Equal(t, float64(4), tuners)

	after, err := repo.Get(ctx, "ssdp.deviceUuid")
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.Value, after.Value)
}

func TestResetUnknownCategory(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Reset(context.Background(), "nonsense")
	var verr models.ErrValidation
	require.ErrorAs(t, err, &verr)
}

func TestEnsureIdentityIsIdempotent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureIdentity(ctx))
	first, err := repo.Get(ctx, "ssdp.deviceUuid")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.NotEmpty(t, first.Value)

	require.NoError(t, svc.EnsureIdentity(ctx))
	second, err := repo.Get(ctx, "ssdp.deviceUuid")
	require.NoError(t, err)
	assert.Equal(t, first.Value, second.Value)
}

func TestGetTypedAccessors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.Equal(t, 4, svc.GetInt(ctx, "device.tunerCount", 0))
	assert.Equal(t, "hls", svc.GetString(ctx, "streaming.preferredProtocol", ""))
	assert.True(t, svc.GetBool(ctx, "ssdp.enabled", false))
	assert.Equal(t, 30*time.Second, svc.GetDuration(ctx, "streaming.streamTimeout", time.Millisecond, time.Minute))

	// Missing paths fall back to the caller's default.
	assert.Equal(t, 42, svc.GetInt(ctx, "no.such.path", 42))
}

func TestCacheInvalidatedByUpdate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Load(ctx)
	require.NoError(t, err)

	_, err = svc.Update(ctx, map[string]any{
		"device": map[string]any{"tunerCount": 16},
	})
	require.NoError(t, err)

	// Within the TTL window the fresh value must still be served.
	assert.Equal(t, 16, svc.GetInt(ctx, "device.tunerCount", 0))
}
