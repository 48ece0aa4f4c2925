package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSettingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Setting{})
	require.NoError(t, err)

	return db
}

func TestSettingRepo_Get(t *testing.T) {
	db := setupSettingTestDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	setting := models.EncodeSetting("plexlive.device.tunerCount", 4)
	require.NoError(t, repo.Upsert(ctx, &setting))

	t.Run("found", func(t *testing.T) {
		found, err := repo.Get(ctx, "plexlive.device.tunerCount")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, models.SettingTypeNumber, found.Type)
		assert.Equal(t, float64(4), found.Decode())
	})

	t.Run("not found", func(t *testing.T) {
		found, err := repo.Get(ctx, "plexlive.missing")
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestSettingRepo_Upsert(t *testing.T) {
	db := setupSettingTestDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	first := models.EncodeSetting("plexlive.streaming.maxConcurrentStreams", 5)
	require.NoError(t, repo.Upsert(ctx, &first))

	// Same key again replaces the value in place.
	second := models.EncodeSetting("plexlive.streaming.maxConcurrentStreams", 10)
	require.NoError(t, repo.Upsert(ctx, &second))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, float64(10), all[0].Decode())
}

func TestSettingRepo_GetByPrefix(t *testing.T) {
	db := setupSettingTestDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	for key, value := range map[string]any{
		"plexlive.device.tunerCount":  4,
		"plexlive.device.deviceUuid":  "abc-123",
		"plexlive.network.streamPort": 8080,
	} {
		setting := models.EncodeSetting(key, value)
		require.NoError(t, repo.Upsert(ctx, &setting))
	}

	settings, err := repo.GetByPrefix(ctx, "plexlive.device.")
	require.NoError(t, err)
	require.Len(t, settings, 2)
	// Ordered by key.
	assert.Equal(t, "plexlive.device.deviceUuid", settings[0].Key)
	assert.Equal(t, "plexlive.device.tunerCount", settings[1].Key)
}

func TestSettingRepo_UpsertBatch(t *testing.T) {
	db := setupSettingTestDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	a := models.EncodeSetting("a.one", true)
	b := models.EncodeSetting("a.two", "text")
	require.NoError(t, repo.UpsertBatch(ctx, []*models.Setting{&a, &b}))

	aAgain := models.EncodeSetting("a.one", false)
	c := models.EncodeSetting("a.three", 3)
	require.NoError(t, repo.UpsertBatch(ctx, []*models.Setting{&aAgain, &c}))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	one, err := repo.Get(ctx, "a.one")
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, false, one.Decode())
}

func TestSettingRepo_InsertMissing(t *testing.T) {
	db := setupSettingTestDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	// Operator has customized one key already.
	custom := models.EncodeSetting("plexlive.streaming.maxConcurrentStreams", 25)
	require.NoError(t, repo.Upsert(ctx, &custom))

	defaults := []*models.Setting{}
	for key, value := range map[string]any{
		"plexlive.streaming.maxConcurrentStreams": 5,
		"plexlive.streaming.streamTimeout":        30000,
		"plexlive.device.tunerCount":              4,
	} {
		setting := models.EncodeSetting(key, value)
		defaults = append(defaults, &setting)
	}

	inserted, err := repo.InsertMissing(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	// The customized value survives the seeding pass.
	found, err := repo.Get(ctx, "plexlive.streaming.maxConcurrentStreams")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, float64(25), found.Decode())

	t.Run("second pass inserts nothing", func(t *testing.T) {
		inserted, err := repo.InsertMissing(ctx, defaults)
		require.NoError(t, err)
		assert.Equal(t, int64(0), inserted)
	})
}

func TestSettingRepo_Delete_AllowsKeyReuse(t *testing.T) {
	db := setupSettingTestDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	setting := models.EncodeSetting("volatile.key", "v1")
	require.NoError(t, repo.Upsert(ctx, &setting))
	require.NoError(t, repo.Delete(ctx, "volatile.key"))

	found, err := repo.Get(ctx, "volatile.key")
	require.NoError(t, err)
	assert.Nil(t, found)

	// The unique key must be insertable again after deletion.
	recreated := models.EncodeSetting("volatile.key", "v2")
	require.NoError(t, repo.Upsert(ctx, &recreated))
}

func TestSettingRepo_DeleteByPrefix(t *testing.T) {
	db := setupSettingTestDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	for _, key := range []string{"scratch.a", "scratch.b", "stable.a"} {
		setting := models.EncodeSetting(key, 1)
		require.NoError(t, repo.Upsert(ctx, &setting))
	}

	removed, err := repo.DeleteByPrefix(ctx, "scratch.")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "stable.a", all[0].Key)
}

func TestSettingRepo_Transaction_Rollback(t *testing.T) {
	db := setupSettingTestDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	testErr := errors.New("forced rollback")
	err := repo.Transaction(ctx, func(txRepo SettingRepository) error {
		setting := models.EncodeSetting("tx.key", "value")
		if err := txRepo.Upsert(ctx, &setting); err != nil {
			return err
		}
		return testErr
	})
	assert.ErrorIs(t, err, testErr)

	found, err := repo.Get(ctx, "tx.key")
	require.NoError(t, err)
	assert.Nil(t, found)
}
