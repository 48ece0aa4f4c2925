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

func setupChannelTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Channel{}, &models.Stream{})
	require.NoError(t, err)

	return db
}

// createTestChannel creates a channel with the given number for tests.
func createTestChannel(t *testing.T, repo ChannelRepository, name string, number int) *models.Channel {
	t.Helper()
	channel := &models.Channel{
		Name:   name,
		Number: number,
	}
	err := repo.Create(context.Background(), channel)
	require.NoError(t, err)
	return channel
}

// createTestStream attaches a stream to a channel for tests.
func createTestStream(t *testing.T, db *gorm.DB, channelID models.ULID, name string) *models.Stream {
	t.Helper()
	stream := &models.Stream{
		ChannelID: channelID,
		Name:      name,
		URL:       "http://example.com/" + name + ".m3u8",
		Kind:      models.StreamKindHLS,
	}
	err := db.Create(stream).Error
	require.NoError(t, err)
	return stream
}

func TestChannelRepo_Create(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	channel := &models.Channel{
		Name:       "Test Channel",
		Number:     101,
		GroupTitle: "News",
		EpgID:      "test.channel.tv",
	}

	err := repo.Create(ctx, channel)
	require.NoError(t, err)
	assert.False(t, channel.ID.IsZero())

	found, err := repo.GetByID(ctx, channel.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Test Channel", found.Name)
	assert.Equal(t, 101, found.Number)
	assert.Equal(t, "test.channel.tv", found.EpgID)
	assert.True(t, found.IsEnabled())
}

func TestChannelRepo_Create_NumberTaken(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	createTestChannel(t, repo, "First", 100)

	err := repo.Create(ctx, &models.Channel{Name: "Second", Number: 100})
	assert.ErrorIs(t, err, models.ErrChannelNumberTaken)
}

func TestChannelRepo_Create_NumberFreedByDelete(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	first := createTestChannel(t, repo, "First", 100)
	require.NoError(t, repo.Delete(ctx, first.ID))

	// The deleted channel's number is immediately reusable.
	err := repo.Create(ctx, &models.Channel{Name: "Second", Number: 100})
	require.NoError(t, err)
}

func TestChannelRepo_GetByID_NotFound(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	found, err := repo.GetByID(ctx, models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestChannelRepo_GetByIDWithStreams(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	channel := createTestChannel(t, repo, "Multi Stream", 105)
	createTestStream(t, db, channel.ID, "primary")
	createTestStream(t, db, channel.ID, "backup")

	found, err := repo.GetByIDWithStreams(ctx, channel.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Len(t, found.Streams, 2)
}

func TestChannelRepo_GetByNumber(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	createTestChannel(t, repo, "News One", 201)

	t.Run("found", func(t *testing.T) {
		found, err := repo.GetByNumber(ctx, 201)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "News One", found.Name)
	})

	t.Run("not found", func(t *testing.T) {
		found, err := repo.GetByNumber(ctx, 999)
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestChannelRepo_GetAll_OrderedByNumber(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	createTestChannel(t, repo, "Third", 30)
	createTestChannel(t, repo, "First", 10)
	createTestChannel(t, repo, "Second", 20)

	channels, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 3)
	assert.Equal(t, 10, channels[0].Number)
	assert.Equal(t, 20, channels[1].Number)
	assert.Equal(t, 30, channels[2].Number)
}

func TestChannelRepo_GetEnabled(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	enabled := createTestChannel(t, repo, "Enabled", 1)
	disabled := createTestChannel(t, repo, "Disabled", 2)
	// UpdateColumn skips hooks; setting Enabled=false on create loses to
	// the gorm default:true tag.
	require.NoError(t, db.Model(disabled).UpdateColumn("enabled", false).Error)

	channels, err := repo.GetEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, enabled.ID, channels[0].ID)
}

func TestChannelRepo_GetEnabledWithStreams(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	channel := createTestChannel(t, repo, "Lineup Channel", 7)
	createTestStream(t, db, channel.ID, "feed")

	channels, err := repo.GetEnabledWithStreams(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	require.Len(t, channels[0].Streams, 1)
	assert.Equal(t, "feed", channels[0].Streams[0].Name)
}

func TestChannelRepo_Update(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	channel := createTestChannel(t, repo, "Before", 50)

	channel.Name = "After"
	channel.GroupTitle = "Sports"
	err := repo.Update(ctx, channel)
	require.NoError(t, err)

	found, err := repo.GetByID(ctx, channel.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "After", found.Name)
	assert.Equal(t, "Sports", found.GroupTitle)
}

func TestChannelRepo_Update_NumberCollision(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	createTestChannel(t, repo, "Holder", 60)
	victim := createTestChannel(t, repo, "Victim", 61)

	t.Run("collides with other channel", func(t *testing.T) {
		victim.Number = 60
		err := repo.Update(ctx, victim)
		assert.ErrorIs(t, err, models.ErrChannelNumberTaken)
	})

	t.Run("keeping own number is fine", func(t *testing.T) {
		victim.Number = 61
		victim.Name = "Victim Renamed"
		err := repo.Update(ctx, victim)
		require.NoError(t, err)
	})
}

func TestChannelRepo_Delete_CascadesStreams(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	streams := NewStreamRepository(db)
	ctx := context.Background()

	channel := createTestChannel(t, repo, "Doomed", 77)
	createTestStream(t, db, channel.ID, "doomed-feed")

	err := repo.Delete(ctx, channel.ID)
	require.NoError(t, err)

	found, err := repo.GetByID(ctx, channel.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	remaining, err := streams.GetByChannelID(ctx, channel.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestChannelRepo_MaxNumber(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	t.Run("empty table", func(t *testing.T) {
		max, err := repo.MaxNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, max)
	})

	t.Run("with channels", func(t *testing.T) {
		createTestChannel(t, repo, "Low", 5)
		createTestChannel(t, repo, "High", 500)

		max, err := repo.MaxNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, 500, max)
	})
}

func TestChannelRepo_Count(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	createTestChannel(t, repo, "One", 1)
	createTestChannel(t, repo, "Two", 2)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestChannelRepo_Transaction_Rollback(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	testErr := errors.New("forced rollback")
	err := repo.Transaction(ctx, func(txRepo ChannelRepository) error {
		if err := txRepo.Create(ctx, &models.Channel{Name: "Ghost", Number: 9}); err != nil {
			return err
		}
		return testErr
	})
	assert.ErrorIs(t, err, testErr)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestChannelRepo_CreateBatch(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	channels := []*models.Channel{
		{Name: "Batch A", Number: 301},
		{Name: "Batch B", Number: 302},
		{Name: "Batch C", Number: 303},
	}

	err := repo.CreateBatch(ctx, channels)
	require.NoError(t, err)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
