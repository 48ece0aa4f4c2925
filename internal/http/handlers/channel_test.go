package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/events"
	"github.com/plexbridge/plexbridge/internal/ingestor"
	"github.com/plexbridge/plexbridge/internal/logo"
	"github.com/plexbridge/plexbridge/internal/models"
)

func newChannelHandler(t *testing.T, env *testEnv) *ChannelHandler {
	t.Helper()
	importer := ingestor.NewM3UImporter(env.channels, env.streams, env.store, env.hub, discardLogger())
	logos := logo.NewService(env.channels, env.store, env.settings, nil, discardLogger())
	return NewChannelHandler(env.channels, importer, logos, env.store, env.hub, discardLogger())
}

func TestChannelHandler_List(t *testing.T) {
	env := newTestEnv(t)
	handler := newChannelHandler(t, env)
	ctx := context.Background()

	env.seedChannel(t, "News 24", 101, true)
	env.seedChannel(t, "Sports One", 102, true)
	movies := &models.Channel{Name: "Movie Night", Number: 103, Enabled: boolPtr(false), GroupTitle: "Cinema"}
	require.NoError(t, env.channels.Create(ctx, movies))

	t.Run("all ordered by number", func(t *testing.T) {
		resp, err := handler.List(ctx, &ListChannelsInput{Pagination: Pagination{Page: 1, Limit: 50}})
		require.NoError(t, err)
		require.Len(t, resp.Body.Channels, 3)

		assert.Equal(t, 101, resp.Body.Channels[0].Number)
		assert.Equal(t, 103, resp.Body.Channels[2].Number)
		assert.Equal(t, int64(3), resp.Body.Pagination.TotalItems)
		assert.Equal(t, int64(1), resp.Body.Pagination.TotalPages)
	})

	t.Run("search is case-insensitive", func(t *testing.T) {
		resp, err := handler.List(ctx, &ListChannelsInput{
			Pagination: Pagination{Page: 1, Limit: 50},
			Search:     "sports",
		})
		require.NoError(t, err)
		require.Len(t, resp.Body.Channels, 1)
		assert.Equal(t, "Sports One", resp.Body.Channels[0].Name)
	})

	t.Run("group filter", func(t *testing.T) {
		resp, err := handler.List(ctx, &ListChannelsInput{
			Pagination: Pagination{Page: 1, Limit: 50},
			Group:      "Cinema",
		})
		require.NoError(t, err)
		require.Len(t, resp.Body.Channels, 1)
		assert.Equal(t, "Movie Night", resp.Body.Channels[0].Name)
	})

	t.Run("enabled filter", func(t *testing.T) {
		resp, err := handler.List(ctx, &ListChannelsInput{
			Pagination: Pagination{Page: 1, Limit: 50},
			Enabled:    boolPtr(false),
		})
		require.NoError(t, err)
		require.Len(t, resp.Body.Channels, 1)
		assert.Equal(t, 103, resp.Body.Channels[0].Number)
	})

	t.Run("pagination", func(t *testing.T) {
		resp, err := handler.List(ctx, &ListChannelsInput{Pagination: Pagination{Page: 2, Limit: 2}})
		require.NoError(t, err)
		require.Len(t, resp.Body.Channels, 1)
		assert.Equal(t, 103, resp.Body.Channels[0].Number)
		assert.Equal(t, int64(2), resp.Body.Pagination.TotalPages)
	})
}

func TestChannelHandler_Get(t *testing.T) {
	env := newTestEnv(t)
	handler := newChannelHandler(t, env)
	ctx := context.Background()

	ch := env.seedChannel(t, "News 24", 101, true)

	t.Run("found with streams", func(t *testing.T) {
		resp, err := handler.Get(ctx, &GetChannelInput{ID: ch.ID.String()})
		require.NoError(t, err)
		assert.Equal(t, ch.ID, resp.Body.ID)
		assert.Equal(t, "News 24", resp.Body.Name)
		require.Len(t, resp.Body.Streams, 1)
		assert.Equal(t, models.StreamKindHLS, resp.Body.Streams[0].Kind)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := handler.Get(ctx, &GetChannelInput{ID: models.NewULID().String()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := handler.Get(ctx, &GetChannelInput{ID: "not-a-ulid"})
		assert.Error(t, err)
	})
}

func TestChannelHandler_Create(t *testing.T) {
	env := newTestEnv(t)
	handler := newChannelHandler(t, env)
	ctx := context.Background()

	t.Run("explicit number", func(t *testing.T) {
		resp, err := handler.Create(ctx, &CreateChannelInput{Body: CreateChannelRequest{
			Name:   "News 24",
			Number: intPtr(101),
		}})
		require.NoError(t, err)
		assert.Equal(t, 101, resp.Body.Number)
		assert.True(t, resp.Body.Enabled)
		assert.False(t, resp.Body.ID.IsZero())
	})

	t.Run("next free number when omitted", func(t *testing.T) {
		resp, err := handler.Create(ctx, &CreateChannelInput{Body: CreateChannelRequest{
			Name: "Sports One",
		}})
		require.NoError(t, err)
		assert.Equal(t, 102, resp.Body.Number)
	})

	t.Run("number conflict", func(t *testing.T) {
		_, err := handler.Create(ctx, &CreateChannelInput{Body: CreateChannelRequest{
			Name:   "Imposter",
			Number: intPtr(101),
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already in use")
	})

	t.Run("invalidates cached lineup and notifies", func(t *testing.T) {
		env.store.Set(ctx, cache.LineupKey, []lineupChannel{{Name: "stale"}}, cache.TTLLineup)
		sub := env.hub.Subscribe(events.RoomLineup)
		defer sub.Close()

		_, err := handler.Create(ctx, &CreateChannelInput{Body: CreateChannelRequest{Name: "Docs"}})
		require.NoError(t, err)

		var cached []lineupChannel
		assert.False(t, env.store.Get(ctx, cache.LineupKey, &cached))

		evt := <-sub.Events()
		assert.Equal(t, events.TypeLineupChanged, evt.Type)
		data, ok := evt.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "created", data["action"])
		assert.Equal(t, "Docs", data["name"])
	})
}

func TestChannelHandler_Update(t *testing.T) {
	env := newTestEnv(t)
	handler := newChannelHandler(t, env)
	ctx := context.Background()

	ch := env.seedChannel(t, "News 24", 101, true)
	env.seedChannel(t, "Sports One", 102, true)

	t.Run("partial update", func(t *testing.T) {
		resp, err := handler.Update(ctx, &UpdateChannelInput{
			ID: ch.ID.String(),
			Body: UpdateChannelRequest{
				Name:    strPtr("News 24 HD"),
				Enabled: boolPtr(false),
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "News 24 HD", resp.Body.Name)
		assert.False(t, resp.Body.Enabled)
		// Untouched fields survive.
		assert.Equal(t, 101, resp.Body.Number)
	})

	t.Run("number conflict with another channel", func(t *testing.T) {
		_, err := handler.Update(ctx, &UpdateChannelInput{
			ID:   ch.ID.String(),
			Body: UpdateChannelRequest{Number: intPtr(102)},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already in use")
	})

	t.Run("keeping own number is not a conflict", func(t *testing.T) {
		_, err := handler.Update(ctx, &UpdateChannelInput{
			ID:   ch.ID.String(),
			Body: UpdateChannelRequest{Number: intPtr(101)},
		})
		assert.NoError(t, err)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := handler.Update(ctx, &UpdateChannelInput{
			ID:   models.NewULID().String(),
			Body: UpdateChannelRequest{Name: strPtr("ghost")},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

func TestChannelHandler_Delete(t *testing.T) {
	env := newTestEnv(t)
	handler := newChannelHandler(t, env)
	ctx := context.Background()

	ch := env.seedChannel(t, "News 24", 101, true)

	resp, err := handler.Delete(ctx, &DeleteChannelInput{ID: ch.ID.String()})
	require.NoError(t, err)
	assert.Contains(t, resp.Body.Message, "deleted")

	gone, err := env.channels.GetByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// Streams go with the channel.
	streams, err := env.streams.GetByChannelID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Empty(t, streams)

	t.Run("not found", func(t *testing.T) {
		_, err := handler.Delete(ctx, &DeleteChannelInput{ID: models.NewULID().String()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

const testPlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="news24.example" tvg-logo="http://logos.example/news.png" group-title="News" tvg-chno="201",News 24
http://upstream.example/news/index.m3u8
#EXTINF:-1 tvg-id="sports.example" group-title="Sport",Sports One
http://upstream.example/sports.ts
`

func TestChannelHandler_ImportM3U(t *testing.T) {
	env := newTestEnv(t)
	handler := newChannelHandler(t, env)
	ctx := context.Background()

	t.Run("inline playlist", func(t *testing.T) {
		resp, err := handler.ImportM3U(ctx, &ImportM3UInput{Body: ImportM3URequest{Playlist: testPlaylist}})
		require.NoError(t, err)
		assert.Equal(t, 2, resp.Body.ChannelsCreated)
		assert.Equal(t, 2, resp.Body.StreamsCreated)
		assert.Empty(t, resp.Body.Errors)

		rows, err := env.channels.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 2)
	})

	t.Run("url and playlist are mutually exclusive", func(t *testing.T) {
		_, err := handler.ImportM3U(ctx, &ImportM3UInput{Body: ImportM3URequest{
			URL:      "http://playlists.example/a.m3u",
			Playlist: testPlaylist,
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exactly one")
	})

	t.Run("rejects non-http url", func(t *testing.T) {
		_, err := handler.ImportM3U(ctx, &ImportM3UInput{Body: ImportM3URequest{URL: "file:///etc/passwd"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid playlist URL")
	})
}
