package ingestor

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

func setupImportTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.Channel{}, &models.Stream{}))
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestImporter(t *testing.T) (*M3UImporter, repository.ChannelRepository, repository.StreamRepository) {
	t.Helper()

	db := setupImportTestDB(t)
	channels := repository.NewChannelRepository(db)
	streams := repository.NewStreamRepository(db)
	imp := NewM3UImporter(channels, streams, nil, nil, discardLogger())
	return imp, channels, streams
}

const samplePlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="news.one" tvg-logo="http://logos.example.com/news.png" group-title="News" tvg-chno="101",News One HD
http://iptv.example.com/news/master.m3u8
#EXTINF:-1 tvg-name="Sports Arena",Sports Arena
#EXTVLCOPT:http-user-agent=SpecialAgent/1.0
#EXTVLCOPT:http-referrer=http://portal.example.com/
http://iptv.example.com/sports/stream
`

func TestM3UImporter_ImportReader_CreatesChannels(t *testing.T) {
	imp, channels, streams := newTestImporter(t)
	ctx := context.Background()

	res, err := imp.ImportReader(ctx, strings.NewReader(samplePlaylist))
	require.NoError(t, err)

	assert.Equal(t, 2, res.ChannelsCreated)
	assert.Equal(t, 2, res.StreamsCreated)
	assert.Zero(t, res.ChannelsUpdated)
	assert.Empty(t, res.Errors)

	news, err := channels.GetByNumber(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "News One HD", news.Name)
	assert.Equal(t, "news.one", news.EpgID)
	assert.Equal(t, "News", news.GroupTitle)
	assert.Equal(t, "http://logos.example.com/news.png", news.LogoURL)

	newsStreams, err := streams.GetByChannelID(ctx, news.ID)
	require.NoError(t, err)
	require.Len(t, newsStreams, 1)
	assert.Equal(t, models.StreamKindHLS, newsStreams[0].Kind)

	// The unnumbered entry gets the first free sequential number.
	sports, err := channels.GetByNumber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Sports Arena", sports.Name)

	sportsStreams, err := streams.GetByChannelID(ctx, sports.ID)
	require.NoError(t, err)
	require.Len(t, sportsStreams, 1)
	assert.Equal(t, models.StreamKindHTTP, sportsStreams[0].Kind)
	assert.Equal(t, "SpecialAgent/1.0", sportsStreams[0].Headers["User-Agent"])
	assert.Equal(t, "http://portal.example.com/", sportsStreams[0].Headers["Referer"])
}

func TestM3UImporter_SameGuideIDCollapses(t *testing.T) {
	imp, channels, streams := newTestImporter(t)
	ctx := context.Background()

	playlist := `#EXTM3U
#EXTINF:-1 tvg-id="movies.hd",Movies HD
http://iptv.example.com/movies/main.m3u8
#EXTINF:-1 tvg-id="movies.hd",Movies HD Backup
http://backup.example.com/movies/alt.m3u8
`

	res, err := imp.ImportReader(ctx, strings.NewReader(playlist))
	require.NoError(t, err)

	assert.Equal(t, 1, res.ChannelsCreated)
	assert.Equal(t, 2, res.StreamsCreated)

	count, err := channels.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	all, err := channels.GetAll(ctx)
	require.NoError(t, err)
	chStreams, err := streams.GetByChannelID(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Len(t, chStreams, 2)
}

func TestM3UImporter_Reimport_Idempotent(t *testing.T) {
	imp, channels, streams := newTestImporter(t)
	ctx := context.Background()

	_, err := imp.ImportReader(ctx, strings.NewReader(samplePlaylist))
	require.NoError(t, err)

	res, err := imp.ImportReader(ctx, strings.NewReader(samplePlaylist))
	require.NoError(t, err)

	assert.Zero(t, res.ChannelsCreated)
	assert.Zero(t, res.ChannelsUpdated)
	assert.Zero(t, res.StreamsCreated)
	assert.Equal(t, 2, res.Skipped)

	chCount, err := channels.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, chCount)

	stCount, err := streams.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stCount)
}

func TestM3UImporter_Reimport_RefreshesMetadata(t *testing.T) {
	imp, channels, _ := newTestImporter(t)
	ctx := context.Background()

	_, err := imp.ImportReader(ctx, strings.NewReader(samplePlaylist))
	require.NoError(t, err)

	updated := strings.Replace(samplePlaylist, "news.png", "news-v2.png", 1)
	res, err := imp.ImportReader(ctx, strings.NewReader(updated))
	require.NoError(t, err)

	assert.Equal(t, 1, res.ChannelsUpdated)
	assert.Zero(t, res.ChannelsCreated)

	news, err := channels.GetByNumber(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "http://logos.example.com/news-v2.png", news.LogoURL)
}

func TestM3UImporter_DuplicateURLSkipped(t *testing.T) {
	imp, channels, _ := newTestImporter(t)
	ctx := context.Background()

	playlist := `#EXTM3U
#EXTINF:-1,First
http://iptv.example.com/one.ts
#EXTINF:-1,Duplicate Of First
http://iptv.example.com/one.ts
`

	res, err := imp.ImportReader(ctx, strings.NewReader(playlist))
	require.NoError(t, err)

	assert.Equal(t, 1, res.ChannelsCreated)
	assert.Equal(t, 1, res.Skipped)

	count, err := channels.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestM3UImporter_InvalidURLCollected(t *testing.T) {
	imp, channels, _ := newTestImporter(t)
	ctx := context.Background()

	playlist := `#EXTM3U
#EXTINF:-1,Broken
not-a-url
#EXTINF:-1,Working
http://iptv.example.com/ok.m3u8
`

	res, err := imp.ImportReader(ctx, strings.NewReader(playlist))
	require.NoError(t, err)

	assert.Equal(t, 1, res.ChannelsCreated)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "invalid URL")

	count, err := channels.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestM3UImporter_NumberAssignment(t *testing.T) {
	imp, channels, _ := newTestImporter(t)
	ctx := context.Background()

	existing := &models.Channel{Name: "Taken", Number: 1, Enabled: models.BoolPtr(true)}
	require.NoError(t, channels.Create(ctx, existing))

	playlist := `#EXTM3U
#EXTINF:-1 tvg-chno="1",Wants Taken Number
http://iptv.example.com/a.ts
#EXTINF:-1,No Number
http://iptv.example.com/b.ts
`

	res, err := imp.ImportReader(ctx, strings.NewReader(playlist))
	require.NoError(t, err)
	assert.Equal(t, 2, res.ChannelsCreated)

	// tvg-chno 1 collides with the existing channel and falls through to
	// sequential assignment.
	a, err := channels.GetByNumber(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Wants Taken Number", a.Name)

	b, err := channels.GetByNumber(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "No Number", b.Name)
}

func TestM3UImporter_ImportURL(t *testing.T) {
	t.Run("fetches and imports", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "audio/x-mpegurl")
			io.WriteString(w, samplePlaylist)
		}))
		defer server.Close()

		imp, channels, _ := newTestImporter(t)
		res, err := imp.ImportURL(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, 2, res.ChannelsCreated)

		count, err := channels.Count(context.Background())
		require.NoError(t, err)
		assert.EqualValues(t, 2, count)
	})

	t.Run("non-200 fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		imp, _, _ := newTestImporter(t)
		_, err := imp.ImportURL(context.Background(), server.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected status code")
	})

	t.Run("rejects non-http urls", func(t *testing.T) {
		imp, _, _ := newTestImporter(t)
		_, err := imp.ImportURL(context.Background(), "file:///etc/passwd")
		require.Error(t, err)
	})
}

func TestM3UImporter_VLCOptionsLandInStreamOptions(t *testing.T) {
	imp, channels, streams := newTestImporter(t)
	ctx := context.Background()

	playlist := `#EXTM3U
#EXTINF:-1,Tuned
#EXTVLCOPT:network-caching=1000
#EXTVLCOPT:http-user-agent=AgentX
http://iptv.example.com/tuned.ts
`

	_, err := imp.ImportReader(ctx, strings.NewReader(playlist))
	require.NoError(t, err)

	all, err := channels.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	chStreams, err := streams.GetByChannelID(ctx, all[0].ID)
	require.NoError(t, err)
	require.Len(t, chStreams, 1)

	assert.Equal(t, "AgentX", chStreams[0].Headers["User-Agent"])
	assert.Equal(t, "1000", chStreams[0].Options["network-caching"])
	assert.NotContains(t, chStreams[0].Options, "http-user-agent")
}
