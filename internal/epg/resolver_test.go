package epg

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

func setupEpgTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Channel{},
		&models.EpgSource{},
		&models.EpgChannel{},
		&models.EpgProgram{},
	))
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type epgFixture struct {
	db       *gorm.DB
	resolver *Resolver
	source   *models.EpgSource
	programs repository.EpgProgramRepository
}

func newEpgFixture(t *testing.T, store *cache.Store) *epgFixture {
	t.Helper()
	db := setupEpgTestDB(t)

	source := &models.EpgSource{
		Name:    "Test Feed",
		URL:     "http://feed.example/xmltv.xml",
		Enabled: true,
	}
	require.NoError(t, db.Create(source).Error)

	programs := repository.NewEpgProgramRepository(db)
	resolver := NewResolver(
		repository.NewEpgChannelRepository(db),
		programs,
		store,
		discardLogger(),
	)
	return &epgFixture{db: db, resolver: resolver, source: source, programs: programs}
}

func (f *epgFixture) addGuideChannel(t *testing.T, epgID, displayName string) *models.EpgChannel {
	t.Helper()
	gc := &models.EpgChannel{
		SourceID:    f.source.ID,
		EpgID:       epgID,
		DisplayName: displayName,
	}
	require.NoError(t, f.db.Create(gc).Error)
	return gc
}

func (f *epgFixture) addProgram(t *testing.T, epgID, title string, start, end time.Time) *models.EpgProgram {
	t.Helper()
	p := &models.EpgProgram{
		SourceID:  f.source.ID,
		ChannelID: epgID,
		StartTime: start,
		EndTime:   end,
		Title:     title,
	}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

func tunerChannel(name string, number int, epgID string) *models.Channel {
	return &models.Channel{Name: name, Number: number, EpgID: epgID}
}

func TestResolver_ConfiguredEpgIDWins(t *testing.T) {
	f := newEpgFixture(t, nil)
	f.addGuideChannel(t, "uk.news24", "Completely Different Name")
	f.addGuideChannel(t, "other.id", "News 24")

	epgID, err := f.resolver.Resolve(context.Background(), tunerChannel("News 24", 101, "uk.news24"))
	require.NoError(t, err)
	assert.Equal(t, "uk.news24", epgID)
}

func TestResolver_ConfiguredIDUnknownFallsThrough(t *testing.T) {
	f := newEpgFixture(t, nil)
	f.addGuideChannel(t, "feed.news24", "News 24")

	// configured id is not in the feed, name match still finds it
	epgID, err := f.resolver.Resolve(context.Background(), tunerChannel("News 24", 101, "gone.id"))
	require.NoError(t, err)
	assert.Equal(t, "feed.news24", epgID)
}

func TestResolver_NormalizedNameMatch(t *testing.T) {
	f := newEpgFixture(t, nil)
	f.addGuideChannel(t, "feed.news24", "news 24 hd")

	epgID, err := f.resolver.Resolve(context.Background(), tunerChannel("News-24  HD", 101, ""))
	require.NoError(t, err)
	assert.Equal(t, "feed.news24", epgID)
}

func TestResolver_NumberMatch(t *testing.T) {
	f := newEpgFixture(t, nil)
	f.addGuideChannel(t, "101", "Some Guide Name")

	epgID, err := f.resolver.Resolve(context.Background(), tunerChannel("Unrelated Channel", 101, ""))
	require.NoError(t, err)
	assert.Equal(t, "101", epgID)
}

func TestResolver_NumberBeatsFuzzy(t *testing.T) {
	f := newEpgFixture(t, nil)
	f.addGuideChannel(t, "fuzzy.candidate", "Sports Arena International")
	f.addGuideChannel(t, "205", "205")

	epgID, err := f.resolver.Resolve(context.Background(), tunerChannel("Sports Arena", 205, ""))
	require.NoError(t, err)
	assert.Equal(t, "205", epgID)
}

func TestResolver_FuzzyMatch(t *testing.T) {
	f := newEpgFixture(t, nil)
	f.addGuideChannel(t, "feed.sports", "SPORTS ARENA")
	f.addGuideChannel(t, "feed.sports.intl", "Sports Arena International")

	// quality suffix differs, base names are equal
	epgID, err := f.resolver.Resolve(context.Background(), tunerChannel("Sports Arena FHD", 300, ""))
	require.NoError(t, err)
	assert.Equal(t, "feed.sports", epgID)
}

func TestResolver_FuzzyPrefersShortestContainment(t *testing.T) {
	f := newEpgFixture(t, nil)
	f.addGuideChannel(t, "feed.movies.action", "Movies Action")
	f.addGuideChannel(t, "feed.movies.action.2", "Movies Action Timeshift Plus Two")

	epgID, err := f.resolver.Resolve(context.Background(), tunerChannel("Movies", 400, ""))
	require.NoError(t, err)
	assert.Equal(t, "feed.movies.action", epgID)
}

func TestResolver_NoMatch(t *testing.T) {
	f := newEpgFixture(t, nil)
	f.addGuideChannel(t, "feed.cooking", "Cooking Daily")

	_, err := f.resolver.Resolve(context.Background(), tunerChannel("Hard News Tonight", 999, ""))
	assert.ErrorIs(t, err, ErrNoGuideMatch)
}

func TestResolver_DisabledSourceIgnored(t *testing.T) {
	f := newEpgFixture(t, nil)
	require.NoError(t, f.db.Model(f.source).UpdateColumn("enabled", false).Error)
	f.addGuideChannel(t, "feed.news24", "News 24")

	_, err := f.resolver.Resolve(context.Background(), tunerChannel("News 24", 101, ""))
	assert.ErrorIs(t, err, ErrNoGuideMatch)
}

func TestResolver_CachesMapping(t *testing.T) {
	store := cache.New(cache.Options{})
	t.Cleanup(func() { _ = store.Close() })

	f := newEpgFixture(t, store)
	gc := f.addGuideChannel(t, "feed.news24", "News 24")
	ch := tunerChannel("News 24", 101, "")
	ch.ID = models.NewULID()

	ctx := context.Background()
	epgID, err := f.resolver.Resolve(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, "feed.news24", epgID)

	// remove the row; the cached mapping still answers
	require.NoError(t, f.db.Unscoped().Delete(gc).Error)
	epgID, err = f.resolver.Resolve(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, "feed.news24", epgID)

	// invalidation forces a database walk, which now finds nothing
	f.resolver.Invalidate(ctx, ch.ID)
	_, err = f.resolver.Resolve(ctx, ch)
	assert.ErrorIs(t, err, ErrNoGuideMatch)
}

func TestResolver_Programs(t *testing.T) {
	f := newEpgFixture(t, nil)
	f.addGuideChannel(t, "feed.news24", "News 24")

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.addProgram(t, "feed.news24", "Noon Bulletin", base, base.Add(time.Hour))
	f.addProgram(t, "feed.news24", "Afternoon Show", base.Add(time.Hour), base.Add(3*time.Hour))
	f.addProgram(t, "feed.news24", "Late Night", base.Add(12*time.Hour), base.Add(13*time.Hour))

	ch := tunerChannel("News 24", 101, "")
	programs, err := f.resolver.Programs(context.Background(), ch, base.Add(30*time.Minute), base.Add(2*time.Hour))
	require.NoError(t, err)

	require.Len(t, programs, 2)
	assert.Equal(t, "Noon Bulletin", programs[0].Title)
	assert.Equal(t, "Afternoon Show", programs[1].Title)
	for _, p := range programs {
		assert.True(t, p.Overlaps(base.Add(30*time.Minute), base.Add(2*time.Hour)))
	}
}

func TestResolver_ProgramsRejectsBadWindow(t *testing.T) {
	f := newEpgFixture(t, nil)
	now := time.Now()

	_, err := f.resolver.Programs(context.Background(), tunerChannel("News 24", 101, ""), now, now.Add(-time.Hour))
	assert.ErrorIs(t, err, models.ErrInvalidTimeRange)
}

func TestResolver_CurrentAndNext(t *testing.T) {
	f := newEpgFixture(t, nil)
	f.addGuideChannel(t, "feed.news24", "News 24")

	now := time.Now()
	f.addProgram(t, "feed.news24", "On Air", now.Add(-30*time.Minute), now.Add(30*time.Minute))
	f.addProgram(t, "feed.news24", "Up Next", now.Add(30*time.Minute), now.Add(90*time.Minute))

	ch := tunerChannel("News 24", 101, "")

	current, err := f.resolver.Current(context.Background(), ch)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "On Air", current.Title)

	next, err := f.resolver.Next(context.Background(), ch)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "Up Next", next.Title)
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"News-24  HD", "news 24 hd"},
		{"NEWS 24", "news 24"},
		{"  Café+ ", "caf"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeName(tt.in), "normalizeName(%q)", tt.in)
	}
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "news 24", baseName("News 24 HD"))
	assert.Equal(t, "news 24", baseName("news 24 FHD"))
	assert.Equal(t, "sports arena", baseName("Sports Arena 4K"))
	// a lone quality token is a name, not a suffix
	assert.Equal(t, "hd", baseName("HD"))
}
