// Package epg answers guide queries for tuner channels. Guide data arrives
// through external feeds and lives in the epg_channels/epg_programs tables;
// this package only resolves which guide channel a tuner channel maps to and
// reads programs for it.
package epg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/observability"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// ErrNoGuideMatch is returned when no guide channel can be mapped to a
// tuner channel by any resolution step.
var ErrNoGuideMatch = errors.New("epg: no guide channel matches")

// qualitySuffixes are trailing tokens stripped before fuzzy comparison.
// "News 24 FHD" and "News 24" describe the same guide channel.
var qualitySuffixes = map[string]bool{
	"hd": true, "fhd": true, "uhd": true, "sd": true,
	"4k": true, "8k": true, "plus": true, "+": true,
}

// Resolver maps tuner channels to guide channels and reads their programs.
// Resolution tries, in order: the channel's configured EPG id, a normalized
// display-name equality, the channel number, and a fuzzy display-name match.
// Successful mappings are cached per channel.
type Resolver struct {
	guide    repository.EpgChannelRepository
	programs repository.EpgProgramRepository
	store    *cache.Store
	log      *slog.Logger
}

// NewResolver creates a guide resolver. The cache store may be nil, in which
// case every resolution walks the database.
func NewResolver(guide repository.EpgChannelRepository, programs repository.EpgProgramRepository, store *cache.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		guide:    guide,
		programs: programs,
		store:    store,
		log:      observability.WithComponent(logger, "epg"),
	}
}

// Resolve returns the guide channel id for a tuner channel, or
// ErrNoGuideMatch when every resolution step comes up empty.
func (r *Resolver) Resolve(ctx context.Context, channel *models.Channel) (string, error) {
	if channel == nil {
		return "", ErrNoGuideMatch
	}

	cacheKey := cache.EPGKey(channel.ID.String())
	if r.store != nil {
		var cached string
		if r.store.Get(ctx, cacheKey, &cached) && cached != "" {
			return cached, nil
		}
	}

	epgID, step, err := r.resolve(ctx, channel)
	if err != nil {
		return "", err
	}
	if epgID == "" {
		return "", ErrNoGuideMatch
	}

	if r.store != nil {
		r.store.Set(ctx, cacheKey, epgID, cache.TTLEPG)
	}
	r.log.Debug("Resolved guide channel",
		slog.String("channel", channel.Name),
		slog.String("epg_id", epgID),
		slog.String("step", step))
	return epgID, nil
}

func (r *Resolver) resolve(ctx context.Context, channel *models.Channel) (string, string, error) {
	// Step 1: the operator-configured guide id wins when the feed knows it.
	if channel.EpgID != "" {
		matches, err := r.guide.GetByEpgID(ctx, channel.EpgID)
		if err != nil {
			return "", "", fmt.Errorf("looking up configured epg id: %w", err)
		}
		if len(matches) > 0 {
			return matches[0].EpgID, "configured", nil
		}
	}

	// Step 2: exact name mapping after normalization. Candidates are kept
	// for the fuzzy step.
	var candidates []*models.EpgChannel
	if channel.Name != "" {
		var err error
		candidates, err = r.guide.SearchByDisplayName(ctx, searchFragment(channel.Name))
		if err != nil {
			return "", "", fmt.Errorf("searching guide channels: %w", err)
		}
		want := normalizeName(channel.Name)
		for _, gc := range candidates {
			if normalizeName(gc.DisplayName) == want {
				return gc.EpgID, "name", nil
			}
		}
	}

	// Step 3: guide feeds often key channels by their lineup number.
	byNumber, err := r.resolveByNumber(ctx, channel.Number)
	if err != nil {
		return "", "", err
	}
	if byNumber != "" {
		return byNumber, "number", nil
	}

	// Step 4: fuzzy display-name match over the name candidates.
	if epgID := fuzzyMatch(channel.Name, candidates); epgID != "" {
		return epgID, "fuzzy", nil
	}

	return "", "", nil
}

// resolveByNumber matches guide channels keyed by the tuner channel number,
// either as their id or as their display name.
func (r *Resolver) resolveByNumber(ctx context.Context, number int) (string, error) {
	if number <= 0 {
		return "", nil
	}
	numStr := strconv.Itoa(number)

	matches, err := r.guide.GetByEpgID(ctx, numStr)
	if err != nil {
		return "", fmt.Errorf("looking up guide id by number: %w", err)
	}
	if len(matches) > 0 {
		return matches[0].EpgID, nil
	}

	named, err := r.guide.SearchByDisplayName(ctx, numStr)
	if err != nil {
		return "", fmt.Errorf("searching guide names by number: %w", err)
	}
	for _, gc := range named {
		if strings.TrimSpace(gc.DisplayName) == numStr {
			return gc.EpgID, nil
		}
	}
	return "", nil
}

// Programs returns guide programs for a tuner channel overlapping
// [start, end), ordered by start time.
func (r *Resolver) Programs(ctx context.Context, channel *models.Channel, start, end time.Time) ([]*models.EpgProgram, error) {
	if !end.After(start) {
		return nil, models.ErrInvalidTimeRange
	}
	epgID, err := r.Resolve(ctx, channel)
	if err != nil {
		return nil, err
	}
	programs, err := r.programs.GetByChannelID(ctx, epgID, start, end)
	if err != nil {
		return nil, fmt.Errorf("loading programs: %w", err)
	}
	return programs, nil
}

// Current returns the program airing now on a tuner channel, or nil when
// the guide has a gap.
func (r *Resolver) Current(ctx context.Context, channel *models.Channel) (*models.EpgProgram, error) {
	epgID, err := r.Resolve(ctx, channel)
	if err != nil {
		return nil, err
	}
	return r.programs.GetCurrent(ctx, epgID, time.Now())
}

// Next returns the first program starting after now on a tuner channel, or
// nil when the guide runs out.
func (r *Resolver) Next(ctx context.Context, channel *models.Channel) (*models.EpgProgram, error) {
	epgID, err := r.Resolve(ctx, channel)
	if err != nil {
		return nil, err
	}
	return r.programs.GetNext(ctx, epgID, time.Now())
}

// Invalidate drops the cached mapping for a channel. Called when a channel's
// EPG association changes.
func (r *Resolver) Invalidate(ctx context.Context, channelID models.ULID) {
	if r.store != nil {
		r.store.Delete(ctx, cache.EPGKey(channelID.String()))
	}
}

// normalizeName lowercases, strips punctuation and collapses whitespace so
// "News-24  HD" and "news 24 hd" compare equal.
func normalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// baseName is normalizeName with trailing quality tokens removed.
func baseName(name string) string {
	tokens := strings.Fields(normalizeName(name))
	for len(tokens) > 1 && qualitySuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// searchFragment picks the database search term for a channel name: the
// longest word of the base name, so punctuation and quality suffixes in
// either spelling cannot hide candidates from the LIKE scan.
func searchFragment(name string) string {
	base := baseName(name)
	if base == "" {
		return name
	}
	longest := ""
	for _, tok := range strings.Fields(base) {
		if len(tok) > len(longest) {
			longest = tok
		}
	}
	if len(longest) >= 3 {
		return longest
	}
	return base
}

// fuzzyMatch scores candidates against the channel name and returns the
// guide id of the best one. Equality on base names beats prefix matches,
// which beat containment; among equals the shortest candidate wins, since
// extra words usually mean a regional or timeshift variant.
func fuzzyMatch(name string, candidates []*models.EpgChannel) string {
	want := baseName(name)
	if want == "" {
		return ""
	}

	best := ""
	bestScore := 0
	bestLen := 0
	for _, gc := range candidates {
		got := baseName(gc.DisplayName)
		if got == "" {
			continue
		}

		score := 0
		switch {
		case got == want:
			score = 3
		case strings.HasPrefix(got, want), strings.HasPrefix(want, got):
			score = 2
		case strings.Contains(got, want), strings.Contains(want, got):
			score = 1
		}
		if score == 0 {
			continue
		}
		if score > bestScore || (score == bestScore && len(got) < bestLen) {
			best = gc.EpgID
			bestScore = score
			bestLen = len(got)
		}
	}
	return best
}
