package epg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/observability"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/pkg/xmltv"
)

const (
	// defaultLookahead bounds the guide horizon when the caller does not
	// pick one. Plex refreshes its guide daily, so three days is plenty.
	defaultLookahead = 72 * time.Hour

	// lookbehind keeps the program currently airing in the document even
	// when it started before the request.
	lookbehind = time.Hour
)

// Guide renders the enabled lineup's guide data as an XMLTV document.
// Channel ids in the document are tuner channel numbers, matching the
// GuideNumber values in the HDHomeRun lineup.
type Guide struct {
	channels repository.ChannelRepository
	programs repository.EpgProgramRepository
	resolver *Resolver
	log      *slog.Logger
}

// NewGuide creates an XMLTV guide renderer.
func NewGuide(channels repository.ChannelRepository, programs repository.EpgProgramRepository, resolver *Resolver, logger *slog.Logger) *Guide {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guide{
		channels: channels,
		programs: programs,
		resolver: resolver,
		log:      observability.WithComponent(logger, "epg"),
	}
}

// WriteXMLTV writes the guide for all enabled channels covering
// [now-1h, now+lookahead). Channels without a guide mapping still appear
// as channel elements so consumers can show the full lineup.
func (g *Guide) WriteXMLTV(ctx context.Context, w io.Writer, lookahead time.Duration) error {
	if lookahead <= 0 {
		lookahead = defaultLookahead
	}
	now := time.Now()
	start := now.Add(-lookbehind)
	end := now.Add(lookahead)

	channels, err := g.channels.GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("loading lineup: %w", err)
	}

	xw := xmltv.NewWriter(w)
	if err := xw.WriteHeader(); err != nil {
		return err
	}

	type mapped struct {
		channel *models.Channel
		epgID   string
	}
	resolved := make([]mapped, 0, len(channels))

	for _, ch := range channels {
		if err := xw.WriteChannel(&xmltv.Channel{
			ID:          strconv.Itoa(ch.Number),
			DisplayName: ch.Name,
			Icon:        ch.LogoURL,
		}); err != nil {
			return err
		}

		epgID, err := g.resolver.Resolve(ctx, ch)
		if errors.Is(err, ErrNoGuideMatch) {
			g.log.Debug("Channel has no guide mapping", slog.String("channel", ch.Name))
			continue
		}
		if err != nil {
			return fmt.Errorf("resolving guide channel for %q: %w", ch.Name, err)
		}
		resolved = append(resolved, mapped{channel: ch, epgID: epgID})
	}

	for _, m := range resolved {
		programs, err := g.programs.GetByChannelID(ctx, m.epgID, start, end)
		if err != nil {
			return fmt.Errorf("loading programs for %q: %w", m.channel.Name, err)
		}
		channelID := strconv.Itoa(m.channel.Number)
		for _, p := range programs {
			if err := xw.WriteProgramme(&xmltv.Programme{
				Start:       p.StartTime,
				Stop:        p.EndTime,
				Channel:     channelID,
				Title:       p.Title,
				SubTitle:    p.SubTitle,
				Description: p.Description,
				Category:    p.Category,
				Icon:        p.Icon,
				EpisodeNum:  p.EpisodeNum,
				Rating:      p.Rating,
				Language:    p.Language,
				IsNew:       p.IsNew,
			}); err != nil {
				return err
			}
		}
	}

	return xw.WriteFooter()
}
