// Package logo serves channel artwork. Upstream images are fetched through
// the resilient HTTP client, cached in the KV store for a day, optionally
// downscaled, and replaced with a generated placeholder when the channel has
// no usable logo and the compatibility fallback is enabled.
package logo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"

	// Register decoders for the formats logo providers actually serve.
	_ "image/gif"
	_ "image/jpeg"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/pkg/httpclient"
)

// Service errors surfaced to the HTTP layer.
var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrNoLogo          = errors.New("channel has no logo")
)

const (
	// maxLogoBytes caps the downloaded image size.
	maxLogoBytes = 8 << 20

	// maxLogoDimension bounds the ?size= request parameter.
	maxLogoDimension = 1024

	fallbackSetting = "compatibility.channelLogoFallback"
)

// Logo is a servable image blob.
type Logo struct {
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// Settings provides the compatibility switches the service honors.
type Settings interface {
	GetBool(ctx context.Context, path string, def bool) bool
}

// Service resolves channel logos.
type Service struct {
	channels repository.ChannelRepository
	store    *cache.Store
	client   *httpclient.Client
	settings Settings
	log      *slog.Logger
}

// NewService creates a logo service. client may be nil; a default resilient
// client is then used.
func NewService(channels repository.ChannelRepository, store *cache.Store, settings Settings, client *httpclient.Client, logger *slog.Logger) *Service {
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		channels: channels,
		store:    store,
		client:   client,
		settings: settings,
		log:      logger,
	}
}

// ChannelLogo returns the logo for a channel, fetching and caching it on
// first use. size > 0 requests a downscale to fit a size×size box; the
// original is never upscaled.
func (s *Service) ChannelLogo(ctx context.Context, channelID models.ULID, size int) (*Logo, error) {
	if size < 0 {
		size = 0
	}
	if size > maxLogoDimension {
		size = maxLogoDimension
	}

	key := cacheKey(channelID, size)
	var cached Logo
	if s.store.Get(ctx, key, &cached) {
		return &cached, nil
	}

	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("loading channel: %w", err)
	}
	if ch == nil {
		return nil, ErrChannelNotFound
	}

	logo, err := s.resolve(ctx, ch, size)
	if err != nil {
		return nil, err
	}

	s.store.Set(ctx, key, logo, cache.TTLLogo)
	return logo, nil
}

// Invalidate drops every cached variant of a channel's logo. Called when
// the channel's logo URL changes.
func (s *Service) Invalidate(ctx context.Context, channelID models.ULID) {
	for _, key := range s.store.Keys(ctx, cache.LogoKey(channelID.String())+"*") {
		s.store.Delete(ctx, key)
	}
}

// resolve produces the logo bytes: upstream fetch when the channel has a
// URL, the generated placeholder otherwise.
func (s *Service) resolve(ctx context.Context, ch *models.Channel, size int) (*Logo, error) {
	if ch.LogoURL == "" {
		return s.fallback(ctx, ch, size)
	}

	logo, err := s.fetch(ctx, ch.LogoURL)
	if err != nil {
		s.log.Warn("logo fetch failed",
			slog.String("channel", ch.Name),
			slog.String("url", ch.LogoURL),
			slog.String("error", err.Error()))
		return s.fallback(ctx, ch, size)
	}

	if size > 0 && !isSVG(logo.ContentType) {
		if scaled, err := downscale(logo, size); err == nil {
			logo = scaled
		} else {
			s.log.Debug("logo downscale failed, serving original",
				slog.String("channel", ch.Name),
				slog.String("error", err.Error()))
		}
	}

	return logo, nil
}

// fallback returns the generated placeholder, or ErrNoLogo when the
// compatibility switch disables placeholders.
func (s *Service) fallback(ctx context.Context, ch *models.Channel, size int) (*Logo, error) {
	if s.settings != nil && !s.settings.GetBool(ctx, fallbackSetting, true) {
		return nil, ErrNoLogo
	}
	return Placeholder(ch.Name, ch.Number, size), nil
}

// fetch downloads the image at url.
func (s *Service) fetch(ctx context.Context, url string) (*Logo, error) {
	resp, err := s.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxLogoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(data) > maxLogoBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxLogoBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType == "" {
		contentType = "image/png"
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("unexpected content type %q", contentType)
	}

	return &Logo{ContentType: contentType, Data: data}, nil
}

// downscale re-encodes the image to fit within a size×size box, preserving
// aspect ratio. Images already inside the box pass through untouched.
func downscale(logo *Logo, size int) (*Logo, error) {
	img, _, err := image.Decode(bytes.NewReader(logo.Data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= size && h <= size {
		return logo, nil
	}

	scale := float64(size) / float64(max(w, h))
	nw := max(1, int(float64(w)*scale))
	nh := max(1, int(float64(h)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return &Logo{ContentType: "image/png", Data: buf.Bytes()}, nil
}

func isSVG(contentType string) bool {
	return contentType == "image/svg+xml"
}

func cacheKey(channelID models.ULID, size int) string {
	key := cache.LogoKey(channelID.String())
	if size > 0 {
		key = fmt.Sprintf("%s:%d", key, size)
	}
	return key
}
