package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/plexbridge/plexbridge/internal/logo"
	"github.com/plexbridge/plexbridge/internal/models"
)

// LogoHandler serves channel logos through the caching proxy. Plex fetches
// these straight from lineup URLs, so the route is plain chi.
type LogoHandler struct {
	logos  *logo.Service
	logger *slog.Logger
}

// NewLogoHandler creates a new logo handler.
func NewLogoHandler(logos *logo.Service, logger *slog.Logger) *LogoHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogoHandler{
		logos:  logos,
		logger: logger,
	}
}

// RegisterRoutes mounts the logo route.
func (h *LogoHandler) RegisterRoutes(r chi.Router) {
	r.Get("/logos/{channelID}", h.ChannelLogo)
}

// ChannelLogo handles GET /logos/{channelID}?size=. Responses are cached
// upstream bytes, so clients may cache aggressively too.
func (h *LogoHandler) ChannelLogo(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseULID(chi.URLParam(r, "channelID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid channel ID")
		return
	}

	size := 0
	if raw := r.URL.Query().Get("size"); raw != "" {
		size, err = strconv.Atoi(raw)
		if err != nil || size < 0 || size > 2048 {
			writeJSONError(w, http.StatusBadRequest, "size must be between 0 and 2048")
			return
		}
	}

	img, err := h.logos.ChannelLogo(r.Context(), id, size)
	if err != nil {
		if errors.Is(err, logo.ErrChannelNotFound) {
			writeJSONError(w, http.StatusNotFound, "channel not found")
			return
		}
		h.logger.Warn("logo fetch failed",
			slog.String("channel_id", id.String()),
			slog.String("error", err.Error()),
		)
		writeJSONError(w, http.StatusBadGateway, "logo unavailable")
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}
