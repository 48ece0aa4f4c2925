package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/events"
	"github.com/plexbridge/plexbridge/internal/ingestor"
	"github.com/plexbridge/plexbridge/internal/logo"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// ChannelHandler handles the channel metadata API. All lineup mutations go
// through here, so it owns invalidating the cached lineup and notifying the
// event bus.
type ChannelHandler struct {
	channels repository.ChannelRepository
	importer *ingestor.M3UImporter
	logos    *logo.Service
	store    *cache.Store
	hub      *events.Hub
	logger   *slog.Logger
}

// NewChannelHandler creates a new channel handler.
func NewChannelHandler(channels repository.ChannelRepository, importer *ingestor.M3UImporter, logos *logo.Service, store *cache.Store, hub *events.Hub, logger *slog.Logger) *ChannelHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelHandler{
		channels: channels,
		importer: importer,
		logos:    logos,
		store:    store,
		hub:      hub,
		logger:   logger,
	}
}

// Register registers the channel routes with the API.
func (h *ChannelHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      "GET",
		Path:        "/api/channels",
		Summary:     "List channels",
		Description: "Returns a paginated list of tuner channels",
		Tags:        []string{"Channels"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getChannel",
		Method:      "GET",
		Path:        "/api/channels/{id}",
		Summary:     "Get channel",
		Description: "Returns a channel with its streams",
		Tags:        []string{"Channels"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "createChannel",
		Method:      "POST",
		Path:        "/api/channels",
		Summary:     "Create channel",
		Description: "Creates a new tuner channel",
		Tags:        []string{"Channels"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "updateChannel",
		Method:      "PUT",
		Path:        "/api/channels/{id}",
		Summary:     "Update channel",
		Description: "Updates an existing channel",
		Tags:        []string{"Channels"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteChannel",
		Method:      "DELETE",
		Path:        "/api/channels/{id}",
		Summary:     "Delete channel",
		Description: "Deletes a channel and all of its streams",
		Tags:        []string{"Channels"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "importM3U",
		Method:      "POST",
		Path:        "/api/channels/import/m3u",
		Summary:     "Import M3U playlist",
		Description: "Creates or refreshes channels and streams from an M3U playlist URL or inline document",
		Tags:        []string{"Channels"},
	}, h.ImportM3U)
}

// ListChannelsInput is the input for listing channels.
type ListChannelsInput struct {
	Pagination
	Search  string `query:"search" doc:"Case-insensitive name filter"`
	Group   string `query:"group" doc:"Exact group title filter"`
	Enabled *bool  `query:"enabled" doc:"Filter by enabled state"`
}

// ListChannelsOutput is the output for listing channels.
type ListChannelsOutput struct {
	Body struct {
		Channels   []ChannelResponse `json:"channels"`
		Pagination PaginationMeta    `json:"pagination"`
	}
}

// List returns the channel lineup, filtered and paginated.
func (h *ChannelHandler) List(ctx context.Context, input *ListChannelsInput) (*ListChannelsOutput, error) {
	rows, err := h.channels.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list channels", err)
	}

	filtered := rows[:0:0]
	search := strings.ToLower(input.Search)
	for _, ch := range rows {
		if search != "" && !strings.Contains(strings.ToLower(ch.Name), search) {
			continue
		}
		if input.Group != "" && ch.GroupTitle != input.Group {
			continue
		}
		if input.Enabled != nil && ch.IsEnabled() != *input.Enabled {
			continue
		}
		filtered = append(filtered, ch)
	}

	total := int64(len(filtered))
	start := (input.Page - 1) * input.Limit
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + input.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	resp := &ListChannelsOutput{}
	resp.Body.Channels = make([]ChannelResponse, 0, end-start)
	for _, ch := range filtered[start:end] {
		resp.Body.Channels = append(resp.Body.Channels, ChannelFromModel(ch))
	}
	resp.Body.Pagination = paginationMeta(input.Pagination, total)
	return resp, nil
}

// GetChannelInput is the input for getting a channel.
type GetChannelInput struct {
	ID string `path:"id" doc:"Channel ID (ULID)"`
}

// GetChannelOutput is the output for getting a channel.
type GetChannelOutput struct {
	Body ChannelResponse
}

// Get returns a channel with its streams.
func (h *ChannelHandler) Get(ctx context.Context, input *GetChannelInput) (*GetChannelOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	ch, err := h.channels.GetByIDWithStreams(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get channel", err)
	}
	if ch == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("channel %s not found", input.ID))
	}

	return &GetChannelOutput{Body: ChannelFromModel(ch)}, nil
}

// CreateChannelInput is the input for creating a channel.
type CreateChannelInput struct {
	Body CreateChannelRequest
}

// CreateChannelOutput is the output for creating a channel.
type CreateChannelOutput struct {
	Body ChannelResponse
}

// Create creates a channel. When the request carries no number the next
// free lineup number is assigned.
func (h *ChannelHandler) Create(ctx context.Context, input *CreateChannelInput) (*CreateChannelOutput, error) {
	ch := input.Body.ToModel()

	if ch.Number == 0 {
		max, err := h.channels.MaxNumber(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to assign channel number", err)
		}
		ch.Number = max + 1
	}

	if err := h.channels.Create(ctx, ch); err != nil {
		if errors.Is(err, models.ErrChannelNumberTaken) {
			return nil, huma.Error409Conflict(fmt.Sprintf("channel number %d is already in use", ch.Number))
		}
		var verr models.ErrValidation
		if errors.As(err, &verr) {
			return nil, huma.Error422UnprocessableEntity(verr.Error())
		}
		return nil, huma.Error500InternalServerError("failed to create channel", err)
	}

	h.lineupChanged(ctx, "created", ch)
	return &CreateChannelOutput{Body: ChannelFromModel(ch)}, nil
}

// UpdateChannelInput is the input for updating a channel.
type UpdateChannelInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body UpdateChannelRequest
}

// UpdateChannelOutput is the output for updating a channel.
type UpdateChannelOutput struct {
	Body ChannelResponse
}

// Update applies a partial update to a channel.
func (h *ChannelHandler) Update(ctx context.Context, input *UpdateChannelInput) (*UpdateChannelOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	ch, err := h.channels.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get channel", err)
	}
	if ch == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("channel %s not found", input.ID))
	}

	logoChanged := input.Body.LogoURL != nil && *input.Body.LogoURL != ch.LogoURL
	input.Body.Apply(ch)

	if err := h.channels.Update(ctx, ch); err != nil {
		if errors.Is(err, models.ErrChannelNumberTaken) {
			return nil, huma.Error409Conflict(fmt.Sprintf("channel number %d is already in use", ch.Number))
		}
		var verr models.ErrValidation
		if errors.As(err, &verr) {
			return nil, huma.Error422UnprocessableEntity(verr.Error())
		}
		return nil, huma.Error500InternalServerError("failed to update channel", err)
	}

	if logoChanged {
		h.logos.Invalidate(ctx, ch.ID)
	}
	h.lineupChanged(ctx, "updated", ch)
	return &UpdateChannelOutput{Body: ChannelFromModel(ch)}, nil
}

// DeleteChannelInput is the input for deleting a channel.
type DeleteChannelInput struct {
	ID string `path:"id" doc:"Channel ID (ULID)"`
}

// DeleteChannelOutput is the output for deleting a channel.
type DeleteChannelOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// Delete removes a channel and its streams.
func (h *ChannelHandler) Delete(ctx context.Context, input *DeleteChannelInput) (*DeleteChannelOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	ch, err := h.channels.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get channel", err)
	}
	if ch == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("channel %s not found", input.ID))
	}

	if err := h.channels.Delete(ctx, id); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete channel", err)
	}

	h.lineupChanged(ctx, "deleted", ch)
	resp := &DeleteChannelOutput{}
	resp.Body.Message = fmt.Sprintf("channel %s deleted", input.ID)
	return resp, nil
}

// ImportM3URequest is the request body for importing an M3U playlist.
// Exactly one of url or playlist must be set.
type ImportM3URequest struct {
	URL      string `json:"url,omitempty" doc:"Playlist URL to fetch; gzip/bzip2/xz/brotli payloads are decompressed" maxLength:"4096"`
	Playlist string `json:"playlist,omitempty" doc:"Inline M3U document"`
}

// ImportM3UInput is the input for importing an M3U playlist.
type ImportM3UInput struct {
	Body ImportM3URequest
}

// ImportM3UOutput is the output for importing an M3U playlist.
type ImportM3UOutput struct {
	Body ingestor.Result
}

// ImportM3U feeds the lineup from an M3U playlist.
func (h *ChannelHandler) ImportM3U(ctx context.Context, input *ImportM3UInput) (*ImportM3UOutput, error) {
	hasURL := input.Body.URL != ""
	hasInline := input.Body.Playlist != ""
	if hasURL == hasInline {
		return nil, huma.Error400BadRequest("exactly one of url or playlist is required")
	}

	var (
		result *ingestor.Result
		err    error
	)
	if hasURL {
		if err := h.importer.ValidateURL(input.Body.URL); err != nil {
			return nil, huma.Error400BadRequest("invalid playlist URL", err)
		}
		result, err = h.importer.ImportURL(ctx, input.Body.URL)
	} else {
		result, err = h.importer.ImportReader(ctx, strings.NewReader(input.Body.Playlist))
	}
	if err != nil {
		return nil, huma.Error502BadGateway("playlist import failed", err)
	}

	return &ImportM3UOutput{Body: *result}, nil
}

// lineupChanged drops the cached lineup and tells subscribers to re-fetch.
func (h *ChannelHandler) lineupChanged(ctx context.Context, action string, ch *models.Channel) {
	h.store.Delete(ctx, cache.LineupKey)
	h.hub.Publish(events.RoomLineup, events.TypeLineupChanged, map[string]any{
		"action":  action,
		"id":      ch.ID.String(),
		"number":  ch.Number,
		"name":    ch.Name,
		"enabled": ch.IsEnabled(),
	})
}
