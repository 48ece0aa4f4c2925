package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/events"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// StreamHandler handles the stream metadata API. Streams hang off channels;
// mutating one can change whether its channel is playable, so the lineup
// cache is invalidated on every write.
type StreamHandler struct {
	streams  repository.StreamRepository
	channels repository.ChannelRepository
	store    *cache.Store
	hub      *events.Hub
	logger   *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(streams repository.StreamRepository, channels repository.ChannelRepository, store *cache.Store, hub *events.Hub, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		streams:  streams,
		channels: channels,
		store:    store,
		hub:      hub,
		logger:   logger,
	}
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      "GET",
		Path:        "/api/streams",
		Summary:     "List streams",
		Description: "Returns all streams, optionally filtered by channel",
		Tags:        []string{"Streams"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getStream",
		Method:      "GET",
		Path:        "/api/streams/{id}",
		Summary:     "Get stream",
		Description: "Returns a stream by ID",
		Tags:        []string{"Streams"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "createStream",
		Method:      "POST",
		Path:        "/api/streams",
		Summary:     "Create stream",
		Description: "Attaches a new stream to a channel",
		Tags:        []string{"Streams"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "updateStream",
		Method:      "PUT",
		Path:        "/api/streams/{id}",
		Summary:     "Update stream",
		Description: "Updates an existing stream",
		Tags:        []string{"Streams"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteStream",
		Method:      "DELETE",
		Path:        "/api/streams/{id}",
		Summary:     "Delete stream",
		Description: "Deletes a stream",
		Tags:        []string{"Streams"},
	}, h.Delete)
}

// ListStreamsInput is the input for listing streams.
type ListStreamsInput struct {
	ChannelID string `query:"channel_id" doc:"Restrict to one channel's streams"`
}

// ListStreamsOutput is the output for listing streams.
type ListStreamsOutput struct {
	Body struct {
		Streams []StreamResponse `json:"streams"`
	}
}

// List returns streams, for one channel or all of them.
func (h *StreamHandler) List(ctx context.Context, input *ListStreamsInput) (*ListStreamsOutput, error) {
	var (
		rows []*models.Stream
		err  error
	)
	if input.ChannelID != "" {
		id, perr := models.ParseULID(input.ChannelID)
		if perr != nil {
			return nil, huma.Error400BadRequest("invalid channel_id format", perr)
		}
		rows, err = h.streams.GetByChannelID(ctx, id)
	} else {
		rows, err = h.streams.GetAll(ctx)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list streams", err)
	}

	resp := &ListStreamsOutput{}
	resp.Body.Streams = make([]StreamResponse, 0, len(rows))
	for _, st := range rows {
		resp.Body.Streams = append(resp.Body.Streams, StreamFromModel(st))
	}
	return resp, nil
}

// GetStreamInput is the input for getting a stream.
type GetStreamInput struct {
	ID string `path:"id" doc:"Stream ID (ULID)"`
}

// GetStreamOutput is the output for getting a stream.
type GetStreamOutput struct {
	Body StreamResponse
}

// Get returns a stream by ID.
func (h *StreamHandler) Get(ctx context.Context, input *GetStreamInput) (*GetStreamOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	st, err := h.streams.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get stream", err)
	}
	if st == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("stream %s not found", input.ID))
	}

	return &GetStreamOutput{Body: StreamFromModel(st)}, nil
}

// CreateStreamInput is the input for creating a stream.
type CreateStreamInput struct {
	Body CreateStreamRequest
}

// CreateStreamOutput is the output for creating a stream.
type CreateStreamOutput struct {
	Body StreamResponse
}

// Create attaches a stream to an existing channel.
func (h *StreamHandler) Create(ctx context.Context, input *CreateStreamInput) (*CreateStreamOutput, error) {
	channelID, err := models.ParseULID(input.Body.ChannelID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel_id format", err)
	}

	ch, err := h.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get channel", err)
	}
	if ch == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("channel %s not found", input.Body.ChannelID))
	}

	st := input.Body.ToModel(channelID)
	if !st.Kind.IsValid() {
		return nil, huma.Error422UnprocessableEntity(models.ErrInvalidStreamKind.Error())
	}
	if err := h.streams.Create(ctx, st); err != nil {
		var verr models.ErrValidation
		if errors.As(err, &verr) {
			return nil, huma.Error422UnprocessableEntity(verr.Error())
		}
		return nil, huma.Error500InternalServerError("failed to create stream", err)
	}

	h.lineupChanged(ctx, "stream_created", st)
	return &CreateStreamOutput{Body: StreamFromModel(st)}, nil
}

// UpdateStreamInput is the input for updating a stream.
type UpdateStreamInput struct {
	ID   string `path:"id" doc:"Stream ID (ULID)"`
	Body UpdateStreamRequest
}

// UpdateStreamOutput is the output for updating a stream.
type UpdateStreamOutput struct {
	Body StreamResponse
}

// Update applies a partial update to a stream.
func (h *StreamHandler) Update(ctx context.Context, input *UpdateStreamInput) (*UpdateStreamOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	st, err := h.streams.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get stream", err)
	}
	if st == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("stream %s not found", input.ID))
	}

	input.Body.Apply(st)
	if !st.Kind.IsValid() {
		return nil, huma.Error422UnprocessableEntity(models.ErrInvalidStreamKind.Error())
	}
	if err := h.streams.Update(ctx, st); err != nil {
		var verr models.ErrValidation
		if errors.As(err, &verr) {
			return nil, huma.Error422UnprocessableEntity(verr.Error())
		}
		return nil, huma.Error500InternalServerError("failed to update stream", err)
	}

	// Resolved-format metadata may describe the old URL now.
	h.store.Delete(ctx, cache.StreamKey(st.ID.String()))
	h.lineupChanged(ctx, "stream_updated", st)
	return &UpdateStreamOutput{Body: StreamFromModel(st)}, nil
}

// DeleteStreamInput is the input for deleting a stream.
type DeleteStreamInput struct {
	ID string `path:"id" doc:"Stream ID (ULID)"`
}

// DeleteStreamOutput is the output for deleting a stream.
type DeleteStreamOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// Delete removes a stream.
func (h *StreamHandler) Delete(ctx context.Context, input *DeleteStreamInput) (*DeleteStreamOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	st, err := h.streams.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get stream", err)
	}
	if st == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("stream %s not found", input.ID))
	}

	if err := h.streams.Delete(ctx, id); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete stream", err)
	}

	h.store.Delete(ctx, cache.StreamKey(st.ID.String()))
	h.lineupChanged(ctx, "stream_deleted", st)
	resp := &DeleteStreamOutput{}
	resp.Body.Message = fmt.Sprintf("stream %s deleted", input.ID)
	return resp, nil
}

func (h *StreamHandler) lineupChanged(ctx context.Context, action string, st *models.Stream) {
	h.store.Delete(ctx, cache.LineupKey)
	h.hub.Publish(events.RoomLineup, events.TypeLineupChanged, map[string]any{
		"action":    action,
		"id":        st.ID.String(),
		"channelId": st.ChannelID.String(),
		"name":      st.Name,
	})
}
