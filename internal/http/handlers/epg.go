package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/plexbridge/plexbridge/internal/epg"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// EPGHandler serves guide data: per-channel program queries for the
// operator API and the XMLTV document guide consumers pull.
type EPGHandler struct {
	channels repository.ChannelRepository
	sources  repository.EpgSourceRepository
	resolver *epg.Resolver
	guide    *epg.Guide
	logger   *slog.Logger
}

// NewEPGHandler creates a new EPG handler.
func NewEPGHandler(channels repository.ChannelRepository, sources repository.EpgSourceRepository, resolver *epg.Resolver, guide *epg.Guide, logger *slog.Logger) *EPGHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EPGHandler{
		channels: channels,
		sources:  sources,
		resolver: resolver,
		guide:    guide,
		logger:   logger,
	}
}

// Register registers the EPG routes with the API.
func (h *EPGHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getChannelGuide",
		Method:      "GET",
		Path:        "/api/epg/channels/{id}",
		Summary:     "Get channel guide",
		Description: "Returns programs for one channel in a time window, with the current and next program",
		Tags:        []string{"EPG"},
	}, h.ChannelGuide)

	huma.Register(api, huma.Operation{
		OperationID: "listEpgSources",
		Method:      "GET",
		Path:        "/api/epg/sources",
		Summary:     "List EPG sources",
		Description: "Returns all guide data sources",
		Tags:        []string{"EPG"},
	}, h.ListSources)

	huma.Register(api, huma.Operation{
		OperationID: "createEpgSource",
		Method:      "POST",
		Path:        "/api/epg/sources",
		Summary:     "Create EPG source",
		Description: "Registers a new XMLTV guide source",
		Tags:        []string{"EPG"},
	}, h.CreateSource)

	huma.Register(api, huma.Operation{
		OperationID: "deleteEpgSource",
		Method:      "DELETE",
		Path:        "/api/epg/sources/{id}",
		Summary:     "Delete EPG source",
		Description: "Deletes a guide source with its channels and programs",
		Tags:        []string{"EPG"},
	}, h.DeleteSource)
}

// RegisterRoutes mounts the XMLTV document as a plain route so guide
// consumers can pull it without content negotiation.
func (h *EPGHandler) RegisterRoutes(r chi.Router) {
	r.Get("/epg/xmltv.xml", h.XMLTV)
}

// ChannelGuideInput is the input for the channel guide query.
type ChannelGuideInput struct {
	ID    string `path:"id" doc:"Channel ID (ULID)"`
	Start string `query:"start" doc:"Window start, RFC 3339; defaults to now"`
	End   string `query:"end" doc:"Window end, RFC 3339; defaults to start+24h"`
}

// ChannelGuideOutput is the output for the channel guide query.
type ChannelGuideOutput struct {
	Body struct {
		ChannelID string               `json:"channel_id"`
		GuideID   string               `json:"guide_id,omitempty"`
		Current   *models.EpgProgram   `json:"current,omitempty"`
		Next      *models.EpgProgram   `json:"next,omitempty"`
		Programs  []*models.EpgProgram `json:"programs"`
	}
}

// ChannelGuide returns guide data for one channel.
func (h *EPGHandler) ChannelGuide(ctx context.Context, input *ChannelGuideInput) (*ChannelGuideOutput, error) {
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

	start := time.Now()
	if input.Start != "" {
		start, err = time.Parse(time.RFC3339, input.Start)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid start time, want RFC 3339", err)
		}
	}
	end := start.Add(24 * time.Hour)
	if input.End != "" {
		end, err = time.Parse(time.RFC3339, input.End)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid end time, want RFC 3339", err)
		}
	}
	if !end.After(start) {
		return nil, huma.Error400BadRequest("end must be after start")
	}

	resp := &ChannelGuideOutput{}
	resp.Body.ChannelID = input.ID
	resp.Body.Programs = []*models.EpgProgram{}

	guideID, err := h.resolver.Resolve(ctx, ch)
	if err != nil {
		return nil, huma.Error500InternalServerError("guide lookup failed", err)
	}
	if guideID == "" {
		// No guide mapping; an empty program list is the answer.
		return resp, nil
	}
	resp.Body.GuideID = guideID

	programs, err := h.resolver.Programs(ctx, ch, start, end)
	if err != nil {
		return nil, huma.Error500InternalServerError("guide lookup failed", err)
	}
	resp.Body.Programs = programs

	if current, err := h.resolver.Current(ctx, ch); err == nil {
		resp.Body.Current = current
	}
	if next, err := h.resolver.Next(ctx, ch); err == nil {
		resp.Body.Next = next
	}
	return resp, nil
}

// ListEpgSourcesInput is the input for listing EPG sources.
type ListEpgSourcesInput struct{}

// ListEpgSourcesOutput is the output for listing EPG sources.
type ListEpgSourcesOutput struct {
	Body struct {
		Sources []EpgSourceResponse `json:"sources"`
	}
}

// ListSources returns all guide sources.
func (h *EPGHandler) ListSources(ctx context.Context, input *ListEpgSourcesInput) (*ListEpgSourcesOutput, error) {
	sources, err := h.sources.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list EPG sources", err)
	}

	resp := &ListEpgSourcesOutput{}
	resp.Body.Sources = make([]EpgSourceResponse, 0, len(sources))
	for _, s := range sources {
		resp.Body.Sources = append(resp.Body.Sources, EpgSourceFromModel(s))
	}
	return resp, nil
}

// CreateEpgSourceInput is the input for creating an EPG source.
type CreateEpgSourceInput struct {
	Body CreateEpgSourceRequest
}

// CreateEpgSourceOutput is the output for creating an EPG source.
type CreateEpgSourceOutput struct {
	Body EpgSourceResponse
}

// CreateSource registers a guide source.
func (h *EPGHandler) CreateSource(ctx context.Context, input *CreateEpgSourceInput) (*CreateEpgSourceOutput, error) {
	existing, err := h.sources.GetByName(ctx, input.Body.Name)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to check source name", err)
	}
	if existing != nil {
		return nil, huma.Error409Conflict(fmt.Sprintf("EPG source %q already exists", input.Body.Name))
	}

	src := input.Body.ToModel()
	if err := h.sources.Create(ctx, src); err != nil {
		return nil, huma.Error500InternalServerError("failed to create EPG source", err)
	}
	return &CreateEpgSourceOutput{Body: EpgSourceFromModel(src)}, nil
}

// DeleteEpgSourceInput is the input for deleting an EPG source.
type DeleteEpgSourceInput struct {
	ID string `path:"id" doc:"EPG source ID (ULID)"`
}

// DeleteEpgSourceOutput is the output for deleting an EPG source.
type DeleteEpgSourceOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// DeleteSource removes a guide source and its data.
func (h *EPGHandler) DeleteSource(ctx context.Context, input *DeleteEpgSourceInput) (*DeleteEpgSourceOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	src, err := h.sources.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get EPG source", err)
	}
	if src == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("EPG source %s not found", input.ID))
	}

	if err := h.sources.Delete(ctx, id); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete EPG source", err)
	}

	resp := &DeleteEpgSourceOutput{}
	resp.Body.Message = fmt.Sprintf("EPG source %s deleted", input.ID)
	return resp, nil
}

// XMLTV handles GET /epg/xmltv.xml, streaming the guide document for every
// enabled channel. lookahead caps how far into the future programs are
// included, defaulting to the guide's own horizon.
func (h *EPGHandler) XMLTV(w http.ResponseWriter, r *http.Request) {
	var lookahead time.Duration
	if hours := r.URL.Query().Get("lookahead"); hours != "" {
		d, err := time.ParseDuration(hours)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid lookahead duration")
			return
		}
		lookahead = d
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if err := h.guide.WriteXMLTV(r.Context(), w, lookahead); err != nil {
		h.logger.Error("writing XMLTV guide failed", slog.String("error", err.Error()))
	}
}
