package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/settings"
)

// SettingsHandler exposes the persisted configuration tree. Side effects of
// an update (SSDP re-announce, capacity changes) run through the settings
// service's subscriber list, not through this handler.
type SettingsHandler struct {
	service *settings.Service
	logger  *slog.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(service *settings.Service, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{
		service: service,
		logger:  logger,
	}
}

// Register registers the settings routes with the API.
func (h *SettingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSettings",
		Method:      "GET",
		Path:        "/api/settings",
		Summary:     "Get settings",
		Description: "Returns the full merged settings tree (defaults overlaid with persisted values)",
		Tags:        []string{"Settings"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateSettings",
		Method:      "PUT",
		Path:        "/api/settings",
		Summary:     "Update settings",
		Description: "Merges a partial settings tree; unknown branches are stored as written",
		Tags:        []string{"Settings"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "resetSettings",
		Method:      "POST",
		Path:        "/api/settings/reset",
		Summary:     "Reset settings",
		Description: "Removes persisted overrides for one category, or all of them",
		Tags:        []string{"Settings"},
	}, h.Reset)
}

// GetSettingsInput is the input for reading settings.
type GetSettingsInput struct{}

// GetSettingsOutput is the output for reading settings.
type GetSettingsOutput struct {
	Body settings.Settings
}

// Get returns the merged settings tree.
func (h *SettingsHandler) Get(ctx context.Context, input *GetSettingsInput) (*GetSettingsOutput, error) {
	tree, err := h.service.Load(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load settings", err)
	}
	return &GetSettingsOutput{Body: tree}, nil
}

// UpdateSettingsInput is the input for updating settings. The body is a
// partial tree; only the leaves present are written.
type UpdateSettingsInput struct {
	Body map[string]any
}

// UpdateSettingsOutput is the output for updating settings.
type UpdateSettingsOutput struct {
	Body settings.Settings
}

// Update persists a partial tree and returns the resulting merged tree.
func (h *SettingsHandler) Update(ctx context.Context, input *UpdateSettingsInput) (*UpdateSettingsOutput, error) {
	if len(input.Body) == 0 {
		return nil, huma.Error400BadRequest("request body must contain at least one setting")
	}

	tree, err := h.service.Update(ctx, input.Body)
	if err != nil {
		var verr models.ErrValidation
		if errors.As(err, &verr) {
			return nil, huma.Error422UnprocessableEntity(verr.Error())
		}
		return nil, huma.Error500InternalServerError("failed to update settings", err)
	}

	return &UpdateSettingsOutput{Body: tree}, nil
}

// ResetSettingsRequest is the request body for resetting settings.
type ResetSettingsRequest struct {
	Category string `json:"category,omitempty" doc:"Top-level category to reset; everything when omitted"`
}

// ResetSettingsInput is the input for resetting settings.
type ResetSettingsInput struct {
	Body ResetSettingsRequest
}

// ResetSettingsOutput is the output for resetting settings.
type ResetSettingsOutput struct {
	Body settings.Settings
}

// Reset reverts one category, or the whole tree, to defaults.
func (h *SettingsHandler) Reset(ctx context.Context, input *ResetSettingsInput) (*ResetSettingsOutput, error) {
	tree, err := h.service.Reset(ctx, input.Body.Category)
	if err != nil {
		var verr models.ErrValidation
		if errors.As(err, &verr) {
			return nil, huma.Error422UnprocessableEntity(
				verr.Error() + "; valid categories: " + strings.Join(settings.Categories(), ", "))
		}
		return nil, huma.Error500InternalServerError("failed to reset settings", err)
	}

	return &ResetSettingsOutput{Body: tree}, nil
}
