package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/repository"
)

// LogsHandler queries the persisted log table the slog sink writes to.
type LogsHandler struct {
	logs repository.LogRepository
}

// NewLogsHandler creates a new logs handler.
func NewLogsHandler(logs repository.LogRepository) *LogsHandler {
	return &LogsHandler{logs: logs}
}

// Register registers the logs routes with the API.
func (h *LogsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "queryLogs",
		Method:      "GET",
		Path:        "/api/logs",
		Summary:     "Query logs",
		Description: "Returns persisted log entries, newest first",
		Tags:        []string{"Logs"},
	}, h.Query)

	huma.Register(api, huma.Operation{
		OperationID: "getLogComponents",
		Method:      "GET",
		Path:        "/api/logs/components",
		Summary:     "List log components",
		Description: "Returns the distinct component values with entry counts",
		Tags:        []string{"Logs"},
	}, h.Components)

	huma.Register(api, huma.Operation{
		OperationID: "clearLogs",
		Method:      "DELETE",
		Path:        "/api/logs",
		Summary:     "Clear logs",
		Description: "Deletes all persisted log entries",
		Tags:        []string{"Logs"},
	}, h.Clear)
}

// QueryLogsInput is the input for querying logs.
type QueryLogsInput struct {
	Level     string `query:"level" doc:"Exact level filter (DEBUG, INFO, WARN, ERROR)"`
	Component string `query:"component" doc:"Emitting subsystem filter"`
	Search    string `query:"q" doc:"Case-insensitive message substring"`
	Since     string `query:"since" doc:"Lower timestamp bound, RFC 3339"`
	Until     string `query:"until" doc:"Upper timestamp bound, RFC 3339"`
	Limit     int    `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum entries to return"`
	Offset    int    `query:"offset" default:"0" minimum:"0" doc:"Entries to skip"`
}

// QueryLogsOutput is the output for querying logs.
type QueryLogsOutput struct {
	Body struct {
		Entries []*models.LogEntry `json:"entries"`
		Total   int64              `json:"total"`
		Limit   int                `json:"limit"`
		Offset  int                `json:"offset"`
	}
}

// Query returns matching log entries, newest first.
func (h *LogsHandler) Query(ctx context.Context, input *QueryLogsInput) (*QueryLogsOutput, error) {
	q := repository.LogQuery{
		Level:     strings.ToUpper(input.Level),
		Component: input.Component,
		Search:    input.Search,
		Limit:     input.Limit,
		Offset:    input.Offset,
	}
	if input.Since != "" {
		t, err := time.Parse(time.RFC3339, input.Since)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid since time, want RFC 3339", err)
		}
		q.Since = t
	}
	if input.Until != "" {
		t, err := time.Parse(time.RFC3339, input.Until)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid until time, want RFC 3339", err)
		}
		q.Until = t
	}

	entries, total, err := h.logs.Query(ctx, q)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to query logs", err)
	}

	resp := &QueryLogsOutput{}
	resp.Body.Entries = entries
	resp.Body.Total = total
	resp.Body.Limit = input.Limit
	resp.Body.Offset = input.Offset
	return resp, nil
}

// LogComponentsInput is the input for listing log components.
type LogComponentsInput struct{}

// LogComponentsOutput is the output for listing log components.
type LogComponentsOutput struct {
	Body struct {
		Components []repository.FieldValueResult `json:"components"`
	}
}

// Components returns the distinct component values.
func (h *LogsHandler) Components(ctx context.Context, input *LogComponentsInput) (*LogComponentsOutput, error) {
	components, err := h.logs.Components(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list log components", err)
	}

	resp := &LogComponentsOutput{}
	resp.Body.Components = components
	return resp, nil
}

// ClearLogsInput is the input for clearing logs.
type ClearLogsInput struct{}

// ClearLogsOutput is the output for clearing logs.
type ClearLogsOutput struct {
	Body struct {
		Removed int64 `json:"removed"`
	}
}

// Clear deletes every persisted entry.
func (h *LogsHandler) Clear(ctx context.Context, input *ClearLogsInput) (*ClearLogsOutput, error) {
	removed, err := h.logs.Clear(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to clear logs", err)
	}

	resp := &ClearLogsOutput{}
	resp.Body.Removed = removed
	return resp, nil
}
