package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/stream"
)

// StreamingHandler exposes the session manager: live monitoring reads and
// operator session control.
type StreamingHandler struct {
	manager *stream.Manager
	logger  *slog.Logger
}

// NewStreamingHandler creates a new streaming handler.
func NewStreamingHandler(manager *stream.Manager, logger *slog.Logger) *StreamingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamingHandler{
		manager: manager,
		logger:  logger,
	}
}

// Register registers the streaming routes with the API.
func (h *StreamingHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getActiveStreams",
		Method:      "GET",
		Path:        "/api/streaming/active",
		Summary:     "Get active streams",
		Description: "Returns active sessions together with capacity, bandwidth and lifetime totals",
		Tags:        []string{"Streaming"},
	}, h.Active)

	huma.Register(api, huma.Operation{
		OperationID: "getStreamingCapacity",
		Method:      "GET",
		Path:        "/api/streaming/capacity",
		Summary:     "Get tuner capacity",
		Description: "Returns concurrent stream utilization against the configured maximum",
		Tags:        []string{"Streaming"},
	}, h.Capacity)

	huma.Register(api, huma.Operation{
		OperationID: "getStreamingBandwidth",
		Method:      "GET",
		Path:        "/api/streaming/bandwidth",
		Summary:     "Get bandwidth report",
		Description: "Returns per-session and total bitrate of active sessions",
		Tags:        []string{"Streaming"},
	}, h.Bandwidth)

	huma.Register(api, huma.Operation{
		OperationID: "getStreamingStats",
		Method:      "GET",
		Path:        "/api/streaming/stats",
		Summary:     "Get lifetime streaming totals",
		Description: "Returns session and byte totals since process start",
		Tags:        []string{"Streaming"},
	}, h.Stats)

	huma.Register(api, huma.Operation{
		OperationID: "getStreamingHistory",
		Method:      "GET",
		Path:        "/api/streaming/history",
		Summary:     "Get session history",
		Description: "Returns recently ended sessions, newest first",
		Tags:        []string{"Streaming"},
	}, h.History)

	huma.Register(api, huma.Operation{
		OperationID: "terminateSession",
		Method:      "DELETE",
		Path:        "/api/streaming/sessions/{sessionId}",
		Summary:     "Terminate session",
		Description: "Ends one active session",
		Tags:        []string{"Streaming"},
	}, h.TerminateSession)

	huma.Register(api, huma.Operation{
		OperationID: "terminateClientSessions",
		Method:      "DELETE",
		Path:        "/api/streaming/sessions/client/{clientId}",
		Summary:     "Terminate client sessions",
		Description: "Ends every active session belonging to one client fingerprint",
		Tags:        []string{"Streaming"},
	}, h.TerminateClient)

	huma.Register(api, huma.Operation{
		OperationID: "cleanupStaleSessions",
		Method:      "POST",
		Path:        "/api/streaming/cleanup",
		Summary:     "Clean up stale sessions",
		Description: "Ends sessions idle for longer than one hour",
		Tags:        []string{"Streaming"},
	}, h.Cleanup)
}

// ActiveStreamsInput is the input for the active streams report.
type ActiveStreamsInput struct{}

// ActiveStreamsOutput is the output for the active streams report.
type ActiveStreamsOutput struct {
	Body stream.ActiveReport
}

// Active returns the combined monitoring payload.
func (h *StreamingHandler) Active(ctx context.Context, input *ActiveStreamsInput) (*ActiveStreamsOutput, error) {
	return &ActiveStreamsOutput{Body: h.manager.Report(ctx)}, nil
}

// CapacityInput is the input for the capacity report.
type CapacityInput struct{}

// CapacityOutput is the output for the capacity report.
type CapacityOutput struct {
	Body stream.Capacity
}

// Capacity returns current utilization.
func (h *StreamingHandler) Capacity(ctx context.Context, input *CapacityInput) (*CapacityOutput, error) {
	return &CapacityOutput{Body: h.manager.Capacity(ctx)}, nil
}

// BandwidthInput is the input for the bandwidth report.
type BandwidthInput struct{}

// BandwidthOutput is the output for the bandwidth report.
type BandwidthOutput struct {
	Body stream.BandwidthStats
}

// Bandwidth returns the rolling bandwidth report.
func (h *StreamingHandler) Bandwidth(ctx context.Context, input *BandwidthInput) (*BandwidthOutput, error) {
	return &BandwidthOutput{Body: h.manager.Bandwidth()}, nil
}

// StatsInput is the input for lifetime totals.
type StatsInput struct{}

// StatsOutput is the output for lifetime totals.
type StatsOutput struct {
	Body stream.Summary
}

// Stats returns lifetime totals since process start.
func (h *StreamingHandler) Stats(ctx context.Context, input *StatsInput) (*StatsOutput, error) {
	return &StatsOutput{Body: h.manager.Summary()}, nil
}

// HistoryInput is the input for session history.
type HistoryInput struct {
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum rows to return"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Rows to skip"`
}

// HistoryOutput is the output for session history.
type HistoryOutput struct {
	Body struct {
		Sessions []*models.StreamSession `json:"sessions"`
		Limit    int                     `json:"limit"`
		Offset   int                     `json:"offset"`
	}
}

// History returns recently ended sessions.
func (h *StreamingHandler) History(ctx context.Context, input *HistoryInput) (*HistoryOutput, error) {
	rows, err := h.manager.History(ctx, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load session history", err)
	}

	resp := &HistoryOutput{}
	resp.Body.Sessions = rows
	resp.Body.Limit = input.Limit
	resp.Body.Offset = input.Offset
	return resp, nil
}

// TerminateSessionInput is the input for terminating one session.
type TerminateSessionInput struct {
	SessionID string `path:"sessionId" doc:"Session identifier"`
}

// TerminateSessionOutput is the output for terminating one session.
type TerminateSessionOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// TerminateSession ends one active session.
func (h *StreamingHandler) TerminateSession(ctx context.Context, input *TerminateSessionInput) (*TerminateSessionOutput, error) {
	if !h.manager.End(input.SessionID, models.EndReasonManualTermination, "terminated by operator") {
		return nil, huma.Error404NotFound(fmt.Sprintf("session %s not found", input.SessionID))
	}

	h.logger.Info("session terminated by operator",
		slog.String("session_id", input.SessionID),
	)
	resp := &TerminateSessionOutput{}
	resp.Body.Message = fmt.Sprintf("session %s terminated", input.SessionID)
	return resp, nil
}

// TerminateClientInput is the input for terminating a client's sessions.
type TerminateClientInput struct {
	ClientID string `path:"clientId" doc:"Client fingerprint"`
}

// TerminateClientOutput is the output for terminating a client's sessions.
type TerminateClientOutput struct {
	Body struct {
		Message    string `json:"message"`
		Terminated int    `json:"terminated"`
	}
}

// TerminateClient ends every active session for one client fingerprint.
func (h *StreamingHandler) TerminateClient(ctx context.Context, input *TerminateClientInput) (*TerminateClientOutput, error) {
	n := h.manager.EndClientSessions(input.ClientID, models.EndReasonManualTermination)

	h.logger.Info("client sessions terminated by operator",
		slog.String("client_id", input.ClientID),
		slog.Int("terminated", n),
	)
	resp := &TerminateClientOutput{}
	resp.Body.Message = fmt.Sprintf("terminated %d session(s) for client %s", n, input.ClientID)
	resp.Body.Terminated = n
	return resp, nil
}

// CleanupInput is the input for the stale session cleanup.
type CleanupInput struct{}

// CleanupOutput is the output for the stale session cleanup.
type CleanupOutput struct {
	Body struct {
		Message string `json:"message"`
		Cleaned int    `json:"cleaned"`
	}
}

// Cleanup ends sessions idle for longer than the stale threshold.
func (h *StreamingHandler) Cleanup(ctx context.Context, input *CleanupInput) (*CleanupOutput, error) {
	n := h.manager.CleanupIdle(stream.StaleSessionAge)

	resp := &CleanupOutput{}
	resp.Body.Message = fmt.Sprintf("cleaned up %d stale session(s)", n)
	resp.Body.Cleaned = n
	return resp, nil
}
