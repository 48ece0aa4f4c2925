package handlers

import (
	"time"

	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/probe"
)

// Common response types

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Pagination contains pagination parameters for list requests.
type Pagination struct {
	Page  int `query:"page" default:"1" minimum:"1" doc:"Page number (1-indexed)"`
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Items per page"`
}

// PaginationMeta contains pagination metadata in responses.
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int64 `json:"total_pages"`
}

func paginationMeta(p Pagination, total int64) PaginationMeta {
	pages := total / int64(p.Limit)
	if total%int64(p.Limit) != 0 {
		pages++
	}
	return PaginationMeta{
		CurrentPage: p.Page,
		PageSize:    p.Limit,
		TotalItems:  total,
		TotalPages:  pages,
	}
}

// Channel types

// ChannelResponse represents a tuner channel in API responses.
type ChannelResponse struct {
	ID         models.ULID      `json:"id"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Name       string           `json:"name"`
	Number     int              `json:"number"`
	Enabled    bool             `json:"enabled"`
	LogoURL    string           `json:"logo_url,omitempty"`
	GroupTitle string           `json:"group_title,omitempty"`
	EpgID      string           `json:"epg_id,omitempty"`
	Streams    []StreamResponse `json:"streams,omitempty"`
}

// ChannelFromModel converts a model to a response. Streams are included
// only when the model was loaded with them.
func ChannelFromModel(ch *models.Channel) ChannelResponse {
	resp := ChannelResponse{
		ID:         ch.ID,
		CreatedAt:  ch.CreatedAt,
		UpdatedAt:  ch.UpdatedAt,
		Name:       ch.Name,
		Number:     ch.Number,
		Enabled:    ch.IsEnabled(),
		LogoURL:    ch.LogoURL,
		GroupTitle: ch.GroupTitle,
		EpgID:      ch.EpgID,
	}
	for i := range ch.Streams {
		resp.Streams = append(resp.Streams, StreamFromModel(&ch.Streams[i]))
	}
	return resp
}

// CreateChannelRequest is the request body for creating a channel.
type CreateChannelRequest struct {
	Name       string `json:"name" doc:"Display name shown in the Plex guide" minLength:"1" maxLength:"512"`
	Number     *int   `json:"number,omitempty" doc:"Tuner channel number (1-9999); next free number when omitted" minimum:"1" maximum:"9999"`
	Enabled    *bool  `json:"enabled,omitempty" doc:"Whether the channel appears in the lineup (default: true)"`
	LogoURL    string `json:"logo_url,omitempty" doc:"Channel logo URL" maxLength:"2048"`
	GroupTitle string `json:"group_title,omitempty" doc:"Grouping label from the source playlist" maxLength:"255"`
	EpgID      string `json:"epg_id,omitempty" doc:"Guide channel id for EPG matching" maxLength:"255"`
}

// ToModel converts the request to a model. Number assignment is left to
// the handler when the request omits it.
func (r *CreateChannelRequest) ToModel() *models.Channel {
	ch := &models.Channel{
		Name:       r.Name,
		LogoURL:    r.LogoURL,
		GroupTitle: r.GroupTitle,
		EpgID:      r.EpgID,
	}
	if r.Number != nil {
		ch.Number = *r.Number
	}
	if r.Enabled != nil {
		ch.Enabled = r.Enabled
	}
	return ch
}

// UpdateChannelRequest is the request body for updating a channel.
// Omitted fields are left unchanged.
type UpdateChannelRequest struct {
	Name       *string `json:"name,omitempty" minLength:"1" maxLength:"512"`
	Number     *int    `json:"number,omitempty" minimum:"1" maximum:"9999"`
	Enabled    *bool   `json:"enabled,omitempty"`
	LogoURL    *string `json:"logo_url,omitempty" maxLength:"2048"`
	GroupTitle *string `json:"group_title,omitempty" maxLength:"255"`
	EpgID      *string `json:"epg_id,omitempty" maxLength:"255"`
}

// Apply copies the set fields onto the model.
func (r *UpdateChannelRequest) Apply(ch *models.Channel) {
	if r.Name != nil {
		ch.Name = *r.Name
	}
	if r.Number != nil {
		ch.Number = *r.Number
	}
	if r.Enabled != nil {
		ch.Enabled = r.Enabled
	}
	if r.LogoURL != nil {
		ch.LogoURL = *r.LogoURL
	}
	if r.GroupTitle != nil {
		ch.GroupTitle = *r.GroupTitle
	}
	if r.EpgID != nil {
		ch.EpgID = *r.EpgID
	}
}

// Stream types

// StreamResponse represents a channel's source stream in API responses.
// Credentials are never echoed back.
type StreamResponse struct {
	ID                models.ULID       `json:"id"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	ChannelID         models.ULID       `json:"channel_id"`
	Name              string            `json:"name"`
	URL               string            `json:"url"`
	Kind              models.StreamKind `json:"kind"`
	BackupURLs        []string          `json:"backup_urls,omitempty"`
	AuthUsername      string            `json:"auth_username,omitempty"`
	HasAuthPassword   bool              `json:"has_auth_password"`
	Headers           map[string]string `json:"headers,omitempty"`
	Enabled           bool              `json:"enabled"`
	ConnectionLimited bool              `json:"connection_limited"`
}

// StreamFromModel converts a model to a response.
func StreamFromModel(st *models.Stream) StreamResponse {
	return StreamResponse{
		ID:                st.ID,
		CreatedAt:         st.CreatedAt,
		UpdatedAt:         st.UpdatedAt,
		ChannelID:         st.ChannelID,
		Name:              st.Name,
		URL:               st.URL,
		Kind:              st.Kind,
		BackupURLs:        st.BackupURLs,
		AuthUsername:      st.AuthUsername,
		HasAuthPassword:   st.AuthPassword != "",
		Headers:           st.Headers,
		Enabled:           st.IsEnabled(),
		ConnectionLimited: st.ConnectionLimited,
	}
}

// CreateStreamRequest is the request body for creating a stream.
type CreateStreamRequest struct {
	ChannelID         string            `json:"channel_id" doc:"Channel the stream belongs to (ULID)"`
	Name              string            `json:"name" doc:"Stream label" minLength:"1" maxLength:"512"`
	URL               string            `json:"url" doc:"Upstream stream URL" minLength:"1" maxLength:"4096"`
	Kind              models.StreamKind `json:"kind,omitempty" doc:"Stream kind; auto-detected from the URL when omitted" enum:"hls,dash,rtsp,rtmp,udp,http,mms,srt,ts"`
	BackupURLs        []string          `json:"backup_urls,omitempty" doc:"Failover URLs tried in order"`
	AuthUsername      string            `json:"auth_username,omitempty" maxLength:"255"`
	AuthPassword      string            `json:"auth_password,omitempty" maxLength:"255"`
	Headers           map[string]string `json:"headers,omitempty" doc:"Extra headers sent upstream"`
	Enabled           *bool             `json:"enabled,omitempty" doc:"Whether the stream is eligible for playback (default: true)"`
	ConnectionLimited *bool             `json:"connection_limited,omitempty" doc:"Serve through the keep-alive progressive handler"`
}

// ToModel converts the request to a model. The channel ID is validated by
// the handler before conversion.
func (r *CreateStreamRequest) ToModel(channelID models.ULID) *models.Stream {
	st := &models.Stream{
		ChannelID:    channelID,
		Name:         r.Name,
		URL:          r.URL,
		Kind:         r.Kind,
		BackupURLs:   r.BackupURLs,
		AuthUsername: r.AuthUsername,
		AuthPassword: r.AuthPassword,
		Headers:      r.Headers,
	}
	if st.Kind == "" {
		st.Kind = detectKind(r.URL)
	}
	if r.Enabled != nil {
		st.Enabled = r.Enabled
	}
	if r.ConnectionLimited != nil {
		st.ConnectionLimited = *r.ConnectionLimited
	}
	return st
}

// UpdateStreamRequest is the request body for updating a stream.
type UpdateStreamRequest struct {
	Name              *string            `json:"name,omitempty" minLength:"1" maxLength:"512"`
	URL               *string            `json:"url,omitempty" minLength:"1" maxLength:"4096"`
	Kind              *models.StreamKind `json:"kind,omitempty" enum:"hls,dash,rtsp,rtmp,udp,http,mms,srt,ts"`
	BackupURLs        *[]string          `json:"backup_urls,omitempty"`
	AuthUsername      *string            `json:"auth_username,omitempty" maxLength:"255"`
	AuthPassword      *string            `json:"auth_password,omitempty" maxLength:"255"`
	Headers           *map[string]string `json:"headers,omitempty"`
	Enabled           *bool              `json:"enabled,omitempty"`
	ConnectionLimited *bool              `json:"connection_limited,omitempty"`
}

// Apply copies the set fields onto the model.
func (r *UpdateStreamRequest) Apply(st *models.Stream) {
	if r.Name != nil {
		st.Name = *r.Name
	}
	if r.URL != nil {
		st.URL = *r.URL
		if r.Kind == nil {
			st.Kind = detectKind(st.URL)
		}
	}
	if r.Kind != nil {
		st.Kind = *r.Kind
	}
	if r.BackupURLs != nil {
		st.BackupURLs = *r.BackupURLs
	}
	if r.AuthUsername != nil {
		st.AuthUsername = *r.AuthUsername
	}
	if r.AuthPassword != nil {
		st.AuthPassword = *r.AuthPassword
	}
	if r.Headers != nil {
		st.Headers = *r.Headers
	}
	if r.Enabled != nil {
		st.Enabled = r.Enabled
	}
	if r.ConnectionLimited != nil {
		st.ConnectionLimited = *r.ConnectionLimited
	}
}

// detectKind classifies a stream URL by syntax, defaulting to plain HTTP.
func detectKind(url string) models.StreamKind {
	kind, ok := probe.KindFromURL(url)
	if !ok {
		return models.StreamKindHTTP
	}
	return kind
}

// EPG source types

// EpgSourceResponse represents a guide data source in API responses.
type EpgSourceResponse struct {
	ID            models.ULID            `json:"id"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Name          string                 `json:"name"`
	URL           string                 `json:"url"`
	UserAgent     string                 `json:"user_agent,omitempty"`
	Enabled       bool                   `json:"enabled"`
	Priority      int                    `json:"priority"`
	Status        models.EpgSourceStatus `json:"status"`
	LastRefreshAt *time.Time             `json:"last_refresh_at,omitempty"`
	LastError     string                 `json:"last_error,omitempty"`
	ProgramCount  int                    `json:"program_count"`
}

// EpgSourceFromModel converts a model to a response.
func EpgSourceFromModel(s *models.EpgSource) EpgSourceResponse {
	return EpgSourceResponse{
		ID:            s.ID,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		Name:          s.Name,
		URL:           s.URL,
		UserAgent:     s.UserAgent,
		Enabled:       s.Enabled,
		Priority:      s.Priority,
		Status:        s.Status,
		LastRefreshAt: s.LastRefreshAt,
		LastError:     s.LastError,
		ProgramCount:  s.ProgramCount,
	}
}

// CreateEpgSourceRequest is the request body for registering a guide source.
type CreateEpgSourceRequest struct {
	Name      string `json:"name" doc:"Unique source name" minLength:"1" maxLength:"255"`
	URL       string `json:"url" doc:"XMLTV document URL" minLength:"1" maxLength:"2048"`
	UserAgent string `json:"user_agent,omitempty" doc:"Custom User-Agent for fetches" maxLength:"512"`
	Enabled   *bool  `json:"enabled,omitempty" doc:"Whether the source is refreshed (default: true)"`
	Priority  *int   `json:"priority,omitempty" doc:"Match priority when several sources carry a channel"`
}

// ToModel converts the request to a model.
func (r *CreateEpgSourceRequest) ToModel() *models.EpgSource {
	src := &models.EpgSource{
		Name:      r.Name,
		URL:       r.URL,
		UserAgent: r.UserAgent,
		Enabled:   true,
		Status:    models.EpgSourceStatusPending,
	}
	if r.Enabled != nil {
		src.Enabled = *r.Enabled
	}
	if r.Priority != nil {
		src.Priority = *r.Priority
	}
	return src
}
