// Package handlers provides the HTTP API handlers: the HDHomeRun surface
// Plex talks to and the operator JSON API.
package handlers

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/internal/settings"
	"github.com/plexbridge/plexbridge/internal/stream"
	"github.com/plexbridge/plexbridge/pkg/m3u"
)

// Plex validates these against its HDHomeRun device catalog; the tuner
// impersonates a well-known model so no catalog entry is needed.
const (
	hdhrFirmwareName = "hdhomeruntc_atsc"
	hdhrDeviceAuth   = "test1234"
)

// HDHRHandler serves the HDHomeRun tuner surface: device discovery, the
// channel lineup, and the per-channel stream endpoints. Responses keep the
// exact field names Plex expects, so these are plain chi handlers rather
// than API operations.
type HDHRHandler struct {
	settings *settings.Service
	channels repository.ChannelRepository
	store    *cache.Store
	proxy    *stream.Proxy
	logger   *slog.Logger
}

// NewHDHRHandler creates the tuner surface handler.
func NewHDHRHandler(svc *settings.Service, channels repository.ChannelRepository, store *cache.Store, proxy *stream.Proxy, logger *slog.Logger) *HDHRHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HDHRHandler{
		settings: svc,
		channels: channels,
		store:    store,
		proxy:    proxy,
		logger:   logger,
	}
}

// RegisterRoutes mounts the tuner endpoints on the router root. Plex probes
// these exact paths.
func (h *HDHRHandler) RegisterRoutes(r chi.Router) {
	r.Get("/discover.json", h.Discover)
	r.Get("/device.xml", h.DeviceXML)
	r.Get("/lineup.json", h.Lineup)
	r.Get("/lineup.m3u", h.LineupM3U)
	r.Get("/lineup_status.json", h.LineupStatus)
	r.Post("/lineup.post", h.LineupPost)
	r.Get("/stream/{channelID}", h.Stream)
	r.Get("/stream/{channelID}/*", h.Segment)
}

// discoverResponse is the discover.json document. Field names are part of
// the HDHomeRun protocol.
type discoverResponse struct {
	FriendlyName    string `json:"FriendlyName"`
	Manufacturer    string `json:"Manufacturer"`
	ModelNumber     string `json:"ModelNumber"`
	FirmwareName    string `json:"FirmwareName"`
	FirmwareVersion string `json:"FirmwareVersion"`
	DeviceID        string `json:"DeviceID"`
	DeviceAuth      string `json:"DeviceAuth"`
	BaseURL         string `json:"BaseURL"`
	LineupURL       string `json:"LineupURL"`
	TunerCount      int    `json:"TunerCount"`
}

// Discover handles GET /discover.json.
func (h *HDHRHandler) Discover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	base := h.baseURL(ctx, r)

	resp := discoverResponse{
		FriendlyName:    h.settings.GetString(ctx, "device.name", "PlexBridge"),
		Manufacturer:    h.settings.GetString(ctx, "ssdp.manufacturer", "Silicondust"),
		ModelNumber:     h.settings.GetString(ctx, "ssdp.modelNumber", "HDTC-2US"),
		FirmwareName:    hdhrFirmwareName,
		FirmwareVersion: h.settings.GetString(ctx, "device.firmware", "1.0.0"),
		DeviceID:        h.settings.GetString(ctx, "device.id", "PLEXTV001"),
		DeviceAuth:      hdhrDeviceAuth,
		BaseURL:         base,
		LineupURL:       base + "/lineup.json",
		TunerCount:      h.settings.GetInt(ctx, "device.tunerCount", 4),
	}

	writeJSON(w, http.StatusOK, resp)
}

// upnpDevice is the device.xml root-device description.
type upnpDevice struct {
	XMLName     xml.Name `xml:"root"`
	Xmlns       string   `xml:"xmlns,attr"`
	SpecVersion struct {
		Major int `xml:"major"`
		Minor int `xml:"minor"`
	} `xml:"specVersion"`
	URLBase string `xml:"URLBase"`
	Device  struct {
		DeviceType   string `xml:"deviceType"`
		FriendlyName string `xml:"friendlyName"`
		Manufacturer string `xml:"manufacturer"`
		ModelName    string `xml:"modelName"`
		ModelNumber  string `xml:"modelNumber"`
		SerialNumber string `xml:"serialNumber"`
		UDN          string `xml:"UDN"`
	} `xml:"device"`
}

// DeviceXML handles GET /device.xml, the UPnP description SSDP points at.
func (h *HDHRHandler) DeviceXML(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	doc := upnpDevice{Xmlns: "urn:schemas-upnp-org:device-1-0"}
	doc.SpecVersion.Major = 1
	doc.SpecVersion.Minor = 0
	doc.URLBase = h.baseURL(ctx, r)
	doc.Device.DeviceType = "urn:schemas-upnp-org:device:MediaServer:1"
	doc.Device.FriendlyName = h.settings.GetString(ctx, "device.name", "PlexBridge")
	doc.Device.Manufacturer = h.settings.GetString(ctx, "ssdp.manufacturer", "Silicondust")
	doc.Device.ModelName = h.settings.GetString(ctx, "ssdp.modelName", "HDTC-2US")
	doc.Device.ModelNumber = h.settings.GetString(ctx, "ssdp.modelNumber", "HDTC-2US")
	doc.Device.SerialNumber = h.settings.GetString(ctx, "device.id", "PLEXTV001")
	doc.Device.UDN = "uuid:" + h.settings.GetString(ctx, "ssdp.deviceUuid", "")

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, xml.Header)
	if err := xml.NewEncoder(w).Encode(doc); err != nil {
		h.logger.Warn("writing device.xml failed", slog.String("error", err.Error()))
	}
}

// lineupEntry is one lineup.json element. GuideNumber/GuideName/URL are the
// field names Plex matches against its guide.
type lineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
}

// lineupChannel is the host-independent form cached between requests; the
// stream URL is rendered per request so the advertised host stays correct.
type lineupChannel struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Name   string `json:"name"`
}

// Lineup handles GET /lineup.json: every enabled channel that has at least
// one enabled stream.
func (h *HDHRHandler) Lineup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	channels, err := h.lineupChannels(ctx)
	if err != nil {
		h.logger.Error("building lineup failed", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "lineup unavailable")
		return
	}

	base := h.baseURL(ctx, r)
	lineup := make([]lineupEntry, 0, len(channels))
	for _, ch := range channels {
		lineup = append(lineup, lineupEntry{
			GuideNumber: strconv.Itoa(ch.Number),
			GuideName:   ch.Name,
			URL:         base + "/stream/" + ch.ID,
		})
	}

	writeJSON(w, http.StatusOK, lineup)
}

// lineupChannels returns the playable channels, served from the cache when
// fresh. Imports and channel edits invalidate the key.
func (h *HDHRHandler) lineupChannels(ctx context.Context) ([]lineupChannel, error) {
	var cached []lineupChannel
	if h.store.Get(ctx, cache.LineupKey, &cached) {
		return cached, nil
	}

	rows, err := h.channels.GetEnabledWithStreams(ctx)
	if err != nil {
		return nil, err
	}

	channels := make([]lineupChannel, 0, len(rows))
	for _, ch := range rows {
		playable := false
		for _, st := range ch.Streams {
			if st.IsEnabled() {
				playable = true
				break
			}
		}
		if !playable {
			continue
		}
		channels = append(channels, lineupChannel{
			ID:     ch.ID.String(),
			Number: ch.Number,
			Name:   ch.Name,
		})
	}

	h.store.Set(ctx, cache.LineupKey, channels, cache.TTLLineup)
	return channels, nil
}

// LineupM3U handles GET /lineup.m3u: the same lineup as a playlist, for
// players that take an M3U instead of speaking HDHomeRun.
func (h *HDHRHandler) LineupM3U(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rows, err := h.channels.GetEnabledWithStreams(ctx)
	if err != nil {
		h.logger.Error("building lineup failed", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "lineup unavailable")
		return
	}

	base := h.baseURL(ctx, r)
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	w.WriteHeader(http.StatusOK)

	writer := m3u.NewWriter(w)
	if err := writer.WriteHeader(); err != nil {
		return
	}
	for _, ch := range rows {
		playable := false
		for _, st := range ch.Streams {
			if st.IsEnabled() {
				playable = true
				break
			}
		}
		if !playable {
			continue
		}
		logoURL := ""
		if ch.LogoURL != "" {
			logoURL = base + "/logos/" + ch.ID.String()
		}
		entry := &m3u.Entry{
			TvgID:         ch.EpgID,
			TvgName:       ch.Name,
			TvgLogo:       logoURL,
			GroupTitle:    ch.GroupTitle,
			ChannelNumber: ch.Number,
			Title:         ch.Name,
			URL:           base + "/stream/" + ch.ID.String(),
		}
		if err := writer.WriteEntry(entry); err != nil {
			return
		}
	}
}

// LineupStatus handles GET /lineup_status.json with the static readiness
// object Plex expects from a cable tuner.
func (h *HDHRHandler) LineupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ScanInProgress": 0,
		"ScanPossible":   1,
		"Source":         "Cable",
		"SourceList":     []string{"Cable"},
	})
}

// LineupPost handles POST /lineup.post?scan=start. There is nothing to
// scan; Plex just needs the 200.
func (h *HDHRHandler) LineupPost(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Stream handles GET /stream/{channelID}: the actual tuner channel.
func (h *HDHRHandler) Stream(w http.ResponseWriter, r *http.Request) {
	h.proxy.ServeChannel(w, r, chi.URLParam(r, "channelID"))
}

// Segment handles GET /stream/{channelID}/{segment...} for segments
// referenced by rewritten HLS playlists.
func (h *HDHRHandler) Segment(w http.ResponseWriter, r *http.Request) {
	h.proxy.ServeSegment(w, r, chi.URLParam(r, "channelID"), chi.URLParam(r, "*"))
}

// baseURL builds http://{advertisedHost}:{streamingPort} for URLs handed to
// Plex, falling back to the host the request arrived on.
func (h *HDHRHandler) baseURL(ctx context.Context, r *http.Request) string {
	host := h.settings.GetString(ctx, "network.advertisedHost", "")
	if host == "" {
		host = requestHost(r)
	}
	port := h.settings.GetInt(ctx, "network.streamingPort", 8080)
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// requestHost strips the port from the inbound Host header.
func requestHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.Host); err == nil {
		return host
	}
	return r.Host
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes {"error": message} with the given status.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
