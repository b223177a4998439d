package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/epgview/internal/epg"
	"github.com/jmylchreest/epgview/internal/fingerprint"
	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/internal/service"
)

// EpgHandler serves assembled schedules as JSON.
type EpgHandler struct {
	svc *service.ExportService
}

// NewEpgHandler creates an EPG handler.
func NewEpgHandler(svc *service.ExportService) *EpgHandler {
	return &EpgHandler{svc: svc}
}

// Register registers the EPG routes with the API.
func (h *EpgHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getEpg",
		Method:      "GET",
		Path:        "/api/epg",
		Summary:     "Get assembled schedules",
		Description: "Returns merged schedules for the default window",
		Tags:        []string{"EPG"},
	}, h.Get)
}

// RegisterRaw registers the conditional per-channel route on the router.
// It lives outside Huma because it speaks ETag / If-None-Match.
func (h *EpgHandler) RegisterRaw(router *chi.Mux) {
	router.Get("/api/epg/channel", h.GetChannel)
}

// GetEpgInput is the input for the assembled schedule endpoint.
type GetEpgInput struct {
	Playlist string `query:"playlist" doc:"Playlist URL override"`
	Epg      string `query:"epg" doc:"Default EPG URL override"`
	Debug    bool   `query:"debug" doc:"Include merge group diagnostics"`
}

// EpgDebug reports how the playlist was routed across sources.
type EpgDebug struct {
	Fingerprint string   `json:"fingerprint"`
	GroupURLs   []string `json:"group_urls"`
}

// GetEpgOutput is the output for the assembled schedule endpoint.
type GetEpgOutput struct {
	Body struct {
		Channels   []models.PlaylistChannel      `json:"channels"`
		Programmes map[string][]models.Programme `json:"programmes"`
		Debug      *EpgDebug                     `json:"debug,omitempty"`
	}
}

// Get assembles schedules within the default window.
func (h *EpgHandler) Get(ctx context.Context, input *GetEpgInput) (*GetEpgOutput, error) {
	req, err := h.svc.Resolve(ctx, service.ExportParams{
		PlaylistURL: input.Playlist,
		EpgURL:      input.Epg,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to resolve request", err)
	}
	// Resolve treats absent day parameters as full; the browsing API uses
	// the configured default window instead.
	req.Window = defaultWindow(req.Settings)

	sched, fp, err := h.svc.Assemble(ctx, req)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to assemble schedules", err)
	}

	out := &GetEpgOutput{}
	out.Body.Channels = sched.Channels
	out.Body.Programmes = sched.Programmes
	if input.Debug {
		debug := &EpgDebug{Fingerprint: fp}
		for _, g := range req.Groups {
			debug.GroupURLs = append(debug.GroupURLs, g.SourceURL)
		}
		out.Body.Debug = debug
	}
	return out, nil
}

func defaultWindow(settings models.Settings) epg.Window {
	now := time.Now().UTC()
	return epg.Window{
		From: now.AddDate(0, 0, -settings.PastDays),
		To:   now.AddDate(0, 0, settings.FutureDays),
	}
}

// GetChannel serves one channel's schedules in [from, to) with a
// fingerprint ETag honoring If-None-Match.
func (h *EpgHandler) GetChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	id := q.Get("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "id parameter is required")
		return
	}

	window, err := channelWindow(q.Get("from"), q.Get("to"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.svc.Resolve(ctx, service.ExportParams{PlaylistURL: q.Get("playlist")})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to resolve request")
		return
	}
	req.Window = window

	// Limit assembly to the one requested channel.
	req.Replan(filterPlaylist(req.Playlist, id))

	if err := h.svc.RefreshMirrors(ctx, req.Groups); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "mirror refresh cancelled")
		return
	}

	etag := h.svc.Fingerprint(fingerprint.KindChannel, req)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	sched, _, err := h.svc.Assemble(ctx, req)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to assemble schedules")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("ETag", etag)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"channel":    id,
		"programmes": sched.Programmes[id],
	})
}

// channelWindow parses from/to epoch-millisecond bounds.
func channelWindow(fromStr, toStr string) (epg.Window, error) {
	if fromStr == "" && toStr == "" {
		return epg.Window{Full: true}, nil
	}

	parse := func(s string) (time.Time, error) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}

	var window epg.Window
	var err error
	if fromStr != "" {
		if window.From, err = parse(fromStr); err != nil {
			return epg.Window{}, models.ErrInvalidTimeRange
		}
	}
	if toStr != "" {
		if window.To, err = parse(toStr); err != nil {
			return epg.Window{}, models.ErrInvalidTimeRange
		}
	} else {
		window.To = time.Now().UTC().AddDate(0, 0, models.DefaultFutureDays)
	}
	if !window.To.After(window.From) {
		return epg.Window{}, models.ErrInvalidTimeRange
	}
	return window, nil
}

// filterPlaylist narrows a playlist to one channel id, keeping a header-only
// stub when the playlist does not carry it.
func filterPlaylist(playlist *models.Playlist, id string) *models.Playlist {
	for _, ch := range playlist.Channels {
		if ch.ID == id {
			return &models.Playlist{Channels: []models.PlaylistChannel{ch}, EpgURL: playlist.EpgURL}
		}
	}
	return &models.Playlist{Channels: []models.PlaylistChannel{{ID: id}}, EpgURL: playlist.EpgURL}
}
