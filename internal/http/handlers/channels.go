package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/epgview/internal/epg"
	"github.com/jmylchreest/epgview/internal/httpclient"
	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/internal/store"
)

// ChannelsHandler lists playlist channels and the detected EPG URL.
type ChannelsHandler struct {
	store  *store.SettingsStore
	client *httpclient.Client
}

// NewChannelsHandler creates a channels handler.
func NewChannelsHandler(st *store.SettingsStore, client *httpclient.Client) *ChannelsHandler {
	return &ChannelsHandler{store: st, client: client}
}

// Register registers the channel routes with the API.
func (h *ChannelsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      "GET",
		Path:        "/api/channels",
		Summary:     "List playlist channels",
		Description: "Parses the playlist and returns its channels plus the detected EPG URL",
		Tags:        []string{"Channels"},
	}, h.List)
}

// ListChannelsInput is the input for listing channels.
type ListChannelsInput struct {
	Playlist string `query:"playlist" doc:"Playlist URL (defaults to the configured playlist)"`
}

// ListChannelsOutput is the output for listing channels.
type ListChannelsOutput struct {
	Body struct {
		Channels []models.PlaylistChannel `json:"channels"`
		EpgURL   string                   `json:"epgUrl,omitempty"`
	}
}

// List parses the playlist and returns channels plus the EPG hint.
func (h *ChannelsHandler) List(ctx context.Context, input *ListChannelsInput) (*ListChannelsOutput, error) {
	url := input.Playlist
	if url == "" {
		url = h.store.Settings().PlaylistURL
	}
	if url == "" {
		return nil, huma.Error400BadRequest("playlist parameter is required")
	}

	playlist, err := epg.FetchPlaylist(ctx, h.client, url)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load playlist", err)
	}

	out := &ListChannelsOutput{}
	out.Body.Channels = playlist.Channels
	out.Body.EpgURL = playlist.EpgURL
	return out, nil
}
