package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/internal/store"
)

// SettingsHandler reads and updates the persisted defaults.
type SettingsHandler struct {
	store *store.SettingsStore
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(st *store.SettingsStore) *SettingsHandler {
	return &SettingsHandler{store: st}
}

// Register registers the settings routes with the API.
func (h *SettingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSettings",
		Method:      "GET",
		Path:        "/api/settings",
		Summary:     "Get settings",
		Tags:        []string{"Settings"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateSettings",
		Method:      "POST",
		Path:        "/api/settings",
		Summary:     "Update settings",
		Description: "Replaces the persisted defaults; omitted fields keep their current values",
		Tags:        []string{"Settings"},
	}, h.Update)
}

// SettingsBody mirrors the persisted settings document.
type SettingsBody struct {
	PlaylistURL          string `json:"playlistUrl,omitempty"`
	EpgURL               string `json:"epgUrl,omitempty"`
	UsePlaylistEpg       *bool  `json:"usePlaylistEpg,omitempty"`
	PastDays             *int   `json:"pastDays,omitempty"`
	FutureDays           *int   `json:"futureDays,omitempty"`
	HistoryBackfill      *bool  `json:"historyBackfill,omitempty"`
	HistoryRetentionDays *int   `json:"historyRetentionDays,omitempty"`
}

// GetSettingsOutput is the output for reading settings.
type GetSettingsOutput struct {
	Body models.Settings
}

// Get returns the current defaults.
func (h *SettingsHandler) Get(ctx context.Context, input *EmptyInput) (*GetSettingsOutput, error) {
	return &GetSettingsOutput{Body: h.store.Settings()}, nil
}

// UpdateSettingsInput is the input for updating settings.
type UpdateSettingsInput struct {
	Body SettingsBody
}

// Update merges the supplied fields into the persisted defaults.
func (h *SettingsHandler) Update(ctx context.Context, input *UpdateSettingsInput) (*GetSettingsOutput, error) {
	settings := h.store.Settings()
	b := input.Body

	if b.PlaylistURL != "" {
		settings.PlaylistURL = b.PlaylistURL
	}
	if b.EpgURL != "" {
		settings.EpgURL = b.EpgURL
	}
	if b.UsePlaylistEpg != nil {
		settings.UsePlaylistEpg = *b.UsePlaylistEpg
	}
	if b.PastDays != nil {
		settings.PastDays = *b.PastDays
	}
	if b.FutureDays != nil {
		settings.FutureDays = *b.FutureDays
	}
	if b.HistoryBackfill != nil {
		settings.HistoryBackfill = *b.HistoryBackfill
	}
	if b.HistoryRetentionDays != nil {
		settings.HistoryRetentionDays = *b.HistoryRetentionDays
	}

	if err := h.store.SetSettings(settings); err != nil {
		return nil, huma.Error500InternalServerError("failed to persist settings", err)
	}
	return &GetSettingsOutput{Body: h.store.Settings()}, nil
}
