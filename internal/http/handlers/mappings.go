package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/internal/store"
)

// MappingsHandler reads and upserts per-channel mappings.
type MappingsHandler struct {
	store *store.SettingsStore
}

// NewMappingsHandler creates a mappings handler.
func NewMappingsHandler(st *store.SettingsStore) *MappingsHandler {
	return &MappingsHandler{store: st}
}

// Register registers the mapping routes with the API.
func (h *MappingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getMappings",
		Method:      "GET",
		Path:        "/api/mappings",
		Summary:     "Get channel mappings",
		Tags:        []string{"Mappings"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "upsertMappings",
		Method:      "POST",
		Path:        "/api/mappings",
		Summary:     "Upsert channel mappings",
		Description: "Merges the supplied mappings (single or bulk); an all-empty mapping removes the entry",
		Tags:        []string{"Mappings"},
	}, h.Upsert)
}

// MappingsOutput is the output for both mapping endpoints.
type MappingsOutput struct {
	Body struct {
		Mappings map[string]models.ChannelMapping `json:"mappings"`
	}
}

// Get returns all channel mappings.
func (h *MappingsHandler) Get(ctx context.Context, input *EmptyInput) (*MappingsOutput, error) {
	out := &MappingsOutput{}
	out.Body.Mappings = h.store.Mappings()
	return out, nil
}

// UpsertMappingsInput is the input for upserting mappings.
type UpsertMappingsInput struct {
	Body struct {
		Mappings map[string]models.ChannelMapping `json:"mappings" required:"true"`
	}
}

// Upsert merges the supplied mappings and persists.
func (h *MappingsHandler) Upsert(ctx context.Context, input *UpsertMappingsInput) (*MappingsOutput, error) {
	if err := h.store.UpsertMappings(input.Body.Mappings); err != nil {
		switch {
		case errors.Is(err, models.ErrChannelIDRequired), errors.Is(err, models.ErrInvalidShiftMode):
			return nil, huma.Error400BadRequest(err.Error())
		default:
			return nil, huma.Error500InternalServerError("failed to persist mappings", err)
		}
	}

	out := &MappingsOutput{}
	out.Body.Mappings = h.store.Mappings()
	return out, nil
}
