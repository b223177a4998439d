package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/epgview/internal/mirror"
	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/internal/store"
	"github.com/jmylchreest/epgview/pkg/xmltv"
)

// SourcesHandler manages registered EPG sources and their rescan cache.
type SourcesHandler struct {
	store  *store.SettingsStore
	mirror *mirror.Store
}

// NewSourcesHandler creates a sources handler.
func NewSourcesHandler(st *store.SettingsStore, m *mirror.Store) *SourcesHandler {
	return &SourcesHandler{store: st, mirror: m}
}

// Register registers the source routes with the API.
func (h *SourcesHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSources",
		Method:      "GET",
		Path:        "/api/sources",
		Summary:     "List sources",
		Tags:        []string{"Sources"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "createSource",
		Method:      "POST",
		Path:        "/api/sources",
		Summary:     "Create a source",
		Tags:        []string{"Sources"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "updateSource",
		Method:      "POST",
		Path:        "/api/sources/{id}",
		Summary:     "Update a source",
		Tags:        []string{"Sources"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteSource",
		Method:      "DELETE",
		Path:        "/api/sources/{id}",
		Summary:     "Delete a source",
		Tags:        []string{"Sources"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "rescanSource",
		Method:      "POST",
		Path:        "/api/sources/{id}/rescan",
		Summary:     "Rescan a source",
		Description: "Stream-parses the source feed to extract its channel list",
		Tags:        []string{"Sources"},
	}, h.Rescan)

	huma.Register(api, huma.Operation{
		OperationID: "getSourceChannels",
		Method:      "GET",
		Path:        "/api/sources/{id}/channels",
		Summary:     "Get cached source channels",
		Tags:        []string{"Sources"},
	}, h.Channels)
}

// SourceBody is the mutable subset of a source.
type SourceBody struct {
	Name     string `json:"name,omitempty"`
	URL      string `json:"url"`
	Enabled  *bool  `json:"enabled,omitempty"`
	Priority *int   `json:"priority,omitempty"`
}

// ListSourcesOutput is the output for listing sources.
type ListSourcesOutput struct {
	Body struct {
		Sources []models.Source `json:"sources"`
	}
}

// List returns all registered sources.
func (h *SourcesHandler) List(ctx context.Context, input *EmptyInput) (*ListSourcesOutput, error) {
	out := &ListSourcesOutput{}
	out.Body.Sources = h.store.Sources()
	return out, nil
}

// SourceOutput is the output for single-source operations.
type SourceOutput struct {
	Body models.Source
}

// CreateSourceInput is the input for creating a source.
type CreateSourceInput struct {
	Body SourceBody
}

// Create registers a new source.
func (h *SourcesHandler) Create(ctx context.Context, input *CreateSourceInput) (*SourceOutput, error) {
	src := models.Source{
		Name:    input.Body.Name,
		URL:     input.Body.URL,
		Enabled: input.Body.Enabled == nil || *input.Body.Enabled,
	}
	if input.Body.Priority != nil {
		src.Priority = *input.Body.Priority
	}

	created, err := h.store.AddSource(src)
	if err != nil {
		if errors.Is(err, models.ErrURLRequired) {
			return nil, huma.Error400BadRequest("url is required")
		}
		return nil, huma.Error500InternalServerError("failed to persist source", err)
	}
	return &SourceOutput{Body: created}, nil
}

// SourceIDInput carries the path parameter for source operations.
type SourceIDInput struct {
	ID string `path:"id" doc:"Source id"`
}

// UpdateSourceInput is the input for updating a source.
type UpdateSourceInput struct {
	SourceIDInput
	Body SourceBody
}

// Update mutates a source.
func (h *SourcesHandler) Update(ctx context.Context, input *UpdateSourceInput) (*SourceOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid source id")
	}

	updated, err := h.store.UpdateSource(id, func(src *models.Source) {
		if input.Body.Name != "" {
			src.Name = input.Body.Name
		}
		if input.Body.URL != "" {
			src.URL = input.Body.URL
		}
		if input.Body.Enabled != nil {
			src.Enabled = *input.Body.Enabled
		}
		if input.Body.Priority != nil {
			src.Priority = *input.Body.Priority
		}
	})
	if err != nil {
		if errors.Is(err, models.ErrSourceNotFound) {
			return nil, huma.Error404NotFound("source not found")
		}
		return nil, huma.Error500InternalServerError("failed to persist source", err)
	}
	return &SourceOutput{Body: updated}, nil
}

// DeleteSourceOutput is the output for deleting a source.
type DeleteSourceOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

// Delete removes a source.
func (h *SourcesHandler) Delete(ctx context.Context, input *SourceIDInput) (*DeleteSourceOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid source id")
	}

	if err := h.store.DeleteSource(id); err != nil {
		if errors.Is(err, models.ErrSourceNotFound) {
			return nil, huma.Error404NotFound("source not found")
		}
		return nil, huma.Error500InternalServerError("failed to delete source", err)
	}

	out := &DeleteSourceOutput{}
	out.Body.Deleted = true
	return out, nil
}

// RescanOutput is the output for a rescan.
type RescanOutput struct {
	Body models.SourceChannels
}

// Rescan stream-parses the source feed, channels only, and caches the list.
func (h *SourcesHandler) Rescan(ctx context.Context, input *SourceIDInput) (*RescanOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid source id")
	}

	src, err := h.store.SourceByID(id)
	if err != nil {
		return nil, huma.Error404NotFound("source not found")
	}

	entry, err := h.mirror.Fetch(ctx, src.URL)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to fetch source", err)
	}

	r, err := entry.Open()
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to open mirror file", err)
	}
	defer r.Close()

	var channels []models.EpgChannel
	parser := &xmltv.Parser{
		ChannelsOnly: true,
		OnChannel: func(ch *xmltv.Channel) error {
			channels = append(channels, models.EpgChannel{
				ID:          ch.ID,
				DisplayName: ch.DisplayName,
				IconURL:     ch.Icon,
			})
			return nil
		},
	}
	if err := parser.ParseCompressed(r); err != nil {
		return nil, huma.Error500InternalServerError("failed to parse source", err)
	}

	sc := models.SourceChannels{
		SourceID:  id,
		ScannedAt: time.Now().UTC(),
		Channels:  channels,
	}
	if err := h.store.SaveSourceChannels(sc); err != nil {
		return nil, huma.Error500InternalServerError("failed to cache channels", err)
	}

	return &RescanOutput{Body: sc}, nil
}

// Channels returns the cached channel list from the last rescan.
func (h *SourcesHandler) Channels(ctx context.Context, input *SourceIDInput) (*RescanOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid source id")
	}
	if _, err := h.store.SourceByID(id); err != nil {
		return nil, huma.Error404NotFound("source not found")
	}

	sc, ok := h.store.LoadSourceChannels(id)
	if !ok {
		return nil, huma.Error404NotFound("source has not been scanned yet")
	}
	return &RescanOutput{Body: sc}, nil
}
