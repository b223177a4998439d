package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/epgview/internal/prewarm"
	"github.com/jmylchreest/epgview/internal/service"
)

// PrewarmHandler controls asynchronous export builds.
type PrewarmHandler struct {
	scheduler *prewarm.Scheduler
}

// NewPrewarmHandler creates a prewarm handler.
func NewPrewarmHandler(scheduler *prewarm.Scheduler) *PrewarmHandler {
	return &PrewarmHandler{scheduler: scheduler}
}

// Register registers the prewarm routes with the API.
func (h *PrewarmHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "prewarmExport",
		Method:      "POST",
		Path:        "/api/export/prewarm",
		Summary:     "Prewarm an export",
		Description: "Starts an asynchronous export build and returns a job key",
		Tags:        []string{"Export"},
	}, h.Prewarm)

	huma.Register(api, huma.Operation{
		OperationID: "exportStatus",
		Method:      "GET",
		Path:        "/api/export/status",
		Summary:     "Get prewarm job status",
		Tags:        []string{"Export"},
	}, h.Status)
}

// PrewarmInput is the input for starting a prewarm job.
type PrewarmInput struct {
	Body struct {
		PastDays   *int   `json:"pastDays,omitempty"`
		FutureDays *int   `json:"futureDays,omitempty"`
		Playlist   string `json:"playlist,omitempty"`
		Epg        string `json:"epg,omitempty"`
		Full       bool   `json:"full,omitempty"`
	}
}

// PrewarmOutput is the output for starting a prewarm job.
type PrewarmOutput struct {
	Body struct {
		Key       string `json:"key"`
		Started   bool   `json:"started"`
		ExportURL string `json:"exportUrl"`
	}
}

// Prewarm starts a background export build.
func (h *PrewarmHandler) Prewarm(ctx context.Context, input *PrewarmInput) (*PrewarmOutput, error) {
	key, exportURL := h.scheduler.Prewarm(service.ExportParams{
		PlaylistURL: input.Body.Playlist,
		EpgURL:      input.Body.Epg,
		PastDays:    input.Body.PastDays,
		FutureDays:  input.Body.FutureDays,
		Full:        input.Body.Full,
	})

	out := &PrewarmOutput{}
	out.Body.Key = key
	out.Body.Started = true
	out.Body.ExportURL = exportURL
	return out, nil
}

// StatusInput is the input for the status endpoint.
type StatusInput struct {
	Key string `query:"key" required:"true" doc:"Job key or fingerprint"`
}

// StatusOutput is the output for the status endpoint.
type StatusOutput struct {
	Body prewarm.Job
}

// Status returns a prewarm job's current state.
func (h *PrewarmHandler) Status(ctx context.Context, input *StatusInput) (*StatusOutput, error) {
	job, ok := h.scheduler.Status(input.Key)
	if !ok {
		return nil, huma.Error404NotFound("unknown job key")
	}
	return &StatusOutput{Body: job}, nil
}
