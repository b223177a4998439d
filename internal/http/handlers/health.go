package handlers

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/epgview/internal/version"
)

// HealthHandler reports liveness and data-directory writability.
type HealthHandler struct {
	dataDir   string
	startedAt time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(dataDir string) *HealthHandler {
	return &HealthHandler{dataDir: dataDir, startedAt: time.Now()}
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.Get)
}

// HealthOutput is the output for the health endpoint.
type HealthOutput struct {
	Body struct {
		Status        string `json:"status"`
		Version       string `json:"version"`
		UptimeSeconds int64  `json:"uptime_seconds"`
		DataWritable  bool   `json:"data_writable"`
	}
}

// Get returns liveness and storage health.
func (h *HealthHandler) Get(ctx context.Context, input *EmptyInput) (*HealthOutput, error) {
	out := &HealthOutput{}
	out.Body.Status = "ok"
	out.Body.Version = version.Version
	out.Body.UptimeSeconds = int64(time.Since(h.startedAt).Seconds())
	out.Body.DataWritable = dataWritable(h.dataDir)
	if !out.Body.DataWritable {
		out.Body.Status = "degraded"
	}
	return out, nil
}

func dataWritable(dir string) bool {
	probe := filepath.Join(dir, ".healthcheck")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return false
	}
	_ = os.Remove(probe)
	return true
}
