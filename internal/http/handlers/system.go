package handlers

import (
	"context"
	"os"
	"runtime"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jmylchreest/epgview/internal/service"
	"github.com/jmylchreest/epgview/internal/version"
)

// SystemHandler reports process and host diagnostics.
type SystemHandler struct {
	svc     *service.ExportService
	dataDir string
}

// NewSystemHandler creates a system handler.
func NewSystemHandler(svc *service.ExportService, dataDir string) *SystemHandler {
	return &SystemHandler{svc: svc, dataDir: dataDir}
}

// Register registers the system route with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSystem",
		Method:      "GET",
		Path:        "/api/system",
		Summary:     "System diagnostics",
		Tags:        []string{"System"},
	}, h.Get)
}

// SystemOutput is the output for the system endpoint.
type SystemOutput struct {
	Body struct {
		Hostname       string       `json:"hostname"`
		OS             string       `json:"os"`
		Arch           string       `json:"arch"`
		Version        version.Info `json:"version"`
		UptimeSeconds  int64        `json:"uptime_seconds"`
		CPUCores       int          `json:"cpu_cores"`
		CPUPercent     float64      `json:"cpu_percent"`
		MemTotalBytes  uint64       `json:"mem_total_bytes"`
		MemUsedBytes   uint64       `json:"mem_used_bytes"`
		DiskTotalBytes uint64       `json:"disk_total_bytes"`
		DiskFreeBytes  uint64       `json:"disk_free_bytes"`
		Goroutines     int          `json:"goroutines"`
		ArtifactReuses int64        `json:"artifact_reuses"`
	}
}

// Get gathers current host and process statistics. Individual probe
// failures leave their fields zero rather than failing the endpoint.
func (h *SystemHandler) Get(ctx context.Context, input *EmptyInput) (*SystemOutput, error) {
	out := &SystemOutput{}
	hostname, _ := os.Hostname()
	out.Body.Hostname = hostname
	out.Body.OS = runtime.GOOS
	out.Body.Arch = runtime.GOARCH
	out.Body.Version = version.GetInfo()
	out.Body.Goroutines = runtime.NumGoroutine()
	out.Body.ArtifactReuses = h.svc.ArtifactReuses()

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		out.Body.UptimeSeconds = int64(uptime)
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		out.Body.CPUCores = cores
	}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		out.Body.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out.Body.MemTotalBytes = vm.Total
		out.Body.MemUsedBytes = vm.Used
	}
	if usage, err := disk.UsageWithContext(ctx, h.dataDir); err == nil {
		out.Body.DiskTotalBytes = usage.Total
		out.Body.DiskFreeBytes = usage.Free
	}

	return out, nil
}
