// Package scheduler runs the periodic background refresh: it revalidates
// every mirrored feed on a cron schedule and prewarms the default export so
// client downloads stream from disk. Regular revalidation is also what
// grows the snapshot history that backfill draws from.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/epgview/internal/prewarm"
	"github.com/jmylchreest/epgview/internal/service"
)

// DefaultSchedule refreshes every six hours.
const DefaultSchedule = "0 */6 * * *"

// Refresher owns the cron loop.
type Refresher struct {
	svc      *service.ExportService
	prewarm  *prewarm.Scheduler
	schedule string
	logger   *slog.Logger

	cron *cron.Cron
}

// New creates a refresher. An empty schedule uses the default.
func New(svc *service.ExportService, pw *prewarm.Scheduler, schedule string, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Refresher{
		svc:      svc,
		prewarm:  pw,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the cron entry and begins running. ctx bounds each tick.
func (r *Refresher) Start(ctx context.Context) error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.schedule, func() { r.tick(ctx) }); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("background refresh scheduled", slog.String("schedule", r.schedule))
	return nil
}

// Stop halts the cron loop, waiting for a running tick.
func (r *Refresher) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// tick revalidates all mirrors and kicks a default-window prewarm.
func (r *Refresher) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	req, err := r.svc.Resolve(ctx, service.ExportParams{})
	if err != nil {
		r.logger.Warn("refresh resolve failed", slog.String("error", err.Error()))
		return
	}

	if err := r.svc.RefreshMirrors(ctx, req.Groups); err != nil {
		r.logger.Warn("refresh aborted", slog.String("error", err.Error()))
		return
	}

	settings := req.Settings
	past, future := settings.PastDays, settings.FutureDays
	key, _ := r.prewarm.Prewarm(service.ExportParams{PastDays: &past, FutureDays: &future})

	r.logger.Info("background refresh completed",
		slog.Int("groups", len(req.Groups)),
		slog.String("prewarm_key", key),
	)
}
