// Package prewarm builds export artifacts in the background so downloads
// stream from disk. Jobs are deduplicated by fingerprint: a second request
// for identical inputs attaches to the running job instead of re-rendering.
package prewarm

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jmylchreest/epgview/internal/fingerprint"
	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/internal/service"
)

// Status is a prewarm job state. done and error are terminal.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Job is the externally visible status record.
type Job struct {
	Status     Status     `json:"status"`
	Percent    int        `json:"percent"`
	Message    string     `json:"message,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExportURL  string     `json:"export_url"`
	AliasKey   string     `json:"alias_key,omitempty"`
}

// job is the internal record shared by every key that resolves to it.
type job struct {
	mu  sync.Mutex
	rec Job
}

func (j *job) update(fn func(*Job)) {
	j.mu.Lock()
	fn(&j.rec)
	j.mu.Unlock()
}

func (j *job) snapshot() Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec
}

// Jobs older than this are forgotten; their artifacts remain on disk.
const jobRetention = time.Hour

// Scheduler accepts export-build requests and tracks their status.
type Scheduler struct {
	svc    *service.ExportService
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job // transient keys and fingerprints both resolve here

	baseCtx context.Context
	now     func() time.Time
}

// New creates a prewarm scheduler. baseCtx bounds the lifetime of all jobs.
func New(baseCtx context.Context, svc *service.ExportService, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		svc:     svc,
		logger:  logger,
		jobs:    make(map[string]*job),
		baseCtx: baseCtx,
		now:     time.Now,
	}
}

// Prewarm starts an asynchronous artifact build and returns immediately
// with a transient job key and the export URL the artifact will serve.
func (s *Scheduler) Prewarm(params service.ExportParams) (key, exportURL string) {
	key = models.NewULID().String()
	exportURL = exportPath(params)

	j := &job{rec: Job{
		Status:    StatusQueued,
		StartedAt: s.now().UTC(),
		ExportURL: exportURL,
	}}

	s.mu.Lock()
	s.pruneLocked()
	s.jobs[key] = j
	s.mu.Unlock()

	go s.run(key, j, params)
	return key, exportURL
}

// Status returns the job record for a transient key or fingerprint.
func (s *Scheduler) Status(key string) (Job, bool) {
	s.mu.Lock()
	j, ok := s.jobs[key]
	s.mu.Unlock()
	if !ok {
		return Job{}, false
	}
	return j.snapshot(), true
}

// run executes the pipeline for one job.
func (s *Scheduler) run(key string, j *job, params service.ExportParams) {
	ctx := s.baseCtx

	fail := func(err error) {
		now := s.now().UTC()
		j.update(func(rec *Job) {
			rec.Status = StatusError
			rec.Message = err.Error()
			rec.FinishedAt = &now
		})
		s.logger.Warn("prewarm failed", slog.String("key", key), slog.String("error", err.Error()))
	}

	j.update(func(rec *Job) {
		rec.Status = StatusRunning
		rec.Percent = 5
		rec.Message = "resolving request"
	})

	req, err := s.svc.Resolve(ctx, params)
	if err != nil {
		fail(fmt.Errorf("resolving export: %w", err))
		return
	}

	j.update(func(rec *Job) {
		rec.Percent = 20
		rec.Message = "refreshing mirrors"
	})

	if err := s.svc.RefreshMirrors(ctx, req.Groups); err != nil {
		fail(err)
		return
	}

	// The real fingerprint exists only once the mirror state settles.
	fp := s.svc.Fingerprint(fingerprint.KindExportGz, req)

	if attached := s.claim(fp, key, j); attached {
		// An identical build is already underway (or finished); this
		// caller's key now resolves to that job.
		s.logger.Debug("prewarm attached to existing job",
			slog.String("key", key),
			slog.String("fingerprint", fp),
		)
		return
	}

	if s.svc.HasValidArtifact(fp) {
		s.finish(j, "artifact up to date")
		return
	}

	j.update(func(rec *Job) {
		rec.Percent = 60
		rec.Message = "assembling and rendering"
	})

	if _, _, err := s.svc.BuildArtifact(ctx, req); err != nil {
		fail(fmt.Errorf("building artifact: %w", err))
		return
	}

	s.finish(j, "export ready")
}

// claim atomically registers j as the builder for fp. When another job
// already owns fp, the transient key is re-pointed at it and claim reports
// attached.
func (s *Scheduler) claim(fp, key string, j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.jobs[fp]; ok && owner != j {
		s.jobs[key] = owner
		owner.update(func(rec *Job) {
			if rec.AliasKey == "" {
				rec.AliasKey = key
			}
		})
		return true
	}

	s.jobs[fp] = j
	j.update(func(rec *Job) { rec.AliasKey = fp })
	return false
}

func (s *Scheduler) finish(j *job, message string) {
	now := s.now().UTC()
	j.update(func(rec *Job) {
		rec.Status = StatusDone
		rec.Percent = 100
		rec.Message = message
		rec.FinishedAt = &now
	})
}

// pruneLocked drops finished jobs past retention. Callers hold s.mu.
func (s *Scheduler) pruneLocked() {
	cutoff := s.now().Add(-jobRetention)
	for key, j := range s.jobs {
		rec := j.snapshot()
		if rec.FinishedAt != nil && rec.FinishedAt.Before(cutoff) {
			delete(s.jobs, key)
		}
	}
}

// exportPath reconstructs the download URL a prewarmed artifact serves.
func exportPath(params service.ExportParams) string {
	q := url.Values{}
	if params.Full {
		q.Set("full", "1")
	}
	if params.PastDays != nil {
		q.Set("pastDays", strconv.Itoa(*params.PastDays))
	}
	if params.FutureDays != nil {
		q.Set("futureDays", strconv.Itoa(*params.FutureDays))
	}
	if params.PlaylistURL != "" {
		q.Set("playlist", params.PlaylistURL)
	}
	if params.EpgURL != "" {
		q.Set("epg", params.EpgURL)
	}
	path := "/epg.xml.gz"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return path
}
