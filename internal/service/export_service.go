// Package service coordinates the export pipeline: it resolves a request
// against the settings store, plans merge groups, drives the mirror and
// assembler, and serves or builds export artifacts by fingerprint.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/epgview/internal/epg"
	"github.com/jmylchreest/epgview/internal/export"
	"github.com/jmylchreest/epgview/internal/fingerprint"
	"github.com/jmylchreest/epgview/internal/httpclient"
	"github.com/jmylchreest/epgview/internal/mirror"
	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/internal/store"
	"github.com/jmylchreest/epgview/internal/urlutil"
)

// ExportParams are the caller-supplied overrides for one export request.
type ExportParams struct {
	PlaylistURL string
	EpgURL      string
	PastDays    *int
	FutureDays  *int
	Full        bool
}

// ExportRequest is a resolved export: the planned groups, the playlist, the
// mappings, and the window. Sources and EpgURL are retained so callers can
// re-plan against a narrowed playlist.
type ExportRequest struct {
	Playlist *models.Playlist
	Groups   []epg.MergeGroup
	Mappings map[string]models.ChannelMapping
	Window   epg.Window
	Settings models.Settings
	Sources  []models.Source
	EpgURL   string
}

// Replan narrows the request to a different playlist, recomputing groups.
func (r *ExportRequest) Replan(playlist *models.Playlist) {
	r.Playlist = playlist
	r.Groups = epg.PlanGroups(playlist.Channels, r.Mappings, r.Sources, r.EpgURL)
}

// ExportService runs the ingest, merge, and export pipeline.
type ExportService struct {
	store      *store.SettingsStore
	mirror     *mirror.Store
	assembler  *epg.Assembler
	renderer   *export.Renderer
	client     *httpclient.Client
	exportsDir string
	logger     *slog.Logger

	// artifactReuses counts exports served from disk without re-rendering.
	artifactReuses atomic.Int64

	now func() time.Time
}

// NewExportService wires the export pipeline.
func NewExportService(st *store.SettingsStore, m *mirror.Store, a *epg.Assembler,
	r *export.Renderer, client *httpclient.Client, exportsDir string, logger *slog.Logger) (*ExportService, error) {

	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(exportsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating exports dir: %w", err)
	}
	return &ExportService{
		store:      st,
		mirror:     m,
		assembler:  a,
		renderer:   r,
		client:     client,
		exportsDir: exportsDir,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Resolve turns params into a full export request: it loads the playlist,
// decides the effective EPG URL, computes the window, and plans the groups.
func (s *ExportService) Resolve(ctx context.Context, params ExportParams) (*ExportRequest, error) {
	state := s.store.State()
	settings := state.Settings

	playlistURL := params.PlaylistURL
	if playlistURL == "" {
		playlistURL = settings.PlaylistURL
	}

	playlist := &models.Playlist{}
	if playlistURL != "" {
		loaded, err := epg.FetchPlaylist(ctx, s.client, playlistURL)
		if err != nil {
			// A dead playlist degrades to an unfiltered export rather than
			// failing every download.
			s.logger.Warn("playlist unavailable",
				slog.String("url", urlutil.Obfuscate(playlistURL)),
				slog.String("error", err.Error()),
			)
		} else {
			playlist = loaded
		}
	}

	epgURL := params.EpgURL
	if epgURL == "" && settings.UsePlaylistEpg && playlist.EpgURL != "" {
		epgURL = playlist.EpgURL
	}
	if epgURL == "" {
		epgURL = settings.EpgURL
	}

	window := s.resolveWindow(params, settings)
	groups := epg.PlanGroups(playlist.Channels, state.Mappings, state.Sources, epgURL)

	return &ExportRequest{
		Playlist: playlist,
		Groups:   groups,
		Mappings: state.Mappings,
		Window:   window,
		Settings: settings,
		Sources:  state.Sources,
		EpgURL:   epgURL,
	}, nil
}

func (s *ExportService) resolveWindow(params ExportParams, settings models.Settings) epg.Window {
	if params.Full || (params.PastDays == nil && params.FutureDays == nil) {
		return epg.Window{Full: true}
	}

	past := settings.PastDays
	if params.PastDays != nil {
		past = *params.PastDays
	}
	future := settings.FutureDays
	if params.FutureDays != nil {
		future = *params.FutureDays
	}

	now := s.now().UTC()
	return epg.Window{
		From: now.AddDate(0, 0, -past),
		To:   now.AddDate(0, 0, future),
	}
}

// Assemble produces the merged schedule for req, reusing the schedule cache
// when the fingerprint matches.
func (s *ExportService) Assemble(ctx context.Context, req *ExportRequest) (*epg.Schedule, string, error) {
	return s.assembler.AssembleCached(ctx, req.Groups, req.Playlist.Channels, req.Mappings, req.Window,
		epg.Options{Backfill: req.Settings.HistoryBackfill})
}

// Fingerprint computes req's key for the given artifact kind against the
// current mirror state.
func (s *ExportService) Fingerprint(kind fingerprint.Kind, req *ExportRequest) string {
	return s.assembler.Fingerprint(kind, req.Groups, req.Playlist.Channels, req.Mappings, req.Window)
}

// ArtifactPath returns the export artifact location for a fingerprint.
func (s *ExportService) ArtifactPath(fp string) string {
	return filepath.Join(s.exportsDir, fp+".xml.gz")
}

// HasValidArtifact reports whether a usable artifact exists for fp.
func (s *ExportService) HasValidArtifact(fp string) bool {
	info, err := os.Stat(s.ArtifactPath(fp))
	return err == nil && info.Size() > export.MinArtifactSize
}

// ArtifactReuses returns how many exports were served from disk.
func (s *ExportService) ArtifactReuses() int64 {
	return s.artifactReuses.Load()
}

// RefreshMirrors revalidates every group's mirror concurrently. Individual
// failures degrade; the error is only returned when the context dies.
func (s *ExportService) RefreshMirrors(ctx context.Context, groups []epg.MergeGroup) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, grp := range groups {
		g.Go(func() error {
			if _, err := s.mirror.Fetch(gctx, grp.SourceURL); err != nil {
				s.logger.Warn("mirror refresh failed",
					slog.String("url", urlutil.Obfuscate(grp.SourceURL)),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ServeGzip streams the gzip export for req to w. The artifact cache is
// consulted before and after mirror revalidation; a build tees the client
// stream into the cache file. Returns the final fingerprint.
func (s *ExportService) ServeGzip(ctx context.Context, w io.Writer, req *ExportRequest) (string, error) {
	fp := s.Fingerprint(fingerprint.KindExportGz, req)
	if s.HasValidArtifact(fp) {
		return fp, s.streamArtifact(w, fp)
	}

	if err := s.RefreshMirrors(ctx, req.Groups); err != nil {
		return "", err
	}

	fp = s.Fingerprint(fingerprint.KindExportGz, req)
	if s.HasValidArtifact(fp) {
		return fp, s.streamArtifact(w, fp)
	}

	sched, err := s.assembleCurrent(ctx, req)
	if err != nil {
		return "", err
	}
	return fp, s.renderer.RenderGzipTee(ctx, w, s.ArtifactPath(fp), sched, req.Mappings)
}

// ServePlain streams the uncompressed export for req to w.
func (s *ExportService) ServePlain(ctx context.Context, w io.Writer, req *ExportRequest) (string, error) {
	if err := s.RefreshMirrors(ctx, req.Groups); err != nil {
		return "", err
	}
	fp := s.Fingerprint(fingerprint.KindExportXML, req)
	sched, err := s.assembleCurrent(ctx, req)
	if err != nil {
		return "", err
	}
	return fp, s.renderer.Render(ctx, w, sched, req.Mappings)
}

// BuildArtifact ensures the gzip artifact for req exists, returning its
// fingerprint and whether an existing file was reused.
func (s *ExportService) BuildArtifact(ctx context.Context, req *ExportRequest) (string, bool, error) {
	if err := s.RefreshMirrors(ctx, req.Groups); err != nil {
		return "", false, err
	}

	fp := s.Fingerprint(fingerprint.KindExportGz, req)
	if s.HasValidArtifact(fp) {
		s.artifactReuses.Add(1)
		return fp, true, nil
	}

	sched, err := s.assembleCurrent(ctx, req)
	if err != nil {
		return "", false, err
	}
	if err := s.renderer.RenderGzipToFile(ctx, s.ArtifactPath(fp), sched, req.Mappings); err != nil {
		return "", false, err
	}
	return fp, false, nil
}

// assembleCurrent parses the already-refreshed mirror files.
func (s *ExportService) assembleCurrent(ctx context.Context, req *ExportRequest) (*epg.Schedule, error) {
	sched, _, err := s.assembler.AssembleCached(ctx, req.Groups, req.Playlist.Channels, req.Mappings, req.Window,
		epg.Options{Backfill: req.Settings.HistoryBackfill, CurrentOnly: true})
	return sched, err
}

func (s *ExportService) streamArtifact(w io.Writer, fp string) error {
	f, err := os.Open(s.ArtifactPath(fp))
	if err != nil {
		return fmt.Errorf("opening export artifact: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("streaming export artifact: %w", err)
	}
	s.artifactReuses.Add(1)
	return nil
}
