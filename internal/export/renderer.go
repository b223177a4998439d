// Package export writes XMLTV documents (plain or gzip) from assembled
// schedules, applying per-channel time shifts and timestamp normalization.
package export

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/jmylchreest/epgview/internal/epg"
	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/internal/timeshift"
	"github.com/jmylchreest/epgview/pkg/xmltv"
)

// GeneratorName is emitted as the tv element's generator-info-name.
const GeneratorName = "epg-viewer export"

// Exported artifacts smaller than this are considered corrupt and rebuilt.
const MinArtifactSize = 100

// Renderer streams XMLTV documents from schedules.
type Renderer struct {
	engine *timeshift.Engine
	logger *slog.Logger
}

// NewRenderer creates a renderer using the given shift engine.
func NewRenderer(engine *timeshift.Engine, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{engine: engine, logger: logger}
}

// Render writes the plain XMLTV document for sched to w.
func (r *Renderer) Render(ctx context.Context, w io.Writer, sched *epg.Schedule,
	mappings map[string]models.ChannelMapping) error {

	xw := xmltv.NewWriter(w, GeneratorName)
	if err := xw.WriteHeader(); err != nil {
		return err
	}

	for _, ch := range sched.Channels {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := xw.WriteChannel(channelHeader(ch, sched.EpgMeta[ch.ID])); err != nil {
			return fmt.Errorf("writing channel %s: %w", ch.ID, err)
		}
	}

	for _, ch := range sched.Channels {
		mapping := mappings[ch.ID]
		for i := range sched.Programmes[ch.ID] {
			if err := ctx.Err(); err != nil {
				return err
			}
			prog := &sched.Programmes[ch.ID][i]
			entry, err := r.programmeEntry(prog, mapping)
			if err != nil {
				r.logger.Warn("programme skipped",
					slog.String("channel", ch.ID),
					slog.String("start", prog.StartRaw),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := xw.WriteProgramme(entry); err != nil {
				return fmt.Errorf("writing programme: %w", err)
			}
		}
	}

	return xw.WriteFooter()
}

// RenderGzip writes the gzip-compressed document: one deflate stream at
// level 6, shared verbatim between client and cache.
func (r *Renderer) RenderGzip(ctx context.Context, w io.Writer, sched *epg.Schedule,
	mappings map[string]models.ChannelMapping) error {

	gz, err := gzip.NewWriterLevel(w, 6)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if err := r.Render(ctx, gz, sched, mappings); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// RenderGzipTee streams the gzip export to w while writing the same bytes
// to an artifact file at path. The file is promoted atomically on success;
// a cancelled or failed render leaves no partial file at the final path.
func (r *Renderer) RenderGzipTee(ctx context.Context, w io.Writer, path string, sched *epg.Schedule,
	mappings map[string]models.ChannelMapping) error {

	t, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		// The export still serves even when the cache tier is unwritable.
		r.logger.Warn("export cache file unavailable",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return r.RenderGzip(ctx, w, sched, mappings)
	}
	defer t.Cleanup()

	if err := r.RenderGzip(ctx, io.MultiWriter(w, t), sched, mappings); err != nil {
		return err
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		r.logger.Warn("export cache promote failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// RenderGzipToFile builds the artifact file only (prewarm path).
func (r *Renderer) RenderGzipToFile(ctx context.Context, path string, sched *epg.Schedule,
	mappings map[string]models.ChannelMapping) error {

	t, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return fmt.Errorf("creating export temp file: %w", err)
	}
	defer t.Cleanup()

	if err := r.RenderGzip(ctx, t, sched, mappings); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

// channelHeader prefers playlist metadata, then EPG metadata, then the id.
func channelHeader(ch models.PlaylistChannel, meta models.EpgChannel) *xmltv.Channel {
	out := &xmltv.Channel{ID: ch.ID, DisplayName: ch.Name, Icon: ch.LogoURL}
	if out.DisplayName == "" {
		out.DisplayName = meta.DisplayName
	}
	if out.Icon == "" {
		out.Icon = meta.IconURL
	}
	if out.DisplayName == "" {
		out.DisplayName = ch.ID
	}
	return out
}

// programmeEntry formats one programme through the shift engine. Timestamps
// are re-derived from the preserved raw strings so pre-applied cache offsets
// never shift twice.
func (r *Renderer) programmeEntry(p *models.Programme, m models.ChannelMapping) (*xmltv.Entry, error) {
	start, err := r.engine.Format(timeshift.Request{
		Original:      p.StartRaw,
		ZoneID:        m.ZoneID,
		OffsetMinutes: m.OffsetMinutes,
		Mode:          m.ShiftMode(),
	})
	if err != nil {
		return nil, err
	}

	entry := &xmltv.Entry{
		Channel:     p.ChannelID,
		Start:       start,
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
		Icon:        p.IconURL,
	}

	if p.StopRaw != "" {
		stop, err := r.engine.Format(timeshift.Request{
			Original:      p.StopRaw,
			ZoneID:        m.ZoneID,
			OffsetMinutes: m.OffsetMinutes,
			Mode:          m.ShiftMode(),
		})
		if err != nil {
			return nil, err
		}
		entry.Stop = stop
	}

	return entry, nil
}
