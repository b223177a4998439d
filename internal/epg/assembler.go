package epg

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/epgview/internal/cache"
	"github.com/jmylchreest/epgview/internal/fingerprint"
	"github.com/jmylchreest/epgview/internal/mirror"
	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/pkg/xmltv"
)

// Window bounds schedule assembly. Full ignores From/To.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
	Full bool      `json:"full"`
}

// Contains reports whether the window accepts an instant.
func (w Window) Contains(t time.Time) bool {
	if w.Full {
		return true
	}
	return !t.Before(w.From) && t.Before(w.To)
}

// Schedule is the assembled result: channels in playlist order with their
// merged, sorted programme lists keyed by playlist id.
type Schedule struct {
	Channels   []models.PlaylistChannel      `json:"channels"`
	EpgMeta    map[string]models.EpgChannel  `json:"epg_meta"`
	Programmes map[string][]models.Programme `json:"programmes"`
}

// Assembler orchestrates mirror fetch, parallel streaming parse, merge,
// offset application, history backfill, and per-channel sorting.
type Assembler struct {
	mirror *mirror.Store
	cache  *cache.ArtifactCache
	logger *slog.Logger

	now func() time.Time
}

// NewAssembler creates an assembler.
func NewAssembler(m *mirror.Store, c *cache.ArtifactCache, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{mirror: m, cache: c, logger: logger, now: time.Now}
}

// Options adjusts one assembly run.
type Options struct {
	// Backfill reconstructs past-window programmes from mirror snapshots.
	Backfill bool

	// CurrentOnly parses the existing mirror files without revalidating
	// upstream. Used when the caller already drove the fetch phase.
	CurrentOnly bool
}

// groupResult is one group's parse output before merging.
type groupResult struct {
	group      MergeGroup
	programmes []*xmltv.Programme
	channels   []*xmltv.Channel
}

// Assemble runs the full pipeline for the given groups. A failing group
// contributes nothing; the assembly succeeds with a degraded set.
func (a *Assembler) Assemble(ctx context.Context, groups []MergeGroup, playlist []models.PlaylistChannel,
	mappings map[string]models.ChannelMapping, window Window, opts Options) (*Schedule, error) {

	results := make([]*groupResult, len(groups))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, grp := range groups {
		g.Go(func() error {
			res, err := a.parseGroup(gctx, grp, window, opts.CurrentOnly)
			if err != nil {
				a.logger.Warn("source group failed, continuing without it",
					slog.String("url", grp.SourceURL),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	sched := a.merge(results, playlist, mappings)

	if opts.Backfill && !window.Full && window.From.Before(a.now()) {
		a.backfill(ctx, groups, mappings, window, sched)
	}

	for id := range sched.Programmes {
		progs := sched.Programmes[id]
		sort.SliceStable(progs, func(i, j int) bool {
			return progs[i].StartUTC.Before(progs[j].StartUTC)
		})
		sched.Programmes[id] = progs
	}

	return sched, nil
}

// parseGroup fetches the group's mirror and stream-parses it with the
// group's id filter and the requested window.
func (a *Assembler) parseGroup(ctx context.Context, grp MergeGroup, window Window, currentOnly bool) (*groupResult, error) {
	var entry *mirror.Entry
	if currentOnly {
		if cur, ok := a.mirror.Current(grp.SourceURL); ok {
			entry = cur
		}
	}
	if entry == nil {
		fetched, err := a.mirror.Fetch(ctx, grp.SourceURL)
		if err != nil {
			return nil, err
		}
		entry = fetched
	}

	r, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	res := &groupResult{group: grp}

	parser := &xmltv.Parser{
		AllowedIDs: allowedOf(grp),
		OnChannel: func(ch *xmltv.Channel) error {
			res.channels = append(res.channels, ch)
			return nil
		},
		OnProgramme: func(p *xmltv.Programme) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			res.programmes = append(res.programmes, p)
			return nil
		},
	}
	if !window.Full {
		parser.WindowFrom = window.From
		parser.WindowTo = window.To
	}

	if err := parser.ParseCompressed(r); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", grp.SourceURL, err)
	}
	return res, nil
}

func allowedOf(grp MergeGroup) map[string]struct{} {
	if grp.AllowAll {
		return nil
	}
	return grp.AllowedIDs
}

// merge folds the per-group results into one schedule keyed by playlist id,
// pre-applying per-channel minute offsets and de-duplicating on the raw
// start timestamp.
func (a *Assembler) merge(results []*groupResult, playlist []models.PlaylistChannel,
	mappings map[string]models.ChannelMapping) *Schedule {

	sched := &Schedule{
		Channels:   playlist,
		EpgMeta:    make(map[string]models.EpgChannel),
		Programmes: make(map[string][]models.Programme),
	}

	// With no playlist the export enumerates channels in discovery order.
	discover := len(playlist) == 0
	seen := make(map[string]map[string]struct{})

	for _, res := range results {
		if res == nil {
			continue
		}
		for _, ch := range res.channels {
			pid := translateID(res.group, ch.ID)
			if pid == "" {
				continue
			}
			meta, ok := sched.EpgMeta[pid]
			if !ok && discover {
				sched.Channels = append(sched.Channels, models.PlaylistChannel{ID: pid})
			}
			meta.ID = pid
			incoming := models.EpgChannel{ID: pid, DisplayName: ch.DisplayName, IconURL: ch.Icon}
			meta.Merge(&incoming)
			sched.EpgMeta[pid] = meta
		}

		for _, p := range res.programmes {
			pid := translateID(res.group, p.Channel)
			if pid == "" {
				continue
			}
			if seen[pid] == nil {
				seen[pid] = make(map[string]struct{})
			}
			if _, dup := seen[pid][p.StartRaw]; dup {
				continue
			}
			seen[pid][p.StartRaw] = struct{}{}

			prog := toModel(pid, p)
			applyOffset(&prog, mappings[pid])
			sched.Programmes[pid] = append(sched.Programmes[pid], prog)
		}
	}

	return sched
}

// translateID maps an EPG-side channel id to its playlist id. For allow-all
// groups the id passes through unchanged.
func translateID(grp MergeGroup, epgID string) string {
	norm := xmltv.NormalizeID(epgID)
	if pid, ok := grp.IDMap[norm]; ok {
		return pid
	}
	if grp.AllowAll {
		return epgID
	}
	return ""
}

// toModel converts a parsed programme, preserving raw timestamps.
func toModel(pid string, p *xmltv.Programme) models.Programme {
	prog := models.Programme{
		ChannelID:   pid,
		StartUTC:    p.Start.UTC(),
		StartRaw:    p.StartRaw,
		StopRaw:     p.StopRaw,
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
		IconURL:     p.Icon,
	}
	if p.Stop != nil {
		stop := p.Stop.UTC()
		prog.StopUTC = &stop
	}
	return prog
}

// applyOffset pre-applies the mapping's minute offset to the cached UTC
// instants. Export rendering re-derives formatted timestamps from the raw
// strings, so the raws stay untouched.
func applyOffset(p *models.Programme, m models.ChannelMapping) {
	if m.OffsetMinutes == 0 {
		return
	}
	shift := time.Duration(m.OffsetMinutes) * time.Minute
	p.StartUTC = p.StartUTC.Add(shift)
	if p.StopUTC != nil {
		stop := p.StopUTC.Add(shift)
		p.StopUTC = &stop
	}
}

// Fingerprint hashes every assembly input: mirror signatures (including
// recent snapshots), the playlist id set, the relevant mappings, and the
// window.
func (a *Assembler) Fingerprint(kind fingerprint.Kind, groups []MergeGroup,
	playlist []models.PlaylistChannel, mappings map[string]models.ChannelMapping, window Window) string {

	key := fingerprint.Key{Kind: kind, Full: window.Full}
	if !window.Full {
		key.WindowFromMs = window.From.UnixMilli()
		key.WindowToMs = window.To.UnixMilli()
	}

	for _, grp := range groups {
		key.Mirrors = append(key.Mirrors, a.mirror.Signature(grp.SourceURL))
	}

	for _, ch := range playlist {
		key.PlaylistIDs = append(key.PlaylistIDs, ch.ID)
		if m, ok := mappings[ch.ID]; ok {
			sig := fingerprint.MappingSig{
				ChannelID:     ch.ID,
				EpgChannelID:  m.EpgChannelID,
				OffsetMinutes: m.OffsetMinutes,
				ZoneID:        m.ZoneID,
				Mode:          string(m.ShiftMode()),
			}
			if m.SourceID != nil {
				sig.SourceID = m.SourceID.String()
			}
			key.Mappings = append(key.Mappings, sig)
		}
	}

	return key.Hash()
}

// AssembleCached wraps Assemble with the schedule cache: identical
// fingerprints reuse the parsed schedule instead of re-parsing.
func (a *Assembler) AssembleCached(ctx context.Context, groups []MergeGroup, playlist []models.PlaylistChannel,
	mappings map[string]models.ChannelMapping, window Window, opts Options) (*Schedule, string, error) {

	fp := a.Fingerprint(fingerprint.KindEpg, groups, playlist, mappings, window)

	var cached Schedule
	if a.cache != nil && a.cache.Get(fp, &cached) {
		return &cached, fp, nil
	}

	sched, err := a.Assemble(ctx, groups, playlist, mappings, window, opts)
	if err != nil {
		return nil, "", err
	}

	if a.cache != nil {
		if err := a.cache.Set(fp, sched, 0); err != nil {
			a.logger.Warn("schedule cache write failed", slog.String("error", err.Error()))
		}
	}
	return sched, fp, nil
}
