package epg

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/pkg/xmltv"
)

// backfill reconstructs past-window programmes from mirror snapshots.
// Upstreams that only serve today and future cannot be queried for history;
// the rotated snapshots of earlier fetches approximate a sliding archive.
//
// Snapshots are walked newest first. A programme is inserted only when its
// (playlist id, raw start) pair is not present yet. Per group, the walk
// stops once a snapshot contributes nothing new or the accumulated coverage
// reaches the start of the window.
func (a *Assembler) backfill(ctx context.Context, groups []MergeGroup,
	mappings map[string]models.ChannelMapping, window Window, sched *Schedule) {

	to := window.To
	if now := a.now().UTC(); now.Before(to) {
		to = now
	}
	if !window.From.Before(to) {
		return
	}

	seen := make(map[string]map[string]struct{})
	for pid, progs := range sched.Programmes {
		seen[pid] = make(map[string]struct{}, len(progs))
		for _, p := range progs {
			seen[pid][p.StartRaw] = struct{}{}
		}
	}

	for _, grp := range groups {
		if ctx.Err() != nil {
			return
		}
		a.backfillGroup(ctx, grp, mappings, window.From, to, sched, seen)
	}
}

func (a *Assembler) backfillGroup(ctx context.Context, grp MergeGroup,
	mappings map[string]models.ChannelMapping, from, to time.Time,
	sched *Schedule, seen map[string]map[string]struct{}) {

	snaps, err := a.mirror.ListSnapshots(grp.SourceURL)
	if err != nil {
		a.logger.Warn("snapshot listing failed",
			slog.String("url", grp.SourceURL),
			slog.String("error", err.Error()),
		)
		return
	}

	earliest := to

	for _, snap := range snaps {
		if ctx.Err() != nil {
			return
		}

		added := a.backfillSnapshot(ctx, grp, mappings, snap.Path, from, to, sched, seen, &earliest)
		if added == 0 {
			return
		}
		if !earliest.After(from) {
			// Coverage reaches the start of the past window.
			return
		}
	}
}

// backfillSnapshot parses one snapshot and merges its new programmes.
// Returns the number of inserted records.
func (a *Assembler) backfillSnapshot(ctx context.Context, grp MergeGroup,
	mappings map[string]models.ChannelMapping, path string, from, to time.Time,
	sched *Schedule, seen map[string]map[string]struct{}, earliest *time.Time) int {

	f, err := openSnapshot(path)
	if err != nil {
		a.logger.Warn("snapshot open failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return 0
	}
	defer f.Close()

	added := 0
	parser := &xmltv.Parser{
		AllowedIDs: allowedOf(grp),
		WindowFrom: from,
		WindowTo:   to,
		OnProgramme: func(p *xmltv.Programme) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			pid := translateID(grp, p.Channel)
			if pid == "" {
				return nil
			}
			if seen[pid] == nil {
				seen[pid] = make(map[string]struct{})
			}
			if _, dup := seen[pid][p.StartRaw]; dup {
				return nil
			}
			seen[pid][p.StartRaw] = struct{}{}

			prog := toModel(pid, p)
			applyOffset(&prog, mappings[pid])
			sched.Programmes[pid] = append(sched.Programmes[pid], prog)
			added++

			if prog.StartUTC.Before(*earliest) {
				*earliest = prog.StartUTC
			}
			return nil
		},
	}

	if err := parser.ParseCompressed(f); err != nil {
		// A corrupt snapshot degrades silently; earlier emissions stand.
		a.logger.Warn("snapshot parse failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
	return added
}
