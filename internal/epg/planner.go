// Package epg assembles per-channel schedules: it plans merge groups from
// the playlist and mappings, drives the mirror for each group, stream-parses
// the results in parallel, merges, and backfills history from snapshots.
package epg

import (
	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/pkg/xmltv"
)

// MergeGroup collects the channels one source URL must supply.
type MergeGroup struct {
	// SourceURL is the upstream XMLTV feed.
	SourceURL string

	// AllowAll accepts every channel in the feed (empty playlist case).
	AllowAll bool

	// AllowedIDs is the normalized set of EPG-side ids to pull.
	AllowedIDs map[string]struct{}

	// IDMap translates normalized EPG ids to playlist ids.
	IDMap map[string]string
}

// PlanGroups computes the per-source fetch groups for a playlist.
//
// A channel whose mapping routes to an enabled source joins that source's
// group under its mapped EPG id; otherwise it falls to the default EPG URL;
// with neither it contributes only a channel header. An empty playlist
// yields one allow-all group per distinct URL.
func PlanGroups(playlist []models.PlaylistChannel, mappings map[string]models.ChannelMapping,
	sources []models.Source, defaultEpgURL string) []MergeGroup {

	byURL := make(map[string]*MergeGroup)
	var order []string

	group := func(url string) *MergeGroup {
		if g, ok := byURL[url]; ok {
			return g
		}
		g := &MergeGroup{
			SourceURL:  url,
			AllowedIDs: make(map[string]struct{}),
			IDMap:      make(map[string]string),
		}
		byURL[url] = g
		order = append(order, url)
		return g
	}

	enabled := make(map[models.ULID]models.Source)
	for _, s := range sources {
		if s.Enabled && s.URL != "" {
			enabled[s.ID] = s
		}
	}

	if len(playlist) == 0 {
		if defaultEpgURL != "" {
			group(defaultEpgURL).AllowAll = true
		}
		for _, s := range sources {
			if s.Enabled && s.URL != "" {
				group(s.URL).AllowAll = true
			}
		}
		return collect(byURL, order)
	}

	for _, ch := range playlist {
		m, hasMapping := mappings[ch.ID]

		var g *MergeGroup
		epgID := ch.ID
		if hasMapping && m.SourceID != nil {
			src, ok := enabled[*m.SourceID]
			if !ok {
				// Mapped to a disabled or deleted source: fall through to
				// the default feed rather than dropping the channel.
				if defaultEpgURL == "" {
					continue
				}
				g = group(defaultEpgURL)
			} else {
				g = group(src.URL)
				epgID = m.EffectiveEpgID(ch.ID)
			}
		} else if defaultEpgURL != "" {
			g = group(defaultEpgURL)
			if hasMapping {
				epgID = m.EffectiveEpgID(ch.ID)
			}
		} else {
			// No EPG coverage: header-only channel.
			continue
		}

		norm := xmltv.NormalizeID(epgID)
		g.AllowedIDs[norm] = struct{}{}
		g.IDMap[norm] = ch.ID
	}

	return collect(byURL, order)
}

func collect(byURL map[string]*MergeGroup, order []string) []MergeGroup {
	groups := make([]MergeGroup, 0, len(order))
	for _, url := range order {
		groups = append(groups, *byURL[url])
	}
	return groups
}
