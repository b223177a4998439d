package epg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/epgview/internal/models"
)

func TestPlanGroups_DefaultURLOnly(t *testing.T) {
	playlist := []models.PlaylistChannel{{ID: "A"}, {ID: "B"}}

	groups := PlanGroups(playlist, nil, nil, "http://default/epg.xml")
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Equal(t, "http://default/epg.xml", g.SourceURL)
	assert.False(t, g.AllowAll)
	assert.Contains(t, g.AllowedIDs, "a")
	assert.Contains(t, g.AllowedIDs, "b")
	assert.Equal(t, "A", g.IDMap["a"])
}

func TestPlanGroups_SourceRouting(t *testing.T) {
	srcID := models.NewULID()
	playlist := []models.PlaylistChannel{{ID: "A"}, {ID: "B"}}
	mappings := map[string]models.ChannelMapping{
		"A": {SourceID: &srcID, EpgChannelID: "a-on-s1"},
	}
	sources := []models.Source{{ID: srcID, URL: "http://s1/epg.xml", Enabled: true}}

	groups := PlanGroups(playlist, mappings, sources, "http://default/epg.xml")
	require.Len(t, groups, 2)

	byURL := map[string]MergeGroup{}
	for _, g := range groups {
		byURL[g.SourceURL] = g
	}

	s1 := byURL["http://s1/epg.xml"]
	assert.Contains(t, s1.AllowedIDs, "a-on-s1")
	assert.Equal(t, "A", s1.IDMap["a-on-s1"])

	def := byURL["http://default/epg.xml"]
	assert.Contains(t, def.AllowedIDs, "b")
	assert.NotContains(t, def.AllowedIDs, "a")
}

func TestPlanGroups_DisabledSourceFallsToDefault(t *testing.T) {
	srcID := models.NewULID()
	playlist := []models.PlaylistChannel{{ID: "A"}}
	mappings := map[string]models.ChannelMapping{"A": {SourceID: &srcID}}
	sources := []models.Source{{ID: srcID, URL: "http://s1/epg.xml", Enabled: false}}

	groups := PlanGroups(playlist, mappings, sources, "http://default/epg.xml")
	require.Len(t, groups, 1)
	assert.Equal(t, "http://default/epg.xml", groups[0].SourceURL)
}

func TestPlanGroups_NoCoverage(t *testing.T) {
	playlist := []models.PlaylistChannel{{ID: "A"}}

	groups := PlanGroups(playlist, nil, nil, "")
	assert.Empty(t, groups, "a channel without any EPG coverage plans no group")
}

func TestPlanGroups_EmptyPlaylistAllowsAll(t *testing.T) {
	sources := []models.Source{
		{ID: models.NewULID(), URL: "http://s1/epg.xml", Enabled: true},
		{ID: models.NewULID(), URL: "http://s2/epg.xml", Enabled: false},
	}

	groups := PlanGroups(nil, nil, sources, "http://default/epg.xml")
	require.Len(t, groups, 2)
	for _, g := range groups {
		assert.True(t, g.AllowAll)
	}

	urls := []string{groups[0].SourceURL, groups[1].SourceURL}
	assert.Contains(t, urls, "http://default/epg.xml")
	assert.Contains(t, urls, "http://s1/epg.xml")
}

func TestPlanGroups_SharedURLDeduplicated(t *testing.T) {
	playlist := []models.PlaylistChannel{{ID: "A"}, {ID: "B"}, {ID: "C"}}

	groups := PlanGroups(playlist, nil, nil, "http://default/epg.xml")
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].AllowedIDs, 3)
}
