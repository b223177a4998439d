package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/epgview/internal/models"
)

func newTestStore(t *testing.T) (*SettingsStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Load(dir, nil)
	require.NoError(t, err)
	return s, dir
}

func TestLoad_Defaults(t *testing.T) {
	s, _ := newTestStore(t)

	settings := s.Settings()
	assert.Equal(t, models.DefaultPastDays, settings.PastDays)
	assert.Equal(t, models.DefaultFutureDays, settings.FutureDays)
	assert.True(t, settings.HistoryBackfill)
	assert.True(t, settings.ForceZeroOffset)
	assert.Equal(t, models.DefaultHistoryRetentionDays, settings.HistoryRetentionDays)
}

func TestSetSettings_PersistsAcrossLoads(t *testing.T) {
	s, dir := newTestStore(t)

	settings := s.Settings()
	settings.PlaylistURL = "http://example.com/playlist.m3u"
	settings.PastDays = 14
	require.NoError(t, s.SetSettings(settings))

	reloaded, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/playlist.m3u", reloaded.Settings().PlaylistURL)
	assert.Equal(t, 14, reloaded.Settings().PastDays)

	// settings.json written at the expected location.
	_, statErr := os.Stat(filepath.Join(dir, "settings.json"))
	assert.NoError(t, statErr)
}

func TestSources_CRUD(t *testing.T) {
	s, _ := newTestStore(t)

	created, err := s.AddSource(models.Source{URL: "http://s1/epg.xml", Enabled: true})
	require.NoError(t, err)
	assert.False(t, created.ID.IsZero())

	_, err = s.AddSource(models.Source{})
	assert.ErrorIs(t, err, models.ErrURLRequired)

	updated, err := s.UpdateSource(created.ID, func(src *models.Source) {
		src.Name = "Source One"
		src.Priority = 5
	})
	require.NoError(t, err)
	assert.Equal(t, "Source One", updated.Name)
	assert.Equal(t, 5, updated.Priority)

	got, err := s.SourceByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Source One", got.Name)

	require.NoError(t, s.DeleteSource(created.ID))
	_, err = s.SourceByID(created.ID)
	assert.ErrorIs(t, err, models.ErrSourceNotFound)

	assert.ErrorIs(t, s.DeleteSource(created.ID), models.ErrSourceNotFound)
}

func TestMappings_UpsertAndRemove(t *testing.T) {
	s, dir := newTestStore(t)

	require.NoError(t, s.UpsertMappings(map[string]models.ChannelMapping{
		"BBC1": {EpgChannelID: "bbc1", OffsetMinutes: 60, Mode: models.ShiftModeWall},
	}))

	mappings := s.Mappings()
	require.Contains(t, mappings, "BBC1")
	assert.Equal(t, 60, mappings["BBC1"].OffsetMinutes)

	// Bulk upsert merges.
	require.NoError(t, s.UpsertMappings(map[string]models.ChannelMapping{
		"ITV": {ZoneID: "Europe/London"},
	}))
	assert.Len(t, s.Mappings(), 2)

	// An all-empty mapping removes the entry.
	require.NoError(t, s.UpsertMappings(map[string]models.ChannelMapping{
		"BBC1": {},
	}))
	assert.NotContains(t, s.Mappings(), "BBC1")

	reloaded, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Len(t, reloaded.Mappings(), 1)
}

func TestMappings_Validation(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.UpsertMappings(map[string]models.ChannelMapping{"": {OffsetMinutes: 1}})
	assert.ErrorIs(t, err, models.ErrChannelIDRequired)

	err = s.UpsertMappings(map[string]models.ChannelMapping{"A": {Mode: "sideways"}})
	assert.ErrorIs(t, err, models.ErrInvalidShiftMode)
}

func TestState_ReturnsSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.UpsertMappings(map[string]models.ChannelMapping{
		"A": {OffsetMinutes: 10},
	}))

	state := s.State()
	state.Mappings["A"] = models.ChannelMapping{OffsetMinutes: 99}
	state.Settings.PastDays = 99

	// Mutating the snapshot must not leak into the store.
	assert.Equal(t, 10, s.Mappings()["A"].OffsetMinutes)
	assert.NotEqual(t, 99, s.Settings().PastDays)
}

func TestSourceChannels_Cache(t *testing.T) {
	s, dir := newTestStore(t)

	src, err := s.AddSource(models.Source{URL: "http://s1/epg.xml", Enabled: true})
	require.NoError(t, err)

	sc := models.SourceChannels{
		SourceID:  src.ID,
		ScannedAt: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC),
		Channels:  []models.EpgChannel{{ID: "bbc1", DisplayName: "BBC One"}},
	}
	require.NoError(t, s.SaveSourceChannels(sc))

	got, ok := s.LoadSourceChannels(src.ID)
	require.True(t, ok)
	assert.Equal(t, "bbc1", got.Channels[0].ID)

	// The rescan stamps the source record.
	stamped, err := s.SourceByID(src.ID)
	require.NoError(t, err)
	require.NotNil(t, stamped.ChannelCount)
	assert.Equal(t, 1, *stamped.ChannelCount)
	require.NotNil(t, stamped.LastScannedAt)

	// Cache file lives under source-cache/.
	_, statErr := os.Stat(filepath.Join(dir, "source-cache", src.ID.String()+".json"))
	assert.NoError(t, statErr)

	_, ok = s.LoadSourceChannels(models.NewULID())
	assert.False(t, ok)
}
