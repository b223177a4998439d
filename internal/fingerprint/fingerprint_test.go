package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseKey() Key {
	return Key{
		Kind: KindExportGz,
		Mirrors: []MirrorSig{
			{URL: "http://b.example/epg.xml", ETag: `"abc"`, Size: 100, MTimeUnixMs: 1718000000000},
			{URL: "http://a.example/epg.xml", LastModified: "Mon, 10 Jun 2024 12:00:00 GMT", Size: 200},
		},
		PlaylistIDs:  []string{"B", "A"},
		Mappings:     []MappingSig{{ChannelID: "B", OffsetMinutes: 60}, {ChannelID: "A", ZoneID: "Europe/London"}},
		WindowFromMs: 1000,
		WindowToMs:   2000,
	}
}

func TestHash_Stable(t *testing.T) {
	assert.Equal(t, baseKey().Hash(), baseKey().Hash())
}

func TestHash_OrderIndependent(t *testing.T) {
	a := baseKey()

	b := baseKey()
	b.Mirrors[0], b.Mirrors[1] = b.Mirrors[1], b.Mirrors[0]
	b.PlaylistIDs[0], b.PlaylistIDs[1] = b.PlaylistIDs[1], b.PlaylistIDs[0]
	b.Mappings[0], b.Mappings[1] = b.Mappings[1], b.Mappings[0]

	assert.Equal(t, a.Hash(), b.Hash())
}

func TestHash_KindSeparatesKeys(t *testing.T) {
	a := baseKey()
	b := baseKey()
	b.Kind = KindExportXML
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestHash_SensitiveToInputs(t *testing.T) {
	a := baseKey()

	etag := baseKey()
	etag.Mirrors[0].ETag = `"changed"`
	assert.NotEqual(t, a.Hash(), etag.Hash())

	snap := baseKey()
	snap.Mirrors[0].Snapshots = []string{"20240608120000"}
	assert.NotEqual(t, a.Hash(), snap.Hash())

	window := baseKey()
	window.WindowToMs = 3000
	assert.NotEqual(t, a.Hash(), window.Hash())

	mapping := baseKey()
	mapping.Mappings[0].OffsetMinutes = 30
	assert.NotEqual(t, a.Hash(), mapping.Hash())

	ids := baseKey()
	ids.PlaylistIDs = append(ids.PlaylistIDs, "C")
	assert.NotEqual(t, a.Hash(), ids.Hash())
}
