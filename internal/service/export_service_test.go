package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/epgview/internal/cache"
	"github.com/jmylchreest/epgview/internal/epg"
	"github.com/jmylchreest/epgview/internal/export"
	"github.com/jmylchreest/epgview/internal/fingerprint"
	"github.com/jmylchreest/epgview/internal/httpclient"
	"github.com/jmylchreest/epgview/internal/mirror"
	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/internal/store"
	"github.com/jmylchreest/epgview/internal/timeshift"
)

const testFeed = `<tv>
  <channel id="bbc1"><display-name>BBC 1</display-name></channel>
  <programme start="20240610120000 +0100" stop="20240610130000 +0100" channel="bbc1"><title>News</title></programme>
</tv>`

const testPlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="BBC1",BBC One
http://example.com/stream/bbc1
`

// testEnv wires a full pipeline over httptest upstreams and a temp data dir.
type testEnv struct {
	svc      *ExportService
	store    *store.SettingsStore
	feedHits *int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	feedHits := 0
	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		feedHits++
		w.Header().Set("Etag", `"feed-v1"`)
		if r.Header.Get("If-None-Match") == `"feed-v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		_, _ = w.Write([]byte(testFeed))
	}))
	t.Cleanup(feedSrv.Close)

	playlistSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testPlaylist))
	}))
	t.Cleanup(playlistSrv.Close)

	dataDir := t.TempDir()

	st, err := store.Load(dataDir, nil)
	require.NoError(t, err)

	settings := st.Settings()
	settings.PlaylistURL = playlistSrv.URL
	settings.EpgURL = feedSrv.URL
	require.NoError(t, st.SetSettings(settings))
	require.NoError(t, st.UpsertMappings(map[string]models.ChannelMapping{
		"BBC1": {EpgChannelID: "bbc1"},
	}))

	cfg := httpclient.DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	mirrorCfg := cfg
	mirrorCfg.EnableDecompression = false

	m, err := mirror.New(filepath.Join(dataDir, "mirror"), httpclient.New(mirrorCfg), nil)
	require.NoError(t, err)

	schedCache, err := cache.New(filepath.Join(dataDir, "cache", "schedules"), nil)
	require.NoError(t, err)

	assembler := epg.NewAssembler(m, schedCache, nil)
	renderer := export.NewRenderer(&timeshift.Engine{ForceZeroOffset: true}, nil)

	svc, err := NewExportService(st, m, assembler, renderer, httpclient.New(cfg),
		filepath.Join(dataDir, "cache", "exports"), nil)
	require.NoError(t, err)

	return &testEnv{svc: svc, store: st, feedHits: &feedHits}
}

func gunzip(t *testing.T, data []byte) string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	plain, err := io.ReadAll(gz)
	require.NoError(t, err)
	return string(plain)
}

func TestServeGzip_MinimalExport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, err := env.svc.Resolve(ctx, ExportParams{Full: true})
	require.NoError(t, err)
	require.Len(t, req.Playlist.Channels, 1)

	var buf bytes.Buffer
	fp, err := env.svc.ServeGzip(ctx, &buf, req)
	require.NoError(t, err)
	require.NotEmpty(t, fp)

	out := gunzip(t, buf.Bytes())
	assert.Contains(t, out, `<channel id="BBC1">`)
	assert.Contains(t, out, `<display-name>BBC One</display-name>`)
	assert.Contains(t, out, `start="20240610120000 +0000"`)
	assert.Contains(t, out, `<title>News</title>`)
}

func TestServeGzip_FingerprintReuse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req1, err := env.svc.Resolve(ctx, ExportParams{Full: true})
	require.NoError(t, err)
	var first bytes.Buffer
	fp1, err := env.svc.ServeGzip(ctx, &first, req1)
	require.NoError(t, err)

	req2, err := env.svc.Resolve(ctx, ExportParams{Full: true})
	require.NoError(t, err)
	var second bytes.Buffer
	fp2, err := env.svc.ServeGzip(ctx, &second, req2)
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2, "no upstream change, identical fingerprints")
	assert.Equal(t, first.Bytes(), second.Bytes(), "identical fingerprints produce identical bytes")
	assert.Equal(t, int64(1), env.svc.ArtifactReuses(), "second request served from disk")
}

func TestServePlain_Document(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, err := env.svc.Resolve(ctx, ExportParams{Full: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = env.svc.ServePlain(ctx, &buf, req)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `<!DOCTYPE tv SYSTEM "xmltv.dtd">`)
	assert.Contains(t, buf.String(), `<title>News</title>`)
}

func TestResolve_WindowSemantics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Absent window parameters imply full.
	req, err := env.svc.Resolve(ctx, ExportParams{})
	require.NoError(t, err)
	assert.True(t, req.Window.Full)

	past, future := 7, 3
	req, err = env.svc.Resolve(ctx, ExportParams{PastDays: &past, FutureDays: &future})
	require.NoError(t, err)
	assert.False(t, req.Window.Full)
	assert.True(t, req.Window.From.Before(req.Window.To))

	wantSpan := 10 * 24 * time.Hour
	assert.Equal(t, wantSpan, req.Window.To.Sub(req.Window.From))
}

func TestBuildArtifact_ShortCircuits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, err := env.svc.Resolve(ctx, ExportParams{Full: true})
	require.NoError(t, err)

	fp1, reused, err := env.svc.BuildArtifact(ctx, req)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.True(t, env.svc.HasValidArtifact(fp1))

	fp2, reused, err := env.svc.BuildArtifact(ctx, req)
	require.NoError(t, err)
	assert.True(t, reused, "unchanged inputs reuse the artifact")
	assert.Equal(t, fp1, fp2)
}

func TestFingerprint_ChangesWithMappings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, err := env.svc.Resolve(ctx, ExportParams{Full: true})
	require.NoError(t, err)
	require.NoError(t, env.svc.RefreshMirrors(ctx, req.Groups))
	before := env.svc.Fingerprint(fingerprint.KindExportGz, req)

	require.NoError(t, env.store.UpsertMappings(map[string]models.ChannelMapping{
		"BBC1": {EpgChannelID: "bbc1", OffsetMinutes: 60},
	}))

	req2, err := env.svc.Resolve(ctx, ExportParams{Full: true})
	require.NoError(t, err)
	after := env.svc.Fingerprint(fingerprint.KindExportGz, req2)

	assert.NotEqual(t, before, after, "mapping changes roll the fingerprint")
}
