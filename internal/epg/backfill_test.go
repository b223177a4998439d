package epg

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/epgview/internal/httpclient"
	"github.com/jmylchreest/epgview/internal/mirror"
	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/internal/urlutil"
)

// The upstream only serves today; history lives in snapshots.
const feedToday = `<tv>
  <channel id="B"><display-name>Channel B</display-name></channel>
  <programme start="20240610120000 +0000" stop="20240610130000 +0000" channel="B"><title>Today Noon</title></programme>
</tv>`

const snapshotTwoDaysAgo = `<tv>
  <channel id="B"><display-name>Channel B</display-name></channel>
  <programme start="20240607180000 +0000" stop="20240607190000 +0000" channel="B"><title>Three Days Ago</title></programme>
  <programme start="20240610120000 +0000" stop="20240610130000 +0000" channel="B"><title>Today Noon Duplicate</title></programme>
</tv>`

func TestAssemble_BackfillFromSnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedToday))
	}))
	t.Cleanup(srv.Close)

	mirrorDir := t.TempDir()
	cfg := httpclient.DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.EnableDecompression = false
	now := time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)
	// The mirror shares the test clock so retention pruning keeps the snapshot.
	m, err := mirror.New(mirrorDir, httpclient.New(cfg), nil, mirror.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	// Plant a rotated snapshot from two days ago holding older programmes.
	snapName := urlutil.Hash(srv.URL) + ".20240608120000.xmltv"
	require.NoError(t, os.WriteFile(filepath.Join(mirrorDir, snapName), []byte(snapshotTwoDaysAgo), 0o644))

	a := NewAssembler(m, nil, nil)
	a.now = func() time.Time { return now }

	playlist := []models.PlaylistChannel{{ID: "B"}}
	groups := PlanGroups(playlist, nil, nil, srv.URL)

	window := Window{From: now.AddDate(0, 0, -7), To: now.AddDate(0, 0, 3)}
	sched, err := a.Assemble(context.Background(), groups, playlist, nil, window, Options{Backfill: true})
	require.NoError(t, err)

	progs := sched.Programmes["B"]
	require.Len(t, progs, 2, "current and historical programmes merge")

	// Sorted ascending: the historical programme first.
	assert.Equal(t, "Three Days Ago", progs[0].Title)
	assert.Equal(t, "Today Noon", progs[1].Title, "the live feed wins the duplicate raw start")
}

func TestAssemble_BackfillDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedToday))
	}))
	t.Cleanup(srv.Close)

	mirrorDir := t.TempDir()
	cfg := httpclient.DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.EnableDecompression = false
	now := time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)
	m, err := mirror.New(mirrorDir, httpclient.New(cfg), nil, mirror.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	snapName := urlutil.Hash(srv.URL) + ".20240608120000.xmltv"
	require.NoError(t, os.WriteFile(filepath.Join(mirrorDir, snapName), []byte(snapshotTwoDaysAgo), 0o644))

	a := NewAssembler(m, nil, nil)
	a.now = func() time.Time { return now }

	playlist := []models.PlaylistChannel{{ID: "B"}}
	groups := PlanGroups(playlist, nil, nil, srv.URL)
	window := Window{From: now.AddDate(0, 0, -7), To: now.AddDate(0, 0, 3)}

	sched, err := a.Assemble(context.Background(), groups, playlist, nil, window, Options{Backfill: false})
	require.NoError(t, err)
	require.Len(t, sched.Programmes["B"], 1)
}

func TestAssemble_BackfillNoSnapshotsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedToday))
	}))
	t.Cleanup(srv.Close)

	a, _ := newTestAssembler(t)
	now := time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	playlist := []models.PlaylistChannel{{ID: "B"}}
	groups := PlanGroups(playlist, nil, nil, srv.URL)
	window := Window{From: now.AddDate(0, 0, -7), To: now.AddDate(0, 0, 3)}

	sched, err := a.Assemble(context.Background(), groups, playlist, nil, window, Options{Backfill: true})
	require.NoError(t, err)
	require.Len(t, sched.Programmes["B"], 1)
}
