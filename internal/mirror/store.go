// Package mirror maintains a per-URL on-disk copy of every upstream feed.
// Each successful change-detected fetch rotates the previous file into an
// immutable timestamped snapshot, which is what makes history backfill
// possible against upstreams that only serve today and future.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jmylchreest/epgview/internal/fingerprint"
	"github.com/jmylchreest/epgview/internal/httpclient"
	"github.com/jmylchreest/epgview/internal/urlutil"
)

// Retention defaults.
const (
	DefaultRetentionDays = 21
	DefaultKeepMax       = 40

	snapshotTimeLayout = "20060102150405"

	// Rotation retries with the next second on a same-second collision.
	maxRotateAttempts = 5
)

// Metadata records the validators of the current file, persisted as
// <key>.json next to it.
type Metadata struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"lastModified,omitempty"`
	IsGz         bool      `json:"isGz"`
	SavedAt      time.Time `json:"savedAt"`
}

// Entry describes the current mirror file for one URL after a fetch.
type Entry struct {
	URL         string
	CurrentPath string
	IsGz        bool
	Meta        Metadata
	Size        int64
	MTime       time.Time

	// Stale is set when the upstream was unreachable and the prior mirror
	// file is being served instead.
	Stale bool
}

// Snapshot is an immutable rotated version of a mirror file.
type Snapshot struct {
	Path      string
	Timestamp time.Time
	IsGz      bool
}

// Store is the on-disk mirror. All fetches for the same URL are serialized
// by a per-URL mutex; distinct URLs proceed in parallel.
type Store struct {
	dir           string
	client        *httpclient.Client
	logger        *slog.Logger
	retentionDays int
	keepMax       int

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithRetention overrides the snapshot retention policy.
func WithRetention(days, keepMax int) Option {
	return func(s *Store) {
		if days > 0 {
			s.retentionDays = days
		}
		if keepMax > 0 {
			s.keepMax = keepMax
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a mirror store rooted at dir.
func New(dir string, client *httpclient.Client, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating mirror dir: %w", err)
	}
	s := &Store{
		dir:           dir,
		client:        client,
		logger:        logger,
		retentionDays: DefaultRetentionDays,
		keepMax:       DefaultKeepMax,
		locks:         make(map[string]*sync.Mutex),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetRetention adjusts the retention policy at runtime.
func (s *Store) SetRetention(days int) {
	if days > 0 {
		s.retentionDays = days
	}
}

// urlLock returns the mutex serializing fetches for one URL.
func (s *Store) urlLock(url string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[url]
	if !ok {
		l = &sync.Mutex{}
		s.locks[url] = l
	}
	return l
}

// Fetch revalidates the mirror for url and returns the current entry.
// The revalidate → rotate → write → metadata sequence holds the URL lock.
// When the upstream is unreachable but a mirror file exists, the stale
// entry is returned with Stale set.
func (s *Store) Fetch(ctx context.Context, url string) (*Entry, error) {
	lock := s.urlLock(url)
	lock.Lock()
	defer lock.Unlock()

	entry, err := s.fetchLocked(ctx, url, true)
	if err == nil {
		return entry, nil
	}

	if stale, ok := s.currentLocked(url); ok {
		s.logger.Warn("upstream unavailable, serving mirror",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		stale.Stale = true
		return stale, nil
	}
	return nil, err
}

// Current returns the mirror entry for url without fetching.
func (s *Store) Current(url string) (*Entry, bool) {
	lock := s.urlLock(url)
	lock.Lock()
	defer lock.Unlock()
	return s.currentLocked(url)
}

func (s *Store) currentLocked(url string) (*Entry, bool) {
	meta, ok := s.readMetadata(url)
	if !ok {
		return nil, false
	}
	path := s.currentPath(url, meta.IsGz)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	return &Entry{
		URL:         url,
		CurrentPath: path,
		IsGz:        meta.IsGz,
		Meta:        meta,
		Size:        info.Size(),
		MTime:       info.ModTime(),
	}, true
}

func (s *Store) fetchLocked(ctx context.Context, url string, conditional bool) (*Entry, error) {
	meta, hasMeta := s.readMetadata(url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	// Stored bytes must match what the server serves; no transparent
	// decoding on the mirror path.
	req.Header.Set("Accept-Encoding", "identity")

	if conditional && hasMeta {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", urlutil.Obfuscate(url), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if entry, ok := s.currentLocked(url); ok {
			return entry, nil
		}
		// The current file was rotated away; a 304 cannot restore it.
		s.logger.Info("304 with missing mirror file, refetching",
			slog.String("url", urlutil.Obfuscate(url)),
		)
		return s.fetchLocked(ctx, url, false)

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("fetching %s: unexpected status %d", urlutil.Obfuscate(url), resp.StatusCode)
	}

	isGz := detectGzip(url, resp)

	if err := s.rotateLocked(url); err != nil {
		return nil, fmt.Errorf("rotating mirror: %w", err)
	}

	target := s.currentPath(url, isGz)
	if err := s.streamTo(target, resp.Body); err != nil {
		return nil, fmt.Errorf("writing mirror: %w", err)
	}

	newMeta := Metadata{
		ETag:         resp.Header.Get("Etag"),
		LastModified: resp.Header.Get("Last-Modified"),
		IsGz:         isGz,
		SavedAt:      s.now().UTC(),
	}
	if err := s.writeMetadata(url, newMeta); err != nil {
		return nil, fmt.Errorf("writing mirror metadata: %w", err)
	}

	s.pruneLocked(url)

	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("stat mirror file: %w", err)
	}

	s.logger.Info("mirror updated",
		slog.String("url", urlutil.Obfuscate(url)),
		slog.Int64("size", info.Size()),
		slog.Bool("gzip", isGz),
	)

	return &Entry{
		URL:         url,
		CurrentPath: target,
		IsGz:        isGz,
		Meta:        newMeta,
		Size:        info.Size(),
		MTime:       info.ModTime(),
	}, nil
}

// streamTo writes body to target via a temp file and atomic rename.
func (s *Store) streamTo(target string, body io.Reader) error {
	t, err := renameio.TempFile(s.dir, target)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if _, err := io.Copy(t, body); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

// rotateLocked renames the current file, if any, into a timestamped
// snapshot. Same-second collisions retry with the next second.
func (s *Store) rotateLocked(url string) error {
	entry, ok := s.currentLocked(url)
	if !ok {
		return nil
	}

	ext := ".xmltv"
	if entry.IsGz {
		ext = ".xmltv.gz"
	}

	ts := s.now().UTC()
	for attempt := 0; attempt < maxRotateAttempts; attempt++ {
		name := fmt.Sprintf("%s.%s%s", s.urlKey(url), ts.Format(snapshotTimeLayout), ext)
		dest := filepath.Join(s.dir, name)
		if _, err := os.Stat(dest); err == nil {
			ts = ts.Add(time.Second)
			continue
		}
		if err := os.Rename(entry.CurrentPath, dest); err != nil {
			return err
		}
		return nil
	}
	return errors.New("snapshot name collision persisted")
}

// ListSnapshots returns the snapshots for url sorted newest first.
func (s *Store) ListSnapshots(url string) ([]Snapshot, error) {
	key := s.urlKey(url)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading mirror dir: %w", err)
	}

	var snaps []Snapshot
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		snap, ok := parseSnapshotName(key, e.Name())
		if !ok {
			continue
		}
		snap.Path = filepath.Join(s.dir, e.Name())
		snaps = append(snaps, snap)
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Timestamp.After(snaps[j].Timestamp) })
	return snaps, nil
}

// pruneLocked deletes snapshots older than the retention cutoff or beyond
// keepMax when sorted newest first.
func (s *Store) pruneLocked(url string) {
	snaps, err := s.ListSnapshots(url)
	if err != nil {
		s.logger.Warn("snapshot listing failed during prune", slog.String("error", err.Error()))
		return
	}

	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)
	for i, snap := range snaps {
		if i < s.keepMax && !snap.Timestamp.Before(cutoff) {
			continue
		}
		if err := os.Remove(snap.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("snapshot prune failed",
				slog.String("path", snap.Path),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Signature builds the fingerprint contribution of url's mirror state.
// The newest snapshot timestamps participate so keys roll when history
// rotates.
func (s *Store) Signature(url string) fingerprint.MirrorSig {
	sig := fingerprint.MirrorSig{URL: url}

	if entry, ok := s.Current(url); ok {
		sig.ETag = entry.Meta.ETag
		sig.LastModified = entry.Meta.LastModified
		sig.Size = entry.Size
		sig.MTimeUnixMs = entry.MTime.UnixMilli()
	}

	snaps, err := s.ListSnapshots(url)
	if err == nil {
		const recent = 5
		for i, snap := range snaps {
			if i >= recent {
				break
			}
			sig.Snapshots = append(sig.Snapshots, snap.Timestamp.Format(snapshotTimeLayout))
		}
	}
	return sig
}

// Open opens the entry's current file for reading.
func (e *Entry) Open() (io.ReadCloser, error) {
	f, err := os.Open(e.CurrentPath)
	if err != nil {
		return nil, fmt.Errorf("opening mirror file: %w", err)
	}
	return f, nil
}

func (s *Store) urlKey(url string) string {
	return urlutil.Hash(url)
}

func (s *Store) currentPath(url string, isGz bool) string {
	name := s.urlKey(url) + ".xml"
	if isGz {
		name = s.urlKey(url) + ".xmltv.gz"
	}
	return filepath.Join(s.dir, name)
}

func (s *Store) metadataPath(url string) string {
	return filepath.Join(s.dir, s.urlKey(url)+".json")
}

func (s *Store) readMetadata(url string) (Metadata, bool) {
	data, err := os.ReadFile(s.metadataPath(url))
	if err != nil {
		return Metadata{}, false
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, false
	}
	return meta, true
}

func (s *Store) writeMetadata(url string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.metadataPath(url), data, 0o644)
}

// detectGzip decides whether the payload is a gzip file, from headers or
// the URL suffix.
func detectGzip(url string, resp *http.Response) bool {
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return true
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(ct, "gzip") {
		return true
	}
	base := url
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	return strings.HasSuffix(strings.ToLower(base), ".gz")
}

// parseSnapshotName parses "<key>.<YYYYMMDDhhmmss>.xmltv[.gz]".
func parseSnapshotName(key, name string) (Snapshot, bool) {
	prefix := key + "."
	if !strings.HasPrefix(name, prefix) {
		return Snapshot{}, false
	}
	rest := name[len(prefix):]

	isGz := false
	switch {
	case strings.HasSuffix(rest, ".xmltv.gz"):
		isGz = true
		rest = strings.TrimSuffix(rest, ".xmltv.gz")
	case strings.HasSuffix(rest, ".xmltv"):
		rest = strings.TrimSuffix(rest, ".xmltv")
	default:
		return Snapshot{}, false
	}

	ts, err := time.ParseInLocation(snapshotTimeLayout, rest, time.UTC)
	if err != nil {
		return Snapshot{}, false
	}
	return Snapshot{Timestamp: ts, IsGz: isGz}, true
}
