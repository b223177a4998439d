package epg

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/jmylchreest/epgview/internal/httpclient"
	"github.com/jmylchreest/epgview/internal/models"
	"github.com/jmylchreest/epgview/internal/urlutil"
	"github.com/jmylchreest/epgview/pkg/m3u"
)

// openSnapshot opens a snapshot file for reading.
func openSnapshot(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// FetchPlaylist loads and parses an M3U playlist from a URL or local path,
// returning the channel set and the EPG hint from the header.
func FetchPlaylist(ctx context.Context, client *httpclient.Client, source string) (*models.Playlist, error) {
	var r io.ReadCloser
	if urlutil.IsRemote(source) {
		resp, err := client.Get(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("fetching playlist: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetching playlist: unexpected status %d", resp.StatusCode)
		}
		r = resp.Body
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("opening playlist: %w", err)
		}
		r = f
	}
	defer r.Close()

	return ParsePlaylist(ctx, r)
}

// ParsePlaylist parses M3U content into playlist channels.
func ParsePlaylist(ctx context.Context, r io.Reader) (*models.Playlist, error) {
	playlist := &models.Playlist{}
	seen := make(map[string]struct{})

	parser := &m3u.Parser{
		OnHeader: func(attrs map[string]string) {
			playlist.EpgURL = m3u.EpgURLFromHeader(attrs)
		},
		OnEntry: func(entry *m3u.Entry) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			ch := models.PlaylistChannel{
				ID:        entry.TvgID,
				Name:      entry.Title,
				Group:     entry.GroupTitle,
				LogoURL:   entry.TvgLogo,
				StreamURL: entry.URL,
			}
			if ch.Name == "" {
				ch.Name = entry.TvgName
			}
			if ch.ID == "" {
				ch.ID = ch.Name
			}
			if ch.ID == "" {
				return nil
			}

			// The playlist id set keys the whole pipeline; a duplicated id
			// keeps its first stream entry.
			if _, dup := seen[ch.ID]; dup {
				return nil
			}
			seen[ch.ID] = struct{}{}

			playlist.Channels = append(playlist.Channels, ch)
			return nil
		},
	}

	if err := parser.ParseCompressed(r); err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}
	return playlist, nil
}
