// Package store persists process-wide mutable state: default settings,
// registered sources, and channel mappings. Reads return snapshots;
// writes are serialized and persisted before returning.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jmylchreest/epgview/internal/models"
)

const (
	settingsFile   = "settings.json"
	sourceCacheDir = "source-cache"
)

// SettingsStore owns settings.json and the source-cache directory.
type SettingsStore struct {
	path     string
	cacheDir string
	logger   *slog.Logger

	mu    sync.RWMutex
	state *models.State
}

// Load reads settings.json under dataDir, falling back to defaults when the
// file does not exist yet.
func Load(dataDir string, logger *slog.Logger) (*SettingsStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dataDir, sourceCacheDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	s := &SettingsStore{
		path:     filepath.Join(dataDir, settingsFile),
		cacheDir: filepath.Join(dataDir, sourceCacheDir),
		logger:   logger,
	}

	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		s.state = &models.State{
			Settings: models.DefaultSettings(),
			Mappings: make(map[string]models.ChannelMapping),
		}
	case err != nil:
		return nil, fmt.Errorf("reading settings: %w", err)
	default:
		var state models.State
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("decoding settings: %w", err)
		}
		if state.Mappings == nil {
			state.Mappings = make(map[string]models.ChannelMapping)
		}
		state.Settings.Normalize()
		s.state = &state
	}

	return s, nil
}

// State returns a deep copy of the full persisted state.
func (s *SettingsStore) State() *models.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Settings returns the current defaults.
func (s *SettingsStore) Settings() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Settings
}

// SetSettings replaces the defaults and persists.
func (s *SettingsStore) SetSettings(settings models.Settings) error {
	settings.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state.Settings
	s.state.Settings = settings
	if err := s.persistLocked(); err != nil {
		s.state.Settings = prev
		return err
	}
	return nil
}

// Sources returns a copy of the registered sources.
func (s *SettingsStore) Sources() []models.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Source, len(s.state.Sources))
	copy(out, s.state.Sources)
	return out
}

// SourceByID returns one source.
func (s *SettingsStore) SourceByID(id models.ULID) (models.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if src := s.state.SourceByID(id); src != nil {
		return *src, nil
	}
	return models.Source{}, models.ErrSourceNotFound
}

// AddSource registers a new source, assigning its id, and persists.
func (s *SettingsStore) AddSource(src models.Source) (models.Source, error) {
	if err := src.Validate(); err != nil {
		return models.Source{}, err
	}
	if src.ID.IsZero() {
		src.ID = models.NewULID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Sources = append(s.state.Sources, src)
	if err := s.persistLocked(); err != nil {
		s.state.Sources = s.state.Sources[:len(s.state.Sources)-1]
		return models.Source{}, err
	}
	return src, nil
}

// UpdateSource applies fn to the source with the given id and persists.
func (s *SettingsStore) UpdateSource(id models.ULID, fn func(*models.Source)) (models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.state.SourceByID(id)
	if src == nil {
		return models.Source{}, models.ErrSourceNotFound
	}
	prev := *src
	fn(src)
	if err := src.Validate(); err != nil {
		*src = prev
		return models.Source{}, err
	}
	if err := s.persistLocked(); err != nil {
		*src = prev
		return models.Source{}, err
	}
	return *src, nil
}

// DeleteSource removes a source and persists.
func (s *SettingsStore) DeleteSource(id models.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.state.Sources {
		if s.state.Sources[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.ErrSourceNotFound
	}

	prev := s.state.Sources
	s.state.Sources = append(append([]models.Source{}, prev[:idx]...), prev[idx+1:]...)
	if err := s.persistLocked(); err != nil {
		s.state.Sources = prev
		return err
	}

	// Best-effort: the rescan cache for a removed source is dead weight.
	if err := os.Remove(s.sourceCachePath(id)); err != nil && !os.IsNotExist(err) {
		s.logger.Debug("source cache remove failed", slog.String("error", err.Error()))
	}
	return nil
}

// Mappings returns a copy of all channel mappings.
func (s *SettingsStore) Mappings() map[string]models.ChannelMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.ChannelMapping, len(s.state.Mappings))
	for k, v := range s.state.Mappings {
		out[k] = v
	}
	return out
}

// UpsertMappings merges the given mappings (single or bulk) and persists.
// A mapping whose fields are all zero removes the entry.
func (s *SettingsStore) UpsertMappings(mappings map[string]models.ChannelMapping) error {
	for id, m := range mappings {
		if id == "" {
			return models.ErrChannelIDRequired
		}
		if m.Mode != "" && !m.Mode.Valid() {
			return models.ErrInvalidShiftMode
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := make(map[string]models.ChannelMapping, len(s.state.Mappings))
	for k, v := range s.state.Mappings {
		prev[k] = v
	}

	for id, m := range mappings {
		if isEmptyMapping(m) {
			delete(s.state.Mappings, id)
		} else {
			s.state.Mappings[id] = m
		}
	}

	if err := s.persistLocked(); err != nil {
		s.state.Mappings = prev
		return err
	}
	return nil
}

func isEmptyMapping(m models.ChannelMapping) bool {
	return m.SourceID == nil && m.EpgChannelID == "" && m.OffsetMinutes == 0 &&
		m.ZoneID == "" && m.Mode == ""
}

// persistLocked writes the state atomically. Callers hold the write lock.
func (s *SettingsStore) persistLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

// SaveSourceChannels persists a rescan result and stamps the source.
func (s *SettingsStore) SaveSourceChannels(sc models.SourceChannels) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding source channels: %w", err)
	}
	if err := renameio.WriteFile(s.sourceCachePath(sc.SourceID), data, 0o644); err != nil {
		return fmt.Errorf("writing source channels: %w", err)
	}

	count := len(sc.Channels)
	scannedAt := sc.ScannedAt
	if scannedAt.IsZero() {
		scannedAt = time.Now().UTC()
	}
	_, err = s.UpdateSource(sc.SourceID, func(src *models.Source) {
		src.LastScannedAt = &scannedAt
		src.ChannelCount = &count
	})
	return err
}

// LoadSourceChannels returns the cached rescan result for a source.
func (s *SettingsStore) LoadSourceChannels(id models.ULID) (models.SourceChannels, bool) {
	data, err := os.ReadFile(s.sourceCachePath(id))
	if err != nil {
		return models.SourceChannels{}, false
	}
	var sc models.SourceChannels
	if err := json.Unmarshal(data, &sc); err != nil {
		return models.SourceChannels{}, false
	}
	return sc, true
}

func (s *SettingsStore) sourceCachePath(id models.ULID) string {
	return filepath.Join(s.cacheDir, id.String()+".json")
}
