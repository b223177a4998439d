// Package cache provides a two-tier (memory + disk) TTL cache keyed by
// stable fingerprints. It holds parsed schedules.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// TTL bounds.
const (
	DefaultTTL = 10 * time.Minute
	MinTTL     = time.Second
)

// entry is the on-disk and in-memory representation of one cached value.
type entry struct {
	ExpiresAt time.Time       `json:"expires_at"`
	Data      json.RawMessage `json:"data"`
}

// ArtifactCache caches JSON-serializable values in memory with a disk tier
// that survives restarts. Disk writes are best-effort.
type ArtifactCache struct {
	dir    string
	logger *slog.Logger

	mu  sync.RWMutex
	mem map[string]entry

	now func() time.Time
}

// New creates a cache persisting its disk tier under dir.
func New(dir string, logger *slog.Logger) (*ArtifactCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &ArtifactCache{
		dir:    dir,
		logger: logger,
		mem:    make(map[string]entry),
		now:    time.Now,
	}, nil
}

// Get loads the value for key into out. Memory is consulted first; a disk
// hit is promoted to memory. Returns false on miss or expiry.
func (c *ArtifactCache) Get(key string, out any) bool {
	c.mu.RLock()
	e, ok := c.mem[key]
	c.mu.RUnlock()

	if !ok {
		e, ok = c.loadDisk(key)
		if !ok {
			return false
		}
		c.mu.Lock()
		c.mem[key] = e
		c.mu.Unlock()
	}

	if c.now().After(e.ExpiresAt) {
		c.evict(key)
		return false
	}

	if err := json.Unmarshal(e.Data, out); err != nil {
		c.logger.Warn("cache entry undecodable, evicting",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		c.evict(key)
		return false
	}
	return true
}

// Set stores value under key for ttl. A non-positive ttl uses the default;
// ttl is floored at MinTTL.
func (c *ArtifactCache) Set(key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl < MinTTL {
		ttl = MinTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache value: %w", err)
	}

	e := entry{ExpiresAt: c.now().Add(ttl), Data: data}

	c.mu.Lock()
	c.mem[key] = e
	c.mu.Unlock()

	// Disk tier is best-effort: last writer wins, and equal fingerprints
	// produce equal values.
	blob, err := json.Marshal(e)
	if err == nil {
		err = renameio.WriteFile(c.path(key), blob, 0o644)
	}
	if err != nil {
		c.logger.Warn("cache disk write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Invalidate removes a key from both tiers.
func (c *ArtifactCache) Invalidate(key string) {
	c.evict(key)
}

func (c *ArtifactCache) evict(key string) {
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()
	if err := os.Remove(c.path(key)); err != nil && !os.IsNotExist(err) {
		c.logger.Debug("cache disk evict failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (c *ArtifactCache) loadDisk(key string) (entry, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return entry{}, false
	}
	return e, true
}

func (c *ArtifactCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}
