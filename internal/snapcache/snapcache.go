// Package snapcache persists per-session scrollback snapshots between
// polling cycles. The stall detector is stateless and the supervisor core
// never stores snapshots, so the CLI keeps them in a small JSON state file
// and hands the previous cycle's snapshot back on the next sweep.
package snapcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/overseerhq/overseer/internal/models"
)

// Cache is a snapshot store backed by one JSON file per supervisor.
type Cache struct {
	path  string
	snaps map[string]models.ScrollbackSnapshot
}

// Load reads the cache file, returning an empty cache when the file does
// not exist yet.
func Load(path string) (*Cache, error) {
	c := &Cache{
		path:  path,
		snaps: map[string]models.ScrollbackSnapshot{},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read snapshot cache: %w", err)
	}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.snaps); err != nil {
		return nil, fmt.Errorf("parse snapshot cache %s: %w", path, err)
	}
	return c, nil
}

// Get returns the stored snapshot for a session, nil when none exists.
func (c *Cache) Get(sessionID string) *models.ScrollbackSnapshot {
	snap, ok := c.snaps[sessionID]
	if !ok {
		return nil
	}
	return &snap
}

// Put stores the snapshot for a session. Call Save to persist.
func (c *Cache) Put(sessionID string, snap models.ScrollbackSnapshot) {
	c.snaps[sessionID] = snap
}

// Forget drops a session's snapshot, e.g. after the session ends.
func (c *Cache) Forget(sessionID string) {
	delete(c.snaps, sessionID)
}

// Sessions returns the ids with a stored snapshot.
func (c *Cache) Sessions() []string {
	out := make([]string, 0, len(c.snaps))
	for id := range c.snaps {
		out = append(out, id)
	}
	return out
}

// Save writes the cache atomically: to a temp file in the same directory,
// then renamed over the target.
func (c *Cache) Save() error {
	data, err := json.MarshalIndent(c.snaps, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapcache-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot cache: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot cache: %w", err)
	}
	return nil
}
