// Package keycache implements the Interesting-Key Cache (C5): the set
// of canonical item keys that were present in the last built result
// set, persisted to disk so an incremental refresh after a restart
// still has something to scope against. A filter-parameter change
// (diff band, price band, output cap) invalidates it; the next
// refresh then degrades to full.
package keycache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	skerrors "github.com/skinarb/skinarb/pkg/errors"
)

type fileFormat struct {
	Keys        []string   `json:"keys"`
	LastBuiltAt *time.Time `json:"last_built_at,omitempty"`
}

// Cache holds the current interesting-key set and its build timestamp,
// persisted as JSON with write-to-temp-then-rename semantics.
type Cache struct {
	mu          sync.RWMutex
	path        string
	keys        map[string]struct{}
	lastBuiltAt *time.Time
}

// New loads a Cache from path; a missing file is treated as empty.
func New(path string) (*Cache, error) {
	c := &Cache{path: path, keys: map[string]struct{}{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, skerrors.Wrap(skerrors.CodePersistFailed, "read key cache", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, skerrors.Wrap(skerrors.CodePersistFailed, "parse key cache", err)
	}
	for _, k := range ff.Keys {
		c.keys[k] = struct{}{}
	}
	c.lastBuiltAt = ff.LastBuiltAt
	return c, nil
}

// GetKeys returns a snapshot of the current interesting-key set.
func (c *Cache) GetKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.keys))
	for k := range c.keys {
		out = append(out, k)
	}
	return out
}

// LastBuiltAt reports when the current key set was produced, if ever.
func (c *Cache) LastBuiltAt() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastBuiltAt
}

// Replace overwrites the key set and build timestamp, persisting
// atomically. The live set is left untouched if the write fails.
func (c *Cache) Replace(keys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		next[k] = struct{}{}
	}
	now := time.Now().UTC()

	if err := c.persist(next, &now); err != nil {
		return skerrors.Wrap(skerrors.CodePersistFailed, "write key cache", err)
	}

	c.keys = next
	c.lastBuiltAt = &now
	return nil
}

// Clear empties the key set, clears the timestamp, and deletes the
// backing file. Called by the configuration store whenever a
// filter-affecting parameter changes.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return skerrors.Wrap(skerrors.CodePersistFailed, "delete key cache", err)
	}
	c.keys = map[string]struct{}{}
	c.lastBuiltAt = nil
	return nil
}

func (c *Cache) persist(keys map[string]struct{}, builtAt *time.Time) error {
	flat := make([]string, 0, len(keys))
	for k := range keys {
		flat = append(flat, k)
	}
	ff := fileFormat{Keys: flat, LastBuiltAt: builtAt}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, c.path)
}
