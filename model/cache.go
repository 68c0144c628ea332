// Package model resolves transcription model files and caches handles to
// them with reference counting, so concurrent tasks using the same model
// share one handle and an unused model can be swapped on disk.
package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config identifies one loadable transcription model.
type Config struct {
	// Name is a model size name ("tiny", "base", "small", ...) or a direct
	// path to a model file.
	Name string

	// Dir is the directory scanned for model files when Name is not a path.
	Dir string
}

// Handle is a resolved, validated model reference. Obtain via Cache.Acquire
// and return via Cache.Release.
type Handle struct {
	Name string
	Path string
}

type cacheEntry struct {
	handle *Handle
	refs   int
}

// Cache is a small load-on-miss, reuse-on-hit handle cache keyed by model
// name. It is the only shared mutable state besides the task registry and
// carries its own lock.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

// Acquire returns a handle for the model, resolving and validating the
// model file on first use. Every successful Acquire must be paired with a
// Release.
func (c *Cache) Acquire(cfg Config) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[cfg.Name]; ok {
		e.refs++
		return e.handle, nil
	}

	path, err := resolvePath(cfg)
	if err != nil {
		return nil, err
	}

	h := &Handle{Name: cfg.Name, Path: path}
	c.entries[cfg.Name] = &cacheEntry{handle: h, refs: 1}
	return h, nil
}

// Release drops one reference. The cache entry is evicted when the count
// reaches zero. Releasing a foreign or already-evicted handle is a no-op.
func (c *Cache) Release(h *Handle) {
	if h == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[h.Name]
	if !ok || e.handle != h {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(c.entries, h.Name)
	}
}

// Refs reports the current reference count for a model name.
func (c *Cache) Refs(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[name]; ok {
		return e.refs
	}
	return 0
}

// resolvePath maps a model name to a file. A name that is itself an
// existing file wins; otherwise the model directory is scanned for .bin or
// .gguf files whose name contains the model name.
func resolvePath(cfg Config) (string, error) {
	if info, err := os.Stat(cfg.Name); err == nil && !info.IsDir() {
		return cfg.Name, nil
	}

	if strings.TrimSpace(cfg.Dir) == "" {
		return "", fmt.Errorf("model directory is required to resolve model %q", cfg.Name)
	}

	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory %s: %w", cfg.Dir, err)
	}

	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".bin" && ext != ".gguf" {
			continue
		}
		if cfg.Name == "" || strings.Contains(name, cfg.Name) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no model file matching %q found in %s", cfg.Name, cfg.Dir)
	}

	sort.Strings(candidates)
	return filepath.Join(cfg.Dir, candidates[0]), nil
}
