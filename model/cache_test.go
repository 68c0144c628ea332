package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModel(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("model"), 0o644))
	return path
}

func TestCacheAcquireResolvesFromDirectory(t *testing.T) {
	dir := t.TempDir()
	want := writeModel(t, dir, "ggml-small.bin")
	writeModel(t, dir, "ggml-large.bin")

	c := NewCache()
	h, err := c.Acquire(Config{Name: "small", Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, want, h.Path)
	assert.Equal(t, 1, c.Refs("small"))
}

func TestCacheAcquireAcceptsDirectFilePath(t *testing.T) {
	dir := t.TempDir()
	path := writeModel(t, dir, "custom.gguf")

	c := NewCache()
	h, err := c.Acquire(Config{Name: path})
	require.NoError(t, err)
	assert.Equal(t, path, h.Path)
}

func TestCacheReusesHandleAcrossAcquires(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "ggml-base.bin")

	c := NewCache()
	h1, err := c.Acquire(Config{Name: "base", Dir: dir})
	require.NoError(t, err)
	h2, err := c.Acquire(Config{Name: "base", Dir: dir})
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, 2, c.Refs("base"))
}

func TestCacheReleaseEvictsAtZero(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "ggml-base.bin")

	c := NewCache()
	h1, err := c.Acquire(Config{Name: "base", Dir: dir})
	require.NoError(t, err)
	h2, err := c.Acquire(Config{Name: "base", Dir: dir})
	require.NoError(t, err)

	c.Release(h1)
	assert.Equal(t, 1, c.Refs("base"))
	c.Release(h2)
	assert.Equal(t, 0, c.Refs("base"))

	// Releasing after eviction stays safe.
	c.Release(h2)
	c.Release(nil)
}

func TestCacheAcquireFailsForMissingModel(t *testing.T) {
	c := NewCache()
	_, err := c.Acquire(Config{Name: "small", Dir: t.TempDir()})
	assert.Error(t, err)
}
