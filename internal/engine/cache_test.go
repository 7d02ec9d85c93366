package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"leakhound/internal/config"
	"leakhound/internal/leak"
)

func statFile(t *testing.T, path string) os.FileInfo {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info
}

func TestScanCacheTTL(t *testing.T) {
	cache := newScanCache(time.Minute)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	path := filepath.Join(t.TempDir(), "a.js")
	require.NoError(t, os.WriteFile(path, []byte("const x = 1;\n"), 0o644))
	info := statFile(t, path)

	reports := []leak.Report{{ID: "r1", File: path}}
	cache.Put(path, info, reports)

	got, ok := cache.Get(path, info)
	require.True(t, ok)
	assert.Equal(t, reports, got)

	// Past the TTL the entry is dropped even for an unchanged file.
	now = now.Add(2 * time.Minute)
	_, ok = cache.Get(path, info)
	assert.False(t, ok)

	hits, misses := cache.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestScanCacheDetectsFileChange(t *testing.T) {
	cache := newScanCache(time.Hour)
	path := filepath.Join(t.TempDir(), "a.js")
	require.NoError(t, os.WriteFile(path, []byte("const x = 1;\n"), 0o644))
	info := statFile(t, path)

	cache.Put(path, info, []leak.Report{})

	require.NoError(t, os.WriteFile(path, []byte("const x = 1; const y = 2;\n"), 0o644))
	_, ok := cache.Get(path, statFile(t, path))
	assert.False(t, ok)
}

func TestScanCacheInvalidate(t *testing.T) {
	cache := newScanCache(time.Hour)
	path := filepath.Join(t.TempDir(), "a.js")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))
	info := statFile(t, path)

	cache.Put(path, info, []leak.Report{})
	cache.Invalidate(path)
	_, ok := cache.Get(path, info)
	assert.False(t, ok)
}

func TestWatcherInvalidatesOnWrite(t *testing.T) {
	cache := newScanCache(time.Hour)
	w, err := newWatcher(cache, zap.NewNop())
	require.NoError(t, err)

	root := t.TempDir()
	path := filepath.Join(root, "a.js")
	require.NoError(t, os.WriteFile(path, []byte("const x = 1;\n"), 0o644))
	require.NoError(t, w.Add(root))
	w.Start()
	defer w.Stop()

	info := statFile(t, path)
	cache.Put(path, info, []leak.Report{{ID: "r1"}})

	require.NoError(t, os.WriteFile(path, []byte("const x = 2;\n"), 0o644))

	assert.Eventually(t, func() bool {
		_, ok := cache.Get(path, info)
		return !ok
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatchInvalidationRegistersScannedPaths(t *testing.T) {
	e := newEngine(t, func(c *config.Config) { c.Scan.WatchInvalidation = true })
	require.NotNil(t, e.watcher)
	assert.Empty(t, e.watcher.fsw.WatchList())

	root := writeProject(t)
	_, err := e.ScanProject(context.Background(), ScanOptions{Root: root})
	require.NoError(t, err)
	assert.Contains(t, e.watcher.fsw.WatchList(), root)

	// A single-file scan registers the file itself.
	path := filepath.Join(t.TempDir(), "Widget.jsx")
	require.NoError(t, os.WriteFile(path, []byte(leakySource), 0o644))
	require.Len(t, e.ScanFile(context.Background(), path, nil), 1)
	assert.Contains(t, e.watcher.fsw.WatchList(), path)

	// Rewriting a scanned project file evicts its cache entry without
	// any further scans.
	widget := filepath.Join(root, "Widget.jsx")
	info := statFile(t, widget)
	require.NoError(t, os.WriteFile(widget, []byte(cleanSource), 0o644))
	assert.Eventually(t, func() bool {
		_, ok := e.cache.Get(widget, info)
		return !ok
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := newWatcher(newScanCache(time.Minute), zap.NewNop())
	require.NoError(t, err)
	w.Start()
	w.Stop()
	w.Stop()
}
