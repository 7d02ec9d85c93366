package engine

import (
	"os"
	"sync"
	"time"

	"leakhound/internal/leak"
)

// cacheEntry holds one file's scan result plus the file identity it was
// computed against.
type cacheEntry struct {
	reports  []leak.Report
	modTime  int64
	size     int64
	storedAt time.Time
}

// scanCache coalesces repeated scans of the same unchanged file within
// a validity window. Safe for concurrent use across distinct paths; the
// engine owns its cache, there is no shared global.
type scanCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time

	hits   int
	misses int
}

func newScanCache(ttl time.Duration) *scanCache {
	return &scanCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached reports when the entry is inside its TTL and
// the file is unchanged (modtime and size both match).
func (c *scanCache) Get(path string, info os.FileInfo) ([]leak.Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl ||
		entry.modTime != info.ModTime().Unix() || entry.size != info.Size() {
		delete(c.entries, path)
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.reports, true
}

// Put stores a scan result against the file's current identity.
func (c *scanCache) Put(path string, info os.FileInfo, reports []leak.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = cacheEntry{
		reports:  reports,
		modTime:  info.ModTime().Unix(),
		size:     info.Size(),
		storedAt: c.now(),
	}
}

// Invalidate drops a path's entry, typically on a watcher event.
func (c *scanCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// Stats reports hit/miss counters for observability and tests.
func (c *scanCache) Stats() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
