package engine

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher invalidates scan-cache entries the moment the underlying file
// changes on disk, so the TTL window never serves a stale result.
type Watcher struct {
	mu          sync.Mutex
	fsw         *fsnotify.Watcher
	cache       *scanCache
	log         *zap.Logger
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

func newWatcher(cache *scanCache, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:         fsw,
		cache:       cache,
		log:         log,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// AddPath registers a single file or directory, non-recursively.
// Registering the same path twice is a no-op.
func (w *Watcher) AddPath(path string) error {
	return w.fsw.Add(path)
}

// Add registers a directory tree with the watcher.
func (w *Watcher) Add(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				w.log.Warn("watch add failed", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
}

// Start begins processing events in a goroutine. Non-blocking.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.loop()
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}
			if w.debounced(event.Name) {
				continue
			}
			w.cache.Invalidate(event.Name)
			w.log.Debug("cache invalidated by watcher",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// debounced coalesces rapid event bursts (editors often fire several
// writes per save).
func (w *Watcher) debounced(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if last, ok := w.debounceMap[path]; ok && now.Sub(last) < w.debounceDur {
		return true
	}
	w.debounceMap[path] = now
	return false
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	_ = w.fsw.Close()
	<-w.doneCh
}
