// Package watch re-runs a callback when any of a set of files changes.
// Editors often save by renaming, so the parent directories are watched and
// events are filtered down to the tracked files.
package watch

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a file must stay quiet before the callback
// fires.
const DefaultDebounce = 300 * time.Millisecond

// Handler receives the settled files of one batch, sorted.
type Handler func(ctx context.Context, changed []string)

// Stats counts watcher activity.
type Stats struct {
	Events        int
	Batches       int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// Watcher tracks files and calls a handler after they settle.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	logger      *zap.Logger
	handler     Handler
	files       map[string]bool
	dirs        map[string]bool
	debounceMap map[string]time.Time
	debounceDur time.Duration
	tick        time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       Stats
}

// Option customises a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceDur = d
		if d/3 < w.tick {
			w.tick = max(d/3, time.Millisecond)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a watcher calling handler.
func New(handler Handler, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:     fw,
		logger:      zap.NewNop(),
		handler:     handler,
		files:       make(map[string]bool),
		dirs:        make(map[string]bool),
		debounceMap: make(map[string]time.Time),
		debounceDur: DefaultDebounce,
		tick:        100 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// SetFiles replaces the tracked files. Directories no longer needed are
// unwatched.
func (w *Watcher) SetFiles(paths ...string) error {
	files := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for d := range dirs {
		if w.dirs[d] {
			continue
		}
		if err := w.watcher.Add(d); err != nil {
			return err
		}
		w.logger.Debug("Watching directory", zap.String("dir", d))
	}
	for d := range w.dirs {
		if !dirs[d] {
			_ = w.watcher.Remove(d)
		}
	}
	w.files, w.dirs = files, dirs
	return nil
}

// Files returns the tracked files, sorted.
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return sortedKeys(w.files)
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop ends the event loop, waits for it and releases the OS watcher.
// It is safe to call on a watcher that was never started.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		select {
		case <-w.stopCh:
		default:
			close(w.stopCh)
		}
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("Error closing watcher", zap.Error(err))
	}
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	path := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.files[path] {
		return
	}
	w.stats.Events++
	w.stats.LastEventPath = path
	w.stats.LastEventTime = time.Now()
	w.debounceMap[path] = time.Now()
	w.logger.Debug("File changed", zap.String("path", path), zap.String("op", event.Op.String()))
}

// flush hands settled files to the handler as one batch.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	settled := make(map[string]bool)
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled[path] = true
			delete(w.debounceMap, path)
		}
	}
	if len(settled) > 0 {
		w.stats.Batches++
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}
	w.handler(ctx, sortedKeys(settled))
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
