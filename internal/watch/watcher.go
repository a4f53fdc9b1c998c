// Package watch re-runs classification when photos land in a source tree.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"photosort/internal/logging"
	"photosort/internal/pipeline"
	"photosort/internal/scan"
)

// Defaults for Config zero values.
const (
	DefaultDebounce = 2 * time.Second
	DefaultTick     = 250 * time.Millisecond
)

// Trigger starts a classification run. Returning pipeline.ErrJobActive
// keeps the run pending until a later tick.
type Trigger func(ctx context.Context) error

// Config tunes a Watcher.
type Config struct {
	// Debounce is the quiet period after the last photo event.
	Debounce time.Duration
	// Tick is how often settled events and pending runs are checked.
	Tick time.Duration
	// Exclude lists directories never watched, such as an export root
	// nested in the source.
	Exclude []string
}

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Triggers      int
	Deferred      int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// Watcher watches a source tree and calls its trigger once photo events
// settle.
type Watcher struct {
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	root     string
	exclude  map[string]bool
	trigger  Trigger
	debounce time.Duration
	tick     time.Duration

	lastEvent time.Time // zero when nothing is waiting
	pending   bool      // a run was refused because a job was active
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
	closeOnce sync.Once

	stats Stats
}

// New returns a watcher for root. Nothing is watched until Start.
func New(root string, trigger Trigger, cfg Config) (*Watcher, error) {
	if trigger == nil {
		return nil, errors.New("watch trigger is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("source not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source is not a directory: %s", abs)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		root:     abs,
		exclude:  make(map[string]bool, len(cfg.Exclude)),
		trigger:  trigger,
		debounce: cfg.Debounce,
		tick:     cfg.Tick,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.tick <= 0 {
		w.tick = DefaultTick
	}
	for _, e := range cfg.Exclude {
		if a, err := filepath.Abs(e); err == nil {
			w.exclude[a] = true
		}
	}
	return w, nil
}

// Start watches the tree in the background. Calling it twice is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if _, err := w.addTree(w.root); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	logging.Watch("watching %s (%d directories)", w.root, len(w.watcher.WatchList()))

	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the fsnotify handle. It must be
// called even when Start was not, or the context already ended the loop.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}

	w.closeOnce.Do(func() {
		if err := w.watcher.Close(); err != nil {
			logging.Get(logging.CategoryWatch).Error("error closing watcher: %v", err)
		}
		logging.Watch("stopped")
	})
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// WatchedDirs lists the directories currently watched.
func (w *Watcher) WatchedDirs() []string {
	return w.watcher.WatchList()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.WatchDebug("context canceled")
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
			logging.Get(logging.CategoryWatch).Error("watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case now := <-ticker.C:
			w.maybeFire(ctx, now)
		}
	}
}

// handleEvent records photo creates and writes. New directories are added
// to the watch list.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if w.excluded(event.Name) {
		return
	}

	relevant := scan.IsImage(event.Name)
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// Photos may have landed before the directory was watched.
			found, err := w.addTree(event.Name)
			if err != nil {
				logging.Get(logging.CategoryWatch).Warn("failed to watch %s: %v", event.Name, err)
			}
			relevant = found
		}
	}
	if !relevant {
		return
	}

	logging.WatchDebug("%s %s", event.Op, event.Name)
	w.mu.Lock()
	now := time.Now()
	w.lastEvent = now
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = now
	w.mu.Unlock()
}

// maybeFire calls the trigger once events have settled, or when an earlier
// run is still pending.
func (w *Watcher) maybeFire(ctx context.Context, now time.Time) {
	w.mu.Lock()
	settled := !w.lastEvent.IsZero() && now.Sub(w.lastEvent) >= w.debounce
	if !settled && !w.pending {
		w.mu.Unlock()
		return
	}
	if settled {
		w.lastEvent = time.Time{}
	}
	w.pending = false
	w.mu.Unlock()

	err := w.trigger(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case errors.Is(err, pipeline.ErrJobActive):
		logging.WatchDebug("job active, run deferred")
		w.pending = true
		w.stats.Deferred++
	case err != nil:
		logging.Get(logging.CategoryWatch).Error("triggered run failed: %v", err)
		w.stats.Errors++
	default:
		w.stats.Triggers++
	}
}

// addTree watches dir and its subdirectories and reports whether any photo
// was seen along the way.
func (w *Watcher) addTree(dir string) (bool, error) {
	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			if scan.IsImage(path) {
				found = true
			}
			return nil
		}
		if w.excluded(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			logging.Get(logging.CategoryWatch).Warn("failed to watch %s: %v", path, err)
		}
		return nil
	})
	return found, err
}

func (w *Watcher) excluded(path string) bool {
	for p := path; ; {
		if w.exclude[p] {
			return true
		}
		parent := filepath.Dir(p)
		if parent == p || len(parent) < len(w.root) {
			return false
		}
		p = parent
	}
}
