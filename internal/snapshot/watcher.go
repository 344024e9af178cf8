package snapshot

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchDebounce = 400 * time.Millisecond

// Watcher watches the model directory for artifact replacement. A full
// rebuild runs out of process and swaps artifacts in place; the watcher
// invalidates the store's cached vectorizer and notifies the owner so
// long-lived processes do not serve a stale view.
type Watcher struct {
	store    *Store
	onChange func(name string)
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	timers   map[string]*time.Timer
	started  bool
	stopOnce sync.Once
	done     chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchLogger sets a logger for debug output.
func WithWatchLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a watcher over the store's model directory. onChange is
// called (debounced, per artifact) with the artifact file name; it may be nil.
func NewWatcher(store *Store, onChange func(name string), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		store:    store,
		onChange: onChange,
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := fw.Add(w.store.Dir()); err != nil {
		_ = fw.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	w.started = true
	w.mu.Unlock()

	if w.logger != nil {
		w.logger.Debug("model watcher started", zap.String("dir", w.store.Dir()))
	}
	go w.run(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		if w.watcher != nil {
			_ = w.watcher.Close()
			w.watcher = nil
		}
		w.started = false
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !isArtifact(name) {
				continue
			}
			w.schedule(name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("model watcher error", zap.Error(err))
			}
		}
	}
}

// schedule debounces per artifact: atomic saves produce a temp-create plus a
// rename, and a rebuild replaces several artifacts back to back.
func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(watchDebounce, func() {
		w.store.Invalidate()
		if w.logger != nil {
			w.logger.Debug("model artifact changed", zap.String("artifact", name))
		}
		if w.onChange != nil {
			w.onChange(name)
		}
	})
}

func isArtifact(name string) bool {
	switch name {
	case VectorizerFile, MatrixFile, BookIDsFile, MetaFile:
		return true
	}
	return false
}
