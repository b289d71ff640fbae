// Package watcher reports debounced changes to individual files, used to
// hot-reload the discovery rules.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches one file. It watches the parent directory so that
// atomic saves (write to temp, rename over) are seen.
type FileWatcher struct {
	path      string
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	stopCh    chan struct{}
}

// New creates a watcher for path
func New(path string, debounce time.Duration) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	return &FileWatcher{
		path:      abs,
		watcher:   fsWatcher,
		debouncer: NewDebouncer(debounce),
		stopCh:    make(chan struct{}),
	}, nil
}

// Path returns the absolute path being watched
func (w *FileWatcher) Path() string {
	return w.path
}

// Start begins watching
func (w *FileWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.processEvents(ctx)

	slog.Info("watcher started", "path", w.path)
	return nil
}

// Changes returns the channel of debounced changes
func (w *FileWatcher) Changes() <-chan Change {
	return w.debouncer.Changes()
}

// Stop stops the watcher
func (w *FileWatcher) Stop() error {
	select {
	case <-w.stopCh:
		return nil
	default:
	}
	close(w.stopCh)
	w.debouncer.Stop()
	return w.watcher.Close()
}

func (w *FileWatcher) processEvents(ctx context.Context) {
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
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *FileWatcher) handleEvent(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.debouncer.Add(w.path, ChangeWritten)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.debouncer.Add(w.path, ChangeRemoved)
	case event.Has(fsnotify.Chmod):
		// Ignore chmod events
	}
}

// Run calls reload after every debounced write until ctx is done. A
// removed file keeps whatever reload last installed.
func Run(ctx context.Context, w *FileWatcher, reload func(path string) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-w.Changes():
			if change.Kind == ChangeRemoved {
				slog.Warn("watched file removed, keeping current state", "path", change.Path)
				continue
			}
			if err := reload(change.Path); err != nil {
				slog.Error("reload failed, keeping current state", "path", change.Path, "error", err)
			}
		}
	}
}
