package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher reports changes to one catalog file. Editors often replace
// files instead of writing in place, so the parent directory is watched
// and events are filtered by name.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	settle  time.Duration
}

// NewFileWatcher creates a watcher for path. Bursts of events closer than
// settle are reported once.
func NewFileWatcher(path string, settle time.Duration) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve catalog path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	if settle <= 0 {
		settle = 200 * time.Millisecond
	}
	return &FileWatcher{watcher: w, path: abs, settle: settle}, nil
}

// Watch calls onChange after the file is created or written, until ctx is
// cancelled or the watcher is stopped.
func (w *FileWatcher) Watch(ctx context.Context, onChange func(ctx context.Context, path string)) {
	var (
		timer  *time.Timer
		fire   <-chan time.Time
		stopFn = func() {
			if timer != nil {
				timer.Stop()
			}
		}
	)
	defer stopFn()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			stopFn()
			timer = time.NewTimer(w.settle)
			fire = timer.C

		case <-fire:
			fire = nil
			onChange(ctx, w.path)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("catalog watcher error", "path", w.path, "error", err)
		}
	}
}

// Stop releases the underlying watcher.
func (w *FileWatcher) Stop() error {
	return w.watcher.Close()
}
