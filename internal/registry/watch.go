package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the override file whenever it changes on disk. The parent
// directory is watched so editors that replace the file atomically are seen.
// Returns once the watcher is running; it stops when ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	r.mu.RLock()
	path := r.path
	r.mu.RUnlock()
	if path == "" {
		return errors.New("registry: no file loaded to watch")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registry: create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return fmt.Errorf("registry: watch %s: %w", path, err)
	}

	go r.watchLoop(ctx, w, path)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, w *fsnotify.Watcher, path string) {
	defer w.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Warn("registry watcher error", "error", err)
		case <-fire:
			fire = nil
			if err := r.Reload(); err != nil {
				r.logger.Error("registry reload failed, keeping previous catalog", "error", err)
			}
		}
	}
}
