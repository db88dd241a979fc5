package artifact

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the store when the artifact directory changes on disk.
// A trainer dropping new blobs produces a burst of writes; events are
// debounced so the burst triggers one reload after the directory settles.
type Watcher struct {
	store    *Store
	debounce time.Duration
	fw       *fsnotify.Watcher
}

// NewWatcher creates a watcher over the store's directory.
func NewWatcher(store *Store, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(store.Dir()); err != nil {
		fw.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{store: store, debounce: debounce, fw: fw}, nil
}

// Start watches until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("artifact directory changed", "file", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Error("artifact watcher error", "error", err)

		case <-fire:
			timer = nil
			fire = nil
			if n, err := w.store.Reload(); err != nil {
				slog.Error("auto-reload failed", "error", err)
			} else {
				slog.Info("auto-reload complete", "models_loaded", n)
			}
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}
