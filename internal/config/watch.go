package config

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads Config from path whenever the file changes on disk and
// hands the new value to onReload. A reload that fails validation is
// logged and the previous Config keeps running, mirroring the daemon's
// SIGHUP-reload pattern but driven by fsnotify instead of a signal.
type Watcher struct {
	path     string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
	onReload func(*Config)
}

// NewWatcher starts watching path for changes. Call Close to stop.
func NewWatcher(path string, logger *slog.Logger, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{path: path, logger: logger, watcher: fw, done: make(chan struct{}), onReload: onReload}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Editors often replace the file rather than write in place,
			// which shows up as Remove followed by Create; a Write or
			// Create triggers a reload, and a Remove re-adds the watch on
			// the path so the replacement file is still observed.
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
			if ev.Op&fsnotify.Remove != 0 {
				_ = w.watcher.Add(w.path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous configuration",
			slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	w.logger.Info("configuration reloaded", slog.String("path", w.path))
	w.onReload(cfg)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
