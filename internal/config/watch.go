package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/anstrom/scancache/internal/logging"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 100 * time.Millisecond

// Watch reloads the file at path whenever it changes and passes every valid
// result to onChange. Invalid files are logged and skipped. The parent
// directory is watched so that rename-on-save editors are picked up. Watch
// returns once the watcher is installed; it stops when ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer func() { _ = w.Close() }()

		var timer *time.Timer
		reload := make(chan struct{}, 1)

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
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.AfterFunc(reloadDelay, func() {
						select {
						case reload <- struct{}{}:
						default:
						}
					})
				} else {
					timer.Reset(reloadDelay)
				}

			case <-reload:
				cfg, err := Load(abs)
				if err != nil {
					logging.Error("Ignoring invalid configuration change", "path", abs, "error", err)
					continue
				}
				logging.Info("Configuration reloaded", "path", abs)
				onChange(cfg)

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logging.Warn("Configuration watcher error", "error", err)
			}
		}
	}()

	return nil
}
