package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the write/rename bursts editors produce for one save.
var watchDebounce = 150 * time.Millisecond

// Watch reloads path whenever it changes and passes the result to onChange.
// The parent directory is watched, so atomic replace-by-rename saves are seen
// and the file may be created after Watch starts. Watch blocks until ctx is
// done and returns nil then.
func Watch(ctx context.Context, path string, onChange func(Config, error)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch config: resolve path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer func() {
		if closeErr := watcher.Close(); closeErr != nil {
			slog.Debug("[DEBUG-CONFIG] watcher close failed", "error", closeErr)
		}
	}()
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watch config: add %s: %w", filepath.Dir(absPath), err)
	}
	slog.Debug("[DEBUG-CONFIG] watching config", "path", absPath)

	// Armed by the first relevant event.
	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != absPath {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			timer.Reset(watchDebounce)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("[WARN-CONFIG] watcher error", "error", watchErr)
		case <-timer.C:
			cfg, loadErr := Load(absPath)
			if loadErr != nil {
				slog.Warn("[WARN-CONFIG] reload failed", "path", absPath, "error", loadErr)
			} else {
				slog.Info("[DEBUG-CONFIG] config reloaded", "path", absPath, "bindings", len(cfg.Bindings))
			}
			onChange(cfg, loadErr)
		}
	}
}
