package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"missionforge/internal/logging"
)

// reloadDebounce collapses the burst of events editors emit on save.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads path whenever it changes and hands the new config to onChange.
// The parent directory is watched so atomic rename-on-save is seen. Parse
// failures are logged and the previous config stays in effect. Watch blocks
// until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	logging.Boot("Watching config %s for changes", abs)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.BootWarn("Config watcher error: %v", err)

		case <-pending:
			pending = nil
			cfg, err := Load(abs)
			if err != nil {
				logging.BootWarn("Config reload failed, keeping previous: %v", err)
				continue
			}
			logging.Boot("Config reloaded from %s", abs)
			onChange(cfg)
		}
	}
}
