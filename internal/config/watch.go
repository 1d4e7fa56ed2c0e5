package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"longwalk/internal/telemetry"
)

// Watch reloads path whenever it is written or replaced and hands every
// successfully loaded configuration to apply. It blocks until ctx is done.
// The parent directory is watched so editors that save by rename are seen.
func Watch(ctx context.Context, path string, logger telemetry.Logger, apply func(Config)) error {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(target)
			if err != nil {
				logger.Printf("config reload failed: %v", err)
				continue
			}
			logger.Printf("config reloaded from %s", target)
			apply(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("config watcher error: %v", err)
		}
	}
}
