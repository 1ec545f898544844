package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"githubtriage/logger"
	"githubtriage/models"
)

// WatchRepositories reloads the repositories file whenever it is written or replaced and
// passes the parsed list to onChange. Parse failures are logged and the previous list stays in
// effect. The directory is watched rather than the file so editors that swap files still trigger.
// The watcher stops when ctx is cancelled.
func WatchRepositories(ctx context.Context, path string, onChange func([]models.Repository)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to resolve repositories file: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				repos, err := LoadRepositories(abs)
				if err != nil {
					logger.Warn("Ignoring invalid repositories file", zap.String("path", abs), zap.Error(err))
					continue
				}
				logger.Info("Repositories file reloaded", zap.String("path", abs), zap.Int("count", len(repos)))
				onChange(repos)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Repositories watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
