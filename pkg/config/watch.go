package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay debounces bursts of write events from editors.
const reloadDelay = 500 * time.Millisecond

// Watch reloads the configuration at path whenever it changes and hands
// each successfully loaded version to reloadFn. The parent directory is
// watched so editors that replace the file are handled. Watch returns once
// the watcher is set up; it stops when ctx is done.
func Watch(ctx context.Context, path string, logger zerolog.Logger, reloadFn func(*Config) error) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	logger = logger.With().Str("component", "config").Str("file", abs).Logger()
	go processEvents(ctx, watcher, abs, logger, reloadFn)
	return nil
}

func processEvents(ctx context.Context, watcher *fsnotify.Watcher, path string, logger zerolog.Logger, reloadFn func(*Config) error) {
	defer watcher.Close()

	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			logger.Debug().Str("op", event.Op.String()).Msg("config file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if ctx.Err() != nil {
					return
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Error().Err(err).Msg("failed to reload config")
					return
				}
				if err := reloadFn(cfg); err != nil {
					logger.Error().Err(err).Msg("failed to apply config")
					return
				}
				logger.Info().Msg("config reloaded")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("config watcher error")
		}
	}
}
