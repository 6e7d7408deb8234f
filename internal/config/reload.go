package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/slbailey/retrovue/internal/log"
)

// WatchLogLevel re-applies service.log_level whenever the config file
// changes. Structural keys are ignored; they need a restart. The watcher
// runs until ctx is cancelled.
func WatchLogLevel(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors and renameio-style writers replace the
	// file, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	logger := log.WithComponent("config.watch")
	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Warn().Err(err).Msg("config reload skipped: invalid file")
					continue
				}
				log.SetLevel(cfg.Service.LogLevel)
				logger.Info().Str("level", cfg.Service.LogLevel).Msg("log level reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}
