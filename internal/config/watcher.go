package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Tunables is the subset of configuration that may change at runtime.
type Tunables struct {
	WriteWakeupBits  uint32
	ReseedMaxSeconds uint32
	LogLevel         string
}

// Watch monitors the config file and delivers updated runtime tunables on
// every write. Structural settings (sockets, user, digest width) require a
// restart and are ignored here. Watch returns when ctx is cancelled.
func Watch(ctx context.Context, path string, log *slog.Logger, apply func(Tunables)) error {
	if path == "" {
		path = ConfigPath()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: editors replace the file, which drops a watch
	// registered on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name != path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload failed", "path", path, "err", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				log.Warn("config reload rejected", "path", path, "err", err)
				continue
			}
			log.Info("config reloaded", "path", path)
			apply(Tunables{
				WriteWakeupBits:  cfg.WriteWakeupBits,
				ReseedMaxSeconds: cfg.ReseedMaxSeconds,
				LogLevel:         cfg.LogLevel,
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "err", err)
		}
	}
}
