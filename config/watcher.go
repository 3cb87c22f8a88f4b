package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/yashsham/open-agent-orchestrator/slogger"
)

// Watcher reloads a configuration file when it changes on disk and hands each
// loaded configuration to its onChange callback. Applying the new values is
// up to the callback; the worker command's callback only logs the change.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   slogger.Logger
}

// NewWatcher creates a watcher for the given file. onChange is called with
// each successfully loaded new configuration.
func NewWatcher(path string, onChange func(*Config), logger slogger.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	return &Watcher{path: path, onChange: onChange, logger: logger}, nil
}

// Watch blocks until the context is cancelled, invoking the callback on
// every write to the config file. Editors often replace files instead of
// writing in place, so the parent directory is watched and events filtered
// by name.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("ignoring invalid config change", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("config reloaded", "path", w.path)
			w.onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
