package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ScriptLoader holds the active script and optionally hot-reloads it from disk.
type ScriptLoader struct {
	path    string
	current atomic.Pointer[Script]
}

// NewScriptLoader loads the script at path (the built-in script when path is
// empty) and returns a loader serving it.
func NewScriptLoader(path string) (*ScriptLoader, error) {
	s, err := LoadScript(path)
	if err != nil {
		return nil, err
	}
	l := &ScriptLoader{path: path}
	l.current.Store(s)
	return l, nil
}

// Current returns the active script.
func (l *ScriptLoader) Current() *Script {
	return l.current.Load()
}

// Reload re-reads the script file. The active script is left untouched when
// the file is invalid.
func (l *ScriptLoader) Reload() error {
	s, err := LoadScript(l.path)
	if err != nil {
		return err
	}
	l.current.Store(s)
	return nil
}

// WatchAndReload watches the script's directory and reloads on writes to the
// script file. It blocks until ctx is done.
func (l *ScriptLoader) WatchAndReload(ctx context.Context) error {
	if l.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so the directory is watched rather than the file.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", dir, err)
	}
	target := filepath.Clean(l.path)

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
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := l.Reload(); err != nil {
					slog.WarnContext(ctx, "script reload rejected",
						slog.String("path", l.path),
						slog.String("error", err.Error()))
					continue
				}
				slog.InfoContext(ctx, "script reloaded", slog.String("path", l.path))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
