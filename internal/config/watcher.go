package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher reports changes to config.yaml and the enabled source export
// files, so a running daemon can reload configuration and re-sync changed
// exports without restarting.
type Watcher struct {
	files  []string
	logger *slog.Logger
	events chan ReloadEvent
}

// NewWatcher watches config.yaml under homeDir plus any extra files.
func NewWatcher(homeDir string, extra []string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	files := append([]string{filepath.Join(homeDir, "config.yaml")}, extra...)
	return &Watcher{
		files:  files,
		logger: logger,
		events: make(chan ReloadEvent, 16),
	}
}

func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, file := range w.files {
		// Files may not exist yet; watch their directories too so creates
		// are seen.
		_ = fsw.Add(file)
		_ = fsw.Add(filepath.Dir(file))
	}
	watched := make(map[string]bool, len(w.files))
	for _, file := range w.files {
		watched[filepath.Clean(file)] = true
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if !watched[filepath.Clean(ev.Name)] {
					continue
				}
				select {
				case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				default:
				}
				w.logger.Info("watched file changed", "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("file watcher error", "error", err)
			}
		}
	}()
	return nil
}
