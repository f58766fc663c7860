package server

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 500 * time.Millisecond

// Reloader watches the config file and hot-reloads alert destinations.
type Reloader struct {
	watcher *fsnotify.Watcher
	server  *Server
	path    string
	log     *zap.Logger
}

// NewReloader creates a watcher for path. The parent directory is watched so
// editors that replace the file by rename are still seen.
func NewReloader(server *Server, path string, log *zap.Logger) (*Reloader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}
	return &Reloader{watcher: watcher, server: server, path: abs, log: log}, nil
}

// Run watches for file changes and reloads alerts. Blocks until ctx is
// cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Debounce: wait after the last write before reloading.
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					if err := r.server.ReloadAlerts(); err != nil {
						r.log.Warn("hot-reload failed", zap.Error(err))
					}
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("file watcher error", zap.Error(err))
		}
	}
}
