// internal/discovery/watcher.go
package discovery

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/model"
)

// Hotplug is a monitored device appearing in or vanishing from the watched directory
type Hotplug struct {
	Type model.EventType
	Name string
	Path string
}

// Watcher turns directory changes into hotplug notifications
type Watcher struct {
	dir       string
	templates *Templates
	watcher   *fsnotify.Watcher
	logger    *zap.Logger
}

// NewWatcher starts watching dir. Close releases the watch.
func NewWatcher(dir string, templates *Templates, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:       dir,
		templates: templates,
		watcher:   fw,
		logger:    logger.With(zap.String("component", "watcher"), zap.String("dir", dir)),
	}, nil
}

// Run delivers hotplug events to fn until ctx is done or the watcher is closed
func (w *Watcher) Run(ctx context.Context, fn func(Hotplug)) {
	w.logger.Info("Watching for devices")

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if hp, ok := w.translate(event); ok {
				fn(hp)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", zap.Error(err))
		}
	}
}

// Close stops the watch. Run returns once its channels drain.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) translate(event fsnotify.Event) (Hotplug, bool) {
	name := filepath.Base(event.Name)
	if !w.templates.Match(name) {
		return Hotplug{}, false
	}

	hp := Hotplug{Name: name, Path: filepath.Join(w.dir, name)}
	switch {
	case event.Has(fsnotify.Create):
		hp.Type = model.EventDeviceAppeared
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		hp.Type = model.EventDeviceVanished
	default:
		return Hotplug{}, false
	}
	return hp, true
}
