package pluginfx

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/HerbHall/discoveryd/pkg/plugin"
)

// Watcher drives hot reload: a write to a plugin's source file triggers
// Reload for every registered plugin loaded from that file. Its absence is
// a degraded-service warning, never a startup failure (§4.7).
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	cfgFor   func(name string) plugin.Config
	logger   *zap.Logger
	done     chan struct{}
}

// NewWatcher creates a Watcher over dirs. On failure to start the
// underlying fsnotify watcher, it returns a nil *Watcher and a non-nil
// error; callers should log a warning and continue without hot reload.
func NewWatcher(registry *Registry, dirs []string, cfgFor func(name string) plugin.Config, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
	}

	w := &Watcher{
		registry: registry,
		watcher:  fw,
		cfgFor:   cfgFor,
		logger:   logger.Named("pluginfx.hotreload"),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reloadPluginsFromFile(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reloadPluginsFromFile(path string) {
	w.registry.mu.RLock()
	var names []string
	for name, e := range w.registry.entries {
		if e.sourceFile == path {
			names = append(names, name)
		}
	}
	w.registry.mu.RUnlock()

	for _, name := range names {
		if err := w.registry.Reload(context.Background(), name, w.cfgFor(name)); err != nil {
			w.logger.Error("hot reload failed", zap.String("plugin", name), zap.Error(err))
		} else {
			w.logger.Info("hot reloaded plugin", zap.String("plugin", name), zap.String("file", path))
		}
	}
}

// Close stops the watcher loop and releases the underlying fsnotify watch.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
