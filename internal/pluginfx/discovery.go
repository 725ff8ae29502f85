package pluginfx

import (
	"os"
	"path/filepath"
	goplugin "plugin"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/discoveryd/pkg/plugin"
)

// pluginSymbol is the exported symbol every *.so plugin file must provide:
// a zero-arg constructor returning a fresh plugin.Plugin instance.
const pluginSymbol = "NewPlugin"

// DiscoverPlugins scans dirs for *.so files (skipping names starting with
// "_"), opens each with the standard library's plugin package, looks up
// the NewPlugin symbol and registers the resulting plugin.Plugin. A
// failure on one file is isolated: it is recorded and scanning continues.
// The returned map is keyed by file path, or by directory path for a
// directory that could not be read.
func (r *Registry) DiscoverPlugins(dirs []string) map[string]error {
	r.loadErrorsMu.Lock()
	r.loadErrors = make(map[string]error)
	r.loadErrorsMu.Unlock()

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			r.recordLoadError(dir, err)
			continue
		}
		for _, de := range entries {
			if de.IsDir() || strings.HasPrefix(de.Name(), "_") || !strings.HasSuffix(de.Name(), ".so") {
				continue
			}
			path := filepath.Join(dir, de.Name())
			if err := r.loadPluginFile(path); err != nil {
				r.recordLoadError(path, err)
				r.logger.Warn("plugin load failed", zap.String("file", path), zap.Error(err))
			}
		}
	}

	r.loadErrorsMu.Lock()
	defer r.loadErrorsMu.Unlock()
	out := make(map[string]error, len(r.loadErrors))
	for k, v := range r.loadErrors {
		out[k] = v
	}
	return out
}

func (r *Registry) recordLoadError(path string, err error) {
	r.loadErrorsMu.Lock()
	defer r.loadErrorsMu.Unlock()
	r.loadErrors[path] = err
}

func (r *Registry) loadPluginFile(path string) error {
	handle, err := goplugin.Open(path)
	if err != nil {
		return err
	}
	sym, err := handle.Lookup(pluginSymbol)
	if err != nil {
		return err
	}
	ctor, ok := sym.(func() plugin.Plugin)
	if !ok {
		return errUnexpectedSymbolType
	}
	return r.Register(ctor(), path)
}

var errUnexpectedSymbolType = pluginSymbolError{}

type pluginSymbolError struct{}

func (pluginSymbolError) Error() string {
	return "pluginfx: NewPlugin symbol has unexpected type, want func() plugin.Plugin"
}
