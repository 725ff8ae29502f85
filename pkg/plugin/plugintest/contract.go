// Package plugintest provides shared contract tests verifying any
// plugin.Plugin implementation honors the handler lifecycle. Every protocol
// handler's test file should call TestPluginContract to ensure conformance.
package plugintest

import (
	"context"
	"testing"
	"time"

	"github.com/HerbHall/discoveryd/pkg/plugin"
)

// fakeConfig is a minimal plugin.Config that answers every query with a
// zero value, enough to exercise Initialize/ValidateConfig contract checks.
type fakeConfig struct{}

func (fakeConfig) Unmarshal(target any) error      { return nil }
func (fakeConfig) Get(key string) any              { return nil }
func (fakeConfig) GetString(key string) string      { return "" }
func (fakeConfig) GetInt(key string) int            { return 0 }
func (fakeConfig) GetBool(key string) bool          { return false }
func (fakeConfig) GetDuration(key string) time.Duration { return 0 }
func (fakeConfig) IsSet(key string) bool            { return false }
func (fakeConfig) Sub(key string) plugin.Config     { return fakeConfig{} }

// TestPluginContract runs a suite of behavioral contract tests against any
// plugin.Plugin implementation. Call from each handler's _test.go:
//
//	func TestContract(t *testing.T) {
//	    plugintest.TestPluginContract(t, func() plugin.Plugin { return mdns.New(...) })
//	}
func TestPluginContract(t *testing.T, factory func() plugin.Plugin) {
	t.Helper()

	t.Run("Metadata_is_populated", func(t *testing.T) {
		p := factory()
		md := p.Metadata()
		if md.Name == "" {
			t.Error("Metadata().Name must not be empty")
		}
		if md.Version == "" {
			t.Error("Metadata().Version must not be empty")
		}
		if md.APIVersion < plugin.APIVersionMin {
			t.Errorf("Metadata().APIVersion = %d, below minimum %d", md.APIVersion, plugin.APIVersionMin)
		}
	})

	t.Run("Metadata_is_idempotent", func(t *testing.T) {
		p := factory()
		a := p.Metadata()
		b := p.Metadata()
		if a.Name != b.Name || a.Version != b.Version {
			t.Error("Metadata() must return consistent results across calls")
		}
	})

	t.Run("Discover_never_panics_before_Initialize", func(t *testing.T) {
		p := factory()
		result := p.Discover(context.Background(), map[string]any{})
		if result.Protocol == "" {
			t.Error("Discover() must populate Result.Protocol even when uninitialized")
		}
	})

	t.Run("Cleanup_after_Initialize_does_not_error", func(t *testing.T) {
		p := factory()
		_ = p.Initialize(context.Background(), fakeConfig{})
		if err := p.Cleanup(context.Background()); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	})
}
