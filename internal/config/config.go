// Package config provides a Viper-backed implementation of plugin.Config.
// It is the reference "external loader" only: no package under internal/
// other than this one imports Viper or reads a file/environment directly,
// per the spec's requirement that the core never parses configuration
// itself.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/HerbHall/discoveryd/pkg/plugin"
)

var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig wraps a Viper instance to implement plugin.Config.
type ViperConfig struct {
	v *viper.Viper
}

// New creates a Config backed by the given Viper instance. Returns the
// concrete type; callers assign to plugin.Config where needed.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) Unmarshal(target any) error { return c.v.Unmarshal(target) }
func (c *ViperConfig) Get(key string) any         { return c.v.Get(key) }
func (c *ViperConfig) GetString(key string) string { return c.v.GetString(key) }
func (c *ViperConfig) GetInt(key string) int       { return c.v.GetInt(key) }
func (c *ViperConfig) GetBool(key string) bool     { return c.v.GetBool(key) }
func (c *ViperConfig) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}
func (c *ViperConfig) IsSet(key string) bool { return c.v.IsSet(key) }

func (c *ViperConfig) Sub(key string) plugin.Config {
	sub := c.v.Sub(key)
	if sub == nil {
		return New(nil)
	}
	return New(sub)
}

// Viper returns the underlying instance for direct access by a host process
// (e.g. top-level fields this package's sections don't model).
func (c *ViperConfig) Viper() *viper.Viper {
	return c.v
}

// EnvBindings lists the environment variables §6 recognizes. A host process
// wiring Viper itself is expected to call viper.BindEnv with these; this
// package does not call os.Getenv on its own.
var EnvBindings = []string{
	"DISCOVERY_ENABLED",
	"DISCOVERY_LOG_LEVEL",
	"DISCOVERY_IP_RANGES",
	"DISCOVERY_MAX_CONCURRENT",
	"DISCOVERY_INTERVAL",
	"DISCOVERY_PROTOCOL_TIMEOUT",
	"DISCOVERY_PLUGIN_DIRS",
	"DISCOVERY_HOT_RELOAD",
	"DISCOVERY_MDNS_ENABLED",
	"DISCOVERY_SSDP_ENABLED",
	"DISCOVERY_SNMP_ENABLED",
	"DISCOVERY_NETWORK_SCAN_ENABLED",
}
