// Package plugin defines the small interfaces a discovery protocol handler
// implements to be loadable by the Plugin Framework, plus the thin
// infrastructure (Config, EventBus) a handler is handed at Initialize time.
package plugin

import (
	"context"
	"time"

	"github.com/HerbHall/discoveryd/pkg/models"
)

// APIVersionMin/APIVersionCurrent name the plugin API versions. The shared
// contract test (plugintest.TestPluginContract) checks that a handler
// declares at least APIVersionMin; the Plugin Framework's Register does not
// check the version.
const (
	APIVersionMin     = 1
	APIVersionCurrent = 1
)

// Handler is the protocol-handler contract consumed by the Discovery
// Engine (§6): Discover has no Go error return — it translates every
// failure into Result.Success=false/Result.Error.
type Handler interface {
	// Name identifies the protocol this handler implements (e.g. "mdns").
	Name() string

	// Available performs a cheap, side-effect-light readiness probe (e.g.
	// open then close a socket). It must not block meaningfully.
	Available(ctx context.Context) bool

	// Discover runs one discovery pass and always returns a populated
	// Result, even on failure.
	Discover(ctx context.Context, params map[string]any) models.DiscoveryResult
}

// Plugin extends Handler with the lifecycle and metadata the Plugin
// Framework needs to load, validate and supervise a handler.
type Plugin interface {
	Handler

	// Initialize prepares the handler to run, given its resolved config.
	Initialize(ctx context.Context, cfg Config) error

	// ValidateConfig accumulates and returns every configuration problem;
	// it never short-circuits on the first error.
	ValidateConfig(cfg Config) []error

	// Cleanup releases resources acquired by Initialize/Discover.
	Cleanup(ctx context.Context) error

	// Metadata returns the plugin's declarative identity: name, version,
	// dependencies and the protocols it supports.
	Metadata() Metadata
}

// Metadata is attached to a Plugin out-of-band (in the source, by a
// decorator; here, returned directly by the implementation).
type Metadata struct {
	Name               string
	Version            string
	Description        string
	Author             string
	Dependencies       []string
	SupportedProtocols []string
	APIVersion         int
}

// Config abstracts configuration access handed to a plugin at Initialize
// time. The core never parses a file or reads an environment variable
// itself; an external loader (internal/config here) implements this.
type Config interface {
	Unmarshal(target any) error
	Get(key string) any
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	IsSet(key string) bool
	Sub(key string) Config
}

// Publisher sends events to the bus. Use this thin interface in code that
// only needs to emit events.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) int
}

// Subscriber receives events from the bus, optionally gated by a Filter.
type Subscriber interface {
	Subscribe(handler EventHandler, filter *models.Filter) (id string, unsubscribe func() bool)
}

// EventBus is the full surface a plugin or any internal component uses to
// talk to the Event Bus (C6).
type EventBus interface {
	Publisher
	Subscriber
	PublishAsync(ctx context.Context, event models.Event)
}

// EventHandler processes one delivered event.
type EventHandler func(ctx context.Context, event models.Event)
