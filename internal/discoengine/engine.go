// Package discoengine implements the Discovery Engine (C5): it registers
// protocol handlers, fans out to the selected ones concurrently, merges
// every returned device into the Device Registry and Discovery Cache, and
// returns an aggregated result. Grounded on the teacher's fan-out-then-join
// concurrency style (internal/recon's scheduler/scanner goroutine-per-task
// pattern) generalized from a single protocol to an arbitrary handler set.
package discoengine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/discoveryd/internal/devicereg"
	"github.com/HerbHall/discoveryd/internal/discocache"
	"github.com/HerbHall/discoveryd/pkg/models"
	"github.com/HerbHall/discoveryd/pkg/plugin"
)

// Result is the aggregate outcome of one DiscoverAll call.
type Result struct {
	Devices            []*models.Device
	Duration           time.Duration
	ProtocolsSucceeded int
	ProtocolsTotal     int
	PerProtocol        map[string]models.DiscoveryResult
}

// Engine owns handler registration and fan-out. It is the sole mutator of
// the Registry (§3 Ownership).
type Engine struct {
	mu       sync.RWMutex
	handlers map[string]plugin.Handler

	registry *devicereg.Registry
	cache    *discocache.Cache
	bus      plugin.EventBus
	logger   *zap.Logger
	cacheTTL time.Duration
}

// New creates an Engine backed by registry and cache. bus may be nil if no
// event publication is desired.
func New(registry *devicereg.Registry, cache *discocache.Cache, bus plugin.EventBus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		handlers: make(map[string]plugin.Handler),
		registry: registry,
		cache:    cache,
		bus:      bus,
		logger:   logger.Named("discoengine"),
		cacheTTL: time.Hour,
	}
}

// RegisterHandler adds handler under its own Name(), replacing any handler
// previously registered for that name.
func (e *Engine) RegisterHandler(handler plugin.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[handler.Name()] = handler
}

// Unregister removes the handler for name, if present.
func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, name)
}

func (e *Engine) selectedHandlers(protocols []string) map[string]plugin.Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(protocols) == 0 {
		out := make(map[string]plugin.Handler, len(e.handlers))
		for name, h := range e.handlers {
			out[name] = h
		}
		return out
	}

	out := make(map[string]plugin.Handler, len(protocols))
	for _, name := range protocols {
		if h, ok := e.handlers[name]; ok {
			out[name] = h
		}
	}
	return out
}

// DiscoverAll runs one logical task per selected handler (all registered
// handlers if protocols is empty), awaits all of them, merges every
// returned device into the Registry and Cache, and returns the aggregate.
// A single handler panicking or erroring never aborts the others (§4.5).
func (e *Engine) DiscoverAll(ctx context.Context, protocols []string, params map[string]any) Result {
	start := time.Now()
	selected := e.selectedHandlers(protocols)

	type outcome struct {
		name   string
		result models.DiscoveryResult
	}
	outcomes := make(chan outcome, len(selected))

	var wg sync.WaitGroup
	for name, h := range selected {
		wg.Add(1)
		go func(name string, h plugin.Handler) {
			defer wg.Done()
			outcomes <- outcome{name: name, result: e.runHandler(ctx, h, params)}
		}(name, h)
	}
	wg.Wait()
	close(outcomes)

	agg := Result{
		PerProtocol:    make(map[string]models.DiscoveryResult, len(selected)),
		ProtocolsTotal: len(selected),
	}
	for o := range outcomes {
		agg.PerProtocol[o.name] = o.result
		if o.result.Success {
			agg.ProtocolsSucceeded++
		}
		for _, dev := range o.result.Devices {
			merged, isNew := e.registry.AddOrMerge(dev)
			agg.Devices = append(agg.Devices, merged)
			if e.cache != nil {
				e.cache.SetDevice(merged, e.cacheTTL)
			}
			if e.bus != nil {
				// Publish, not PublishAsync: callers iterate devices in a fixed
				// order and §5 guarantees a subscription observes events in
				// publish order, which a fire-and-forget goroutine per device
				// would not preserve.
				e.bus.Publish(ctx, models.NewEvent(models.EventDeviceDiscovered, "discoengine", models.PriorityNormal,
					models.DeviceDiscoveredPayload{Device: merged, Protocol: o.name, IsNew: isNew}))
			}
		}
		if e.cache != nil {
			result := o.result
			e.cache.SetDiscoveryResult(o.name, &result, e.cacheTTL)
		}
	}

	agg.Duration = time.Since(start)
	return agg
}

// runHandler invokes h.Discover, converting a panic into an unsuccessful
// Result rather than letting it propagate and take down the fan-out.
func (e *Engine) runHandler(ctx context.Context, h plugin.Handler, params map[string]any) (result models.DiscoveryResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panicked", zap.String("handler", h.Name()), zap.Any("recover", r))
			result = models.DiscoveryResult{Protocol: h.Name(), Success: false, Error: "handler panicked"}
		}
	}()

	if !h.Available(ctx) {
		return models.DiscoveryResult{Protocol: h.Name(), Success: false, Error: "protocol not available"}
	}

	start := time.Now()
	result = h.Discover(ctx, params)
	if result.Protocol == "" {
		result.Protocol = h.Name()
	}
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	return result
}
