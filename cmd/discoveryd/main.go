// Command discoveryd wires the eight discovery components together and
// runs the scheduler loop until interrupted. Grounded on the teacher's
// cmd/ entrypoint shape: viper config load, zap logger construction,
// signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/discoveryd/internal/config"
	"github.com/HerbHall/discoveryd/internal/discocache"
	"github.com/HerbHall/discoveryd/internal/discoengine"
	"github.com/HerbHall/discoveryd/internal/discoproto/mdns"
	"github.com/HerbHall/discoveryd/internal/discoproto/netscan"
	"github.com/HerbHall/discoveryd/internal/discoproto/snmp"
	"github.com/HerbHall/discoveryd/internal/discoproto/ssdp"
	"github.com/HerbHall/discoveryd/internal/devicereg"
	"github.com/HerbHall/discoveryd/internal/eventbus"
	"github.com/HerbHall/discoveryd/internal/pluginfx"
	"github.com/HerbHall/discoveryd/internal/ratelimit"
	"github.com/HerbHall/discoveryd/internal/scheduler"
	"github.com/HerbHall/discoveryd/pkg/plugin"
)

func main() {
	configPath := flag.String("config", "", "path to a discoveryd config file (optional)")
	cachePath := flag.String("cache-db", "discoveryd.db", "path to the SQLite discovery cache")
	flag.Parse()

	v := viper.New()
	for _, key := range config.EnvBindings {
		v.BindEnv(key)
	}
	var configReadErr error
	if *configPath != "" {
		v.SetConfigFile(*configPath)
		configReadErr = v.ReadInConfig()
	}

	logger, logErr := config.NewLogger(v)
	if logErr != nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			panic(err)
		}
		logger.Warn("invalid logging.level/logging.format, falling back to production defaults", zap.Error(logErr))
	}
	defer logger.Sync()

	if configReadErr != nil {
		logger.Warn("failed to read config file, continuing with defaults", zap.Error(configReadErr))
	}

	cfg := config.New(v)
	ctxBackground := context.Background()

	bus := eventbus.New(logger, 1000)
	registry := devicereg.New()
	cache := discocache.NewWithFallback(*cachePath, logger)
	engine := discoengine.New(registry, cache, bus, logger)

	plugins := pluginfx.New(logger)
	registerHandler(ctxBackground, plugins, engine, mdns.New(logger), cfg.Sub("protocols.mdns"), logger)
	registerHandler(ctxBackground, plugins, engine, ssdp.New(logger), cfg.Sub("protocols.ssdp"), logger)
	registerHandler(ctxBackground, plugins, engine, snmp.New(logger), cfg.Sub("protocols.snmp"), logger)

	limiter := ratelimit.New(ratelimit.Config{
		GlobalLimit:   20,
		PerHostLimit:  2,
		BackoffFactor: 2,
		MaxBackoff:    30,
	})
	registerHandler(ctxBackground, plugins, engine, netscan.New(limiter, logger), cfg.Sub("protocols.network_scan"), logger)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.MaxConcurrentJobs = cfg.GetInt("max_concurrent_jobs")
	if schedCfg.MaxConcurrentJobs <= 0 {
		schedCfg.MaxConcurrentJobs = 5
	}
	schedCfg.PeriodicEnabled = cfg.GetBool("scheduler_enabled")
	sched := scheduler.New(engine, bus, schedCfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	logger.Info("discoveryd started", zap.Int("workers", schedCfg.MaxConcurrentJobs))

	<-ctx.Done()
	logger.Info("shutting down")
	sched.Stop()
	bus.Shutdown()
}

// registerHandler drives p through the Plugin Framework's Register/Load/
// Activate lifecycle and, if it comes up ACTIVE, registers it with the
// Discovery Engine so the Scheduler can select it for a discovery pass.
func registerHandler(ctx context.Context, reg *pluginfx.Registry, engine *discoengine.Engine, p plugin.Plugin, cfg plugin.Config, logger *zap.Logger) {
	name := p.Name()
	if err := reg.Register(p, ""); err != nil {
		logger.Error("plugin registration failed", zap.String("plugin", name), zap.Error(err))
		return
	}
	if err := reg.Load(ctx, name, cfg); err != nil {
		logger.Error("plugin load failed", zap.String("plugin", name), zap.Error(err))
		return
	}
	if err := reg.Activate(name); err != nil {
		logger.Error("plugin activation failed", zap.String("plugin", name), zap.Error(err))
		return
	}
	engine.RegisterHandler(p)
}
