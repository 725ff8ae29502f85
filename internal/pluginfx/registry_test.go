package pluginfx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/discoveryd/pkg/models"
	"github.com/HerbHall/discoveryd/pkg/plugin"
)

type stubPlugin struct {
	name         string
	deps         []string
	initErr      error
	validateErrs []error
	initialized  bool
	cleaned      bool
}

func (p *stubPlugin) Name() string                      { return p.name }
func (p *stubPlugin) Available(ctx context.Context) bool { return p.initialized }
func (p *stubPlugin) Discover(ctx context.Context, params map[string]any) models.DiscoveryResult {
	return models.DiscoveryResult{Protocol: p.name, Success: true}
}
func (p *stubPlugin) Initialize(ctx context.Context, cfg plugin.Config) error {
	p.initialized = true
	return p.initErr
}
func (p *stubPlugin) ValidateConfig(cfg plugin.Config) []error { return p.validateErrs }
func (p *stubPlugin) Cleanup(ctx context.Context) error        { p.cleaned = true; return nil }
func (p *stubPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{Name: p.name, Version: "1.0.0", Dependencies: p.deps}
}

type fakeConfig struct{}

func (fakeConfig) Unmarshal(any) error              { return nil }
func (fakeConfig) Get(string) any                   { return nil }
func (fakeConfig) GetString(string) string          { return "" }
func (fakeConfig) GetInt(string) int                { return 0 }
func (fakeConfig) GetBool(string) bool              { return false }
func (fakeConfig) GetDuration(string) time.Duration { return 0 }
func (fakeConfig) IsSet(string) bool                { return false }
func (fakeConfig) Sub(string) plugin.Config         { return fakeConfig{} }

func TestResolveLoadOrderRespectsDependencies(t *testing.T) {
	r := New(nil)
	r.Register(&stubPlugin{name: "base"}, "")
	r.Register(&stubPlugin{name: "mid", deps: []string{"base"}}, "")
	r.Register(&stubPlugin{name: "top", deps: []string{"mid"}}, "")

	order, err := r.ResolveLoadOrder([]string{"top", "mid", "base"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	if !(pos["base"] < pos["mid"] && pos["mid"] < pos["top"]) {
		t.Fatalf("expected base < mid < top, got order %v", order)
	}
}

func TestResolveLoadOrderDetectsCircularDependency(t *testing.T) {
	r := New(nil)
	r.Register(&stubPlugin{name: "x", deps: []string{"y"}}, "")
	r.Register(&stubPlugin{name: "y", deps: []string{"x"}}, "")

	_, err := r.ResolveLoadOrder([]string{"x", "y"})
	if err == nil {
		t.Fatal("expected circular dependency error")
	}
	if !strings.Contains(err.Error(), "x") && !strings.Contains(err.Error(), "y") {
		t.Fatalf("expected error to name the offending plugin, got %v", err)
	}
}

func TestLoadBatchRunsLifecycleInOrder(t *testing.T) {
	r := New(nil)
	p := &stubPlugin{name: "echo"}
	r.Register(p, "")

	if err := r.LoadBatch(context.Background(), []string{"echo"}, func(string) plugin.Config { return fakeConfig{} }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, ok := r.Record("echo")
	if !ok || rec.Status != models.PluginStatusActive {
		t.Fatalf("expected echo to be ACTIVE, got %+v", rec)
	}
	if !p.initialized {
		t.Fatal("expected Initialize to have run")
	}
}

func TestUnloadRunsCleanup(t *testing.T) {
	r := New(nil)
	p := &stubPlugin{name: "echo"}
	r.Register(p, "")
	r.Load(context.Background(), "echo", fakeConfig{})
	r.Activate("echo")

	if err := r.Unload(context.Background(), "echo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.cleaned {
		t.Fatal("expected Cleanup to have run")
	}
	rec, _ := r.Record("echo")
	if rec.Status != models.PluginStatusUnloaded {
		t.Fatalf("expected UNLOADED, got %v", rec.Status)
	}
}

func TestLoadFailureTransitionsToError(t *testing.T) {
	r := New(nil)
	p := &stubPlugin{name: "bad", validateErrs: []error{context.Canceled}}
	r.Register(p, "")

	if err := r.Load(context.Background(), "bad", fakeConfig{}); err == nil {
		t.Fatal("expected load error")
	}
	rec, _ := r.Record("bad")
	if rec.Status != models.PluginStatusError || rec.LastError == "" {
		t.Fatalf("expected ERROR status with last_error set, got %+v", rec)
	}
}

func TestHooksFireOnActivateAndSurvivePanic(t *testing.T) {
	r := New(nil)
	p := &stubPlugin{name: "echo"}
	r.Register(p, "")

	var fired bool
	r.RegisterHook("activated", func(args ...any) { panic("boom") })
	r.RegisterHook("activated", func(args ...any) { fired = true })

	r.Load(context.Background(), "echo", fakeConfig{})
	if err := r.Activate("echo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fired {
		t.Fatal("expected second hook to still run despite the first panicking")
	}
}
