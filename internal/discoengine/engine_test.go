package discoengine

import (
	"context"
	"testing"

	"github.com/HerbHall/discoveryd/internal/devicereg"
	"github.com/HerbHall/discoveryd/pkg/models"
)

type stubHandler struct {
	name      string
	available bool
	devices   []*models.Device
}

func (s *stubHandler) Name() string                            { return s.name }
func (s *stubHandler) Available(ctx context.Context) bool       { return s.available }
func (s *stubHandler) Discover(ctx context.Context, params map[string]any) models.DiscoveryResult {
	return models.DiscoveryResult{Protocol: s.name, Devices: s.devices, Success: true}
}

func TestDiscoverAllMergesAcrossHandlers(t *testing.T) {
	reg := devicereg.New()
	e := New(reg, nil, nil, nil)

	e.RegisterHandler(&stubHandler{
		name:      "A",
		available: true,
		devices:   []*models.Device{models.NewDevice("192.168.1.100", "A")},
	})
	e.RegisterHandler(&stubHandler{
		name:      "B",
		available: true,
		devices:   []*models.Device{models.NewDevice("192.168.1.101", "B")},
	})

	result := e.DiscoverAll(context.Background(), nil, nil)
	if len(result.Devices) != 2 {
		t.Fatalf("expected 2 devices in result, got %d", len(result.Devices))
	}
	if reg.Count() != 2 {
		t.Fatalf("expected registry count 2, got %d", reg.Count())
	}

	result2 := e.DiscoverAll(context.Background(), nil, nil)
	if reg.Count() != 2 {
		t.Fatalf("expected registry count still 2 after repeat call, got %d", reg.Count())
	}
	if len(result2.Devices) != 2 {
		t.Fatalf("expected repeat DiscoverAll to still report 2 devices, got %d", len(result2.Devices))
	}
}

func TestDiscoverAllIsolatesUnavailableHandler(t *testing.T) {
	reg := devicereg.New()
	e := New(reg, nil, nil, nil)

	e.RegisterHandler(&stubHandler{name: "down", available: false})
	e.RegisterHandler(&stubHandler{
		name:      "up",
		available: true,
		devices:   []*models.Device{models.NewDevice("10.0.0.1", "up")},
	})

	result := e.DiscoverAll(context.Background(), nil, nil)
	if result.ProtocolsSucceeded != 1 || result.ProtocolsTotal != 2 {
		t.Fatalf("expected 1/2 protocols succeeded, got %d/%d", result.ProtocolsSucceeded, result.ProtocolsTotal)
	}
	if len(result.Devices) != 1 {
		t.Fatalf("expected 1 device despite the unavailable handler, got %d", len(result.Devices))
	}
}
