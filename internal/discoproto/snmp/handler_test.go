package snmp

import (
	"context"
	"testing"

	"github.com/HerbHall/discoveryd/pkg/models"
	"github.com/HerbHall/discoveryd/pkg/plugin"
	"github.com/HerbHall/discoveryd/pkg/plugin/plugintest"
)

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New(nil) })
}

func TestDiscoverWithNoIPsFails(t *testing.T) {
	h := New(nil)
	result := h.Discover(context.Background(), nil)
	if result.Success {
		t.Fatal("expected success=false with no configured IP addresses")
	}
	if result.Error != "No valid IP addresses to scan" {
		t.Fatalf("unexpected error message: %q", result.Error)
	}
}

func TestClassifyByObjectIDCiscoPrefix(t *testing.T) {
	got := classifyByObjectID(".1.3.6.1.4.1.9.1.1")
	if got != models.DeviceTypeRouter {
		t.Fatalf("expected ROUTER, got %v", got)
	}
}

func TestClassifyByObjectIDUnknownVendor(t *testing.T) {
	got := classifyByObjectID(".1.3.6.1.4.1.99999.1")
	if got != models.DeviceTypeUnknown {
		t.Fatalf("expected UNKNOWN, got %v", got)
	}
}

func TestParseVendorModelExtractsFirstNonNumericWord(t *testing.T) {
	manufacturer, model := parseVendorModel("Cisco IOS 12345 C2960 Software")
	if manufacturer != "cisco" {
		t.Fatalf("expected manufacturer cisco, got %q", manufacturer)
	}
	if model != "IOS" {
		t.Fatalf("expected model IOS (first non-numeric word after vendor token), got %q", model)
	}
}

func TestFormatMACProducesColonSeparatedLowercaseHex(t *testing.T) {
	got := formatMAC([]byte{0x00, 0x1A, 0x2B, 0x3C, 0x4D, 0x5E})
	if got != "00:1a:2b:3c:4d:5e" {
		t.Fatalf("unexpected MAC format: %q", got)
	}
}
