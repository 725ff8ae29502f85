package discocache

import (
	"sort"
	"testing"
	"time"

	"github.com/HerbHall/discoveryd/pkg/models"
)

func TestKeysPatternGrammar(t *testing.T) {
	b := NewInProcess()
	b.Set("device:a", []byte("1"), 0)
	b.Set("device:b", []byte("2"), 0)
	b.Set("ip:10.0.0.1", []byte("a"), 0)

	tests := []struct {
		pattern string
		want    []string
	}{
		{"*", []string{"device:a", "device:b", "ip:10.0.0.1"}},
		{"device:*", []string{"device:a", "device:b"}},
		{"device:a", []string{"device:a"}},
		{"nope", nil},
	}
	for _, tt := range tests {
		got := b.Keys(tt.pattern)
		sort.Strings(got)
		if !equalStrSlices(got, tt.want) {
			t.Errorf("Keys(%q) = %v, want %v", tt.pattern, got, tt.want)
		}
	}
}

func equalStrSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestGetLazilyEvictsExpired(t *testing.T) {
	b := NewInProcess()
	b.Set("k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := b.Get("k"); ok {
		t.Fatal("expected expired key to be evicted on Get")
	}
}

func TestDeviceRoundTrip(t *testing.T) {
	c := New(NewInProcess(), nil)
	d := models.NewDevice("192.168.1.50", "mdns")
	d.Hostname = "printer.local"
	d.Ports = []int{80, 443}

	if ok := c.SetDevice(d, time.Hour); !ok {
		t.Fatal("SetDevice returned false")
	}

	got, err := c.GetDevice(d.DeviceID)
	if err != nil {
		t.Fatalf("GetDevice error: %v", err)
	}
	if got.IPAddress != d.IPAddress || got.Hostname != d.Hostname {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, d)
	}

	byIP, err := c.GetDeviceByIP(d.IPAddress)
	if err != nil {
		t.Fatalf("GetDeviceByIP error: %v", err)
	}
	if byIP.DeviceID != d.DeviceID {
		t.Fatalf("GetDeviceByIP resolved to wrong device id: got %s want %s", byIP.DeviceID, d.DeviceID)
	}
}

func TestCachingSameDeviceTwiceIsIdempotent(t *testing.T) {
	c := New(NewInProcess(), nil)
	d := models.NewDevice("192.168.1.50", "mdns")

	c.SetDevice(d, time.Hour)
	c.SetDevice(d, time.Hour)

	devices := c.GetCachedDevices()
	if len(devices) != 1 {
		t.Fatalf("expected exactly one cached device after double-caching, got %d", len(devices))
	}
}

func TestNewWithFallbackUsesInProcessOnBadPath(t *testing.T) {
	c := NewWithFallback("/nonexistent/dir/that/cannot/be/created/cache.db", nil)
	d := models.NewDevice("10.0.0.1", "mdns")
	if ok := c.SetDevice(d, time.Hour); !ok {
		t.Fatal("expected fallback in-process cache to accept writes")
	}
}
