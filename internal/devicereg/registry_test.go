package devicereg

import (
	"testing"
	"time"

	"github.com/HerbHall/discoveryd/pkg/models"
)

func TestAddOrMergeCreatesNewDeviceOnFirstSighting(t *testing.T) {
	r := New()
	d := models.NewDevice("192.168.1.100", "A")

	_, isNew := r.AddOrMerge(d)
	if !isNew {
		t.Fatal("expected first AddOrMerge to create a new device")
	}
	if r.Count() != 1 {
		t.Fatalf("expected registry count 1, got %d", r.Count())
	}
}

func TestMergeSemantics(t *testing.T) {
	r := New()

	d1 := models.NewDevice("192.168.1.100", "A")
	d1.Name = "d1"
	d1.Ports = []int{80}
	r.AddOrMerge(d1)

	d2 := models.NewDevice("192.168.1.100", "B")
	d2.Hostname = "h.local"
	d2.Ports = []int{22}
	_, isNew := r.AddOrMerge(d2)

	if isNew {
		t.Fatal("expected second AddOrMerge with same IP to merge, not create")
	}

	merged, ok := r.GetByIP("192.168.1.100")
	if !ok {
		t.Fatal("expected merged device to be retrievable by IP")
	}
	if merged.Name != "d1" || merged.Hostname != "h.local" {
		t.Fatalf("expected fill-if-empty merge, got name=%q hostname=%q", merged.Name, merged.Hostname)
	}
	if len(merged.Ports) != 2 || merged.Ports[0] != 22 || merged.Ports[1] != 80 {
		t.Fatalf("expected port union {22,80}, got %v", merged.Ports)
	}
	if merged.Status != models.DeviceStatusOnline {
		t.Fatalf("expected merged status online, got %v", merged.Status)
	}
}

func TestMergeKeepsLatestLastSeen(t *testing.T) {
	r := New()
	d1 := models.NewDevice("192.168.1.100", "A")
	d1.LastSeen = time.Now().Add(-time.Hour)
	r.AddOrMerge(d1)

	later := time.Now()
	d2 := models.NewDevice("192.168.1.100", "A")
	d2.LastSeen = later
	r.AddOrMerge(d2)

	merged, _ := r.GetByIP("192.168.1.100")
	if !merged.LastSeen.Equal(later) {
		t.Fatalf("expected last_seen to equal max(before, incoming) = %v, got %v", later, merged.LastSeen)
	}
}

func TestEvictStaleRemovesOldDevices(t *testing.T) {
	r := New()
	stale := models.NewDevice("10.0.0.1", "A")
	stale.LastSeen = time.Now().Add(-time.Hour)
	r.AddOrMerge(stale)

	fresh := models.NewDevice("10.0.0.2", "A")
	r.AddOrMerge(fresh)

	removed := r.EvictStale(time.Minute)
	if removed != 1 {
		t.Fatalf("expected 1 device evicted, got %d", removed)
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 device remaining, got %d", r.Count())
	}
	if _, ok := r.GetByIP("10.0.0.1"); ok {
		t.Fatal("expected stale device to be gone from ip index too")
	}
}

func TestIPIndexStaysConsistentWithDeviceMap(t *testing.T) {
	r := New()
	d := models.NewDevice("10.0.0.1", "A")
	r.AddOrMerge(d)

	byIP, ok := r.GetByIP("10.0.0.1")
	if !ok {
		t.Fatal("expected GetByIP to find the device")
	}
	byID, ok := r.Get(byIP.DeviceID)
	if !ok || byID.DeviceID != byIP.DeviceID {
		t.Fatal("ip->id index inconsistent with id->device map")
	}

	r.Remove(byID.DeviceID)
	if _, ok := r.GetByIP("10.0.0.1"); ok {
		t.Fatal("expected ip index entry removed along with device")
	}
}
