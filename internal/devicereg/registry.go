// Package devicereg implements the Device Registry (C4): the authoritative
// in-memory map of device_id -> Device with a secondary ip -> device_id
// index, merge-on-reinsert semantics and stale eviction. Grounded on the
// teacher's plugin registry (map+mutex+lifecycle shape), repurposed here
// from plugin bookkeeping to device records.
package devicereg

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/discoveryd/pkg/models"
)

// Registry is the single authoritative device map. All mutations are
// serialized under one lock (§5): both maps are always updated together.
type Registry struct {
	mu        sync.RWMutex
	devices   map[string]*models.Device
	ipToID    map[string]string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		devices: make(map[string]*models.Device),
		ipToID:  make(map[string]string),
	}
}

// AddOrMerge inserts device, or merges it into the existing record sharing
// its IP address per invariant I3. Returns true if a new device_id was
// created, false if an existing record was merged into. The caller's
// device is never retained directly — AddOrMerge stores its own clone.
func (r *Registry) AddOrMerge(device *models.Device) (*models.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.ipToID[device.IPAddress]; ok {
		existing := r.devices[existingID]
		merged := mergeDevice(existing, device)
		r.devices[existingID] = merged
		return merged, false
	}

	d := device.Clone()
	if d.DeviceID == "" {
		d.DeviceID = uuid.NewString()
	}
	r.devices[d.DeviceID] = d
	r.ipToID[d.IPAddress] = d.DeviceID
	return d, true
}

// mergeDevice implements I3: fill-if-empty for scalars, set-union for
// ports/services, map-merge (new wins) for capabilities/metadata, last_seen
// bumped to max(existing, incoming), status forced online.
func mergeDevice(existing, incoming *models.Device) *models.Device {
	merged := existing.Clone()

	merged.Name = firstNonEmpty(merged.Name, incoming.Name)
	merged.Hostname = firstNonEmpty(merged.Hostname, incoming.Hostname)
	merged.MACAddress = firstNonEmpty(merged.MACAddress, incoming.MACAddress)
	merged.Manufacturer = firstNonEmpty(merged.Manufacturer, incoming.Manufacturer)
	merged.Model = firstNonEmpty(merged.Model, incoming.Model)
	merged.FirmwareVersion = firstNonEmpty(merged.FirmwareVersion, incoming.FirmwareVersion)
	if merged.DeviceType == models.DeviceTypeUnknown && incoming.DeviceType != models.DeviceTypeUnknown {
		merged.DeviceType = incoming.DeviceType
	}

	merged.Ports = unionInts(merged.Ports, incoming.Ports)
	merged.Services = unionStrings(merged.Services, incoming.Services)

	for k, v := range incoming.Capabilities {
		merged.Capabilities[k] = v
	}
	for k, v := range incoming.Metadata {
		merged.Metadata[k] = v
	}

	if incoming.LastSeen.After(merged.LastSeen) {
		merged.LastSeen = incoming.LastSeen
	}
	merged.Status = models.DeviceStatusOnline

	return merged
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func unionInts(a, b []int) []int {
	seen := make(map[int]struct{}, len(a)+len(b))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		seen[v] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		seen[v] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Get returns the device with id, if present.
func (r *Registry) Get(id string) (*models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// GetByIP returns the device at ip, if present.
func (r *Registry) GetByIP(ip string) (*models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ipToID[ip]
	if !ok {
		return nil, false
	}
	d, ok := r.devices[id]
	return d, ok
}

// All returns every device currently registered, newest id order is not
// guaranteed.
func (r *Registry) All() []*models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Remove deletes the device with id from both maps. Returns true if it was
// present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return false
	}
	delete(r.devices, id)
	delete(r.ipToID, d.IPAddress)
	return true
}

// EvictStale removes every device whose last_seen is older than ttl and
// returns the number removed.
func (r *Registry) EvictStale(ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-ttl)
	var removed int
	for id, d := range r.devices {
		if d.LastSeen.Before(cutoff) {
			delete(r.devices, id)
			delete(r.ipToID, d.IPAddress)
			removed++
		}
	}
	return removed
}
