package discocache

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/discoveryd/pkg/discoerr"
	"github.com/HerbHall/discoveryd/pkg/models"
)

// Cache is the device-record layer the rest of the discovery subsystem
// talks to. It owns the key scheme (device:*, ip:*, discovery:*) on top of
// a Backend and never lets a backend failure escape as a panic (§7
// CacheError is logged and the operation returns false).
type Cache struct {
	backend Backend
	logger  *zap.Logger
}

// NewWithFallback tries to open a sqlite-backed external KV at sqlitePath;
// on any initialization failure it logs a warning and falls back to an
// in-process backend, per §4.2.
func NewWithFallback(sqlitePath string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("discocache")

	if sqlitePath != "" {
		backend, err := OpenSQLiteBackend(sqlitePath)
		if err == nil {
			return &Cache{backend: backend, logger: logger}
		}
		logger.Warn("external cache backend init failed, falling back to in-process",
			zap.String("path", sqlitePath), zap.Error(err))
	}
	return &Cache{backend: NewInProcess(), logger: logger}
}

// New wraps an explicit Backend (used by tests to exercise both backends
// identically, and by callers that already constructed one).
func New(backend Backend, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{backend: backend, logger: logger.Named("discocache")}
}

func deviceKey(id string) string      { return "device:" + id }
func ipKey(ip string) string          { return "ip:" + ip }
func discoveryKey(proto string) string { return "discovery:" + proto }

// SetDevice writes both the device:{id} and ip:{ip_address} keys. Both
// writes are attempted; success is their logical AND, matching the
// best-effort-atomic requirement in §4.2.
func (c *Cache) SetDevice(device *models.Device, ttl time.Duration) bool {
	payload, err := json.Marshal(device)
	if err != nil {
		c.logger.Warn("device marshal failed", zap.Error(err), zap.String("device_id", device.DeviceID))
		return false
	}
	c.backend.Set(deviceKey(device.DeviceID), payload, ttl)
	c.backend.Set(ipKey(device.IPAddress), []byte(device.DeviceID), ttl)
	return c.backend.Exists(deviceKey(device.DeviceID)) && c.backend.Exists(ipKey(device.IPAddress))
}

// GetDevice deserializes the device:{id} record, reconstructing enum and
// timestamp fields via the standard JSON Device shape (time.Time already
// accepts both "Z" and "+00:00" RFC 3339 suffixes, so no normalization
// step is needed beyond stdlib json decoding).
func (c *Cache) GetDevice(id string) (*models.Device, error) {
	payload, ok := c.backend.Get(deviceKey(id))
	if !ok {
		return nil, discoerr.ErrDeviceNotFound
	}
	var d models.Device
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", discoerr.ErrInvalidDevice, err)
	}
	return &d, nil
}

// GetDeviceByIP resolves ip:{ip} to a device id, then loads the record.
func (c *Cache) GetDeviceByIP(ip string) (*models.Device, error) {
	idBytes, ok := c.backend.Get(ipKey(ip))
	if !ok {
		return nil, discoerr.ErrDeviceNotFound
	}
	return c.GetDevice(string(idBytes))
}

// GetCachedDevices scans every device:* key and deserializes it. A record
// that fails to deserialize is logged and skipped; the scan never aborts.
func (c *Cache) GetCachedDevices() []*models.Device {
	keys := c.backend.Keys("device:*")
	out := make([]*models.Device, 0, len(keys))
	for _, k := range keys {
		payload, ok := c.backend.Get(k)
		if !ok {
			continue
		}
		var d models.Device
		if err := json.Unmarshal(payload, &d); err != nil {
			c.logger.Warn("skipping undeserializable cached device", zap.String("key", k), zap.Error(err))
			continue
		}
		out = append(out, &d)
	}
	return out
}

// SetDiscoveryResult caches the per-protocol result snapshot.
func (c *Cache) SetDiscoveryResult(protocol string, result *models.DiscoveryResult, ttl time.Duration) bool {
	payload, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("discovery result marshal failed", zap.Error(err), zap.String("protocol", protocol))
		return false
	}
	c.backend.Set(discoveryKey(protocol), payload, ttl)
	return true
}

func (c *Cache) Delete(key string) bool { return c.backend.Delete(key) }
func (c *Cache) Exists(key string) bool { return c.backend.Exists(key) }
func (c *Cache) Clear()                 { c.backend.Clear() }
func (c *Cache) Keys(pattern string) []string { return c.backend.Keys(pattern) }
