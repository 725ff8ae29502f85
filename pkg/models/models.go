// Package models defines the shared data types that flow between the
// discovery components: devices, discovery results, scheduler jobs, event
// envelopes and plugin metadata. Every type here is a plain value type;
// Device and DiscoveryResult carry JSON tags for the external wire schema,
// the other types carry none. No component owns another
// component's mutation of these values except where documented (the
// registry owns Device records, the event bus owns Event history).
package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceType classifies a discovered device. NewDevice starts every Device
// as DeviceTypeUnknown so a freshly-assembled Device before classification
// never silently satisfies a check for a more specific type.
type DeviceType string

const (
	DeviceTypeUnknown      DeviceType = "unknown"
	DeviceTypeIoTSensor    DeviceType = "iot_sensor"
	DeviceTypeIoTGateway   DeviceType = "iot_gateway"
	DeviceTypeCamera       DeviceType = "camera"
	DeviceTypeRouter       DeviceType = "router"
	DeviceTypeSwitch       DeviceType = "switch"
	DeviceTypeAccessPoint  DeviceType = "access_point"
	DeviceTypePrinter      DeviceType = "printer"
	DeviceTypeMediaServer  DeviceType = "media_server"
	DeviceTypeSmartHome    DeviceType = "smart_home"
	DeviceTypeIndustrial   DeviceType = "industrial"
)

// DeviceStatus reflects current reachability, not classification.
type DeviceStatus string

const (
	DeviceStatusOnline      DeviceStatus = "online"
	DeviceStatusOffline     DeviceStatus = "offline"
	DeviceStatusUnknown     DeviceStatus = "unknown"
	DeviceStatusUnreachable DeviceStatus = "unreachable"
)

// Device is the central registry entity. IPAddress is the merge key (I1):
// at most one Device per IP at any instant.
type Device struct {
	DeviceID          string         `json:"device_id"`
	Name              string         `json:"name,omitempty"`
	Hostname          string         `json:"hostname,omitempty"`
	DeviceType        DeviceType     `json:"device_type"`
	IPAddress         string         `json:"ip_address"`
	MACAddress        string         `json:"mac_address,omitempty"`
	Ports             []int          `json:"ports"`
	Services          []string       `json:"services"`
	DiscoveryProtocol string         `json:"discovery_protocol"`
	DiscoveryTime     time.Time      `json:"discovery_time"`
	LastSeen          time.Time      `json:"last_seen"`
	Status            DeviceStatus   `json:"status"`
	Manufacturer      string         `json:"manufacturer,omitempty"`
	Model             string         `json:"model,omitempty"`
	FirmwareVersion   string         `json:"firmware_version,omitempty"`
	Capabilities      map[string]any `json:"capabilities"`
	Metadata          map[string]any `json:"metadata"`
}

// NewDevice builds a Device with freshly generated ID, non-nil collections
// and discovery_time == last_seen, matching the dataclass-default-factory
// behavior the source relied on.
func NewDevice(ipAddress, discoveryProtocol string) *Device {
	now := time.Now().UTC()
	return &Device{
		DeviceID:          uuid.NewString(),
		DeviceType:        DeviceTypeUnknown,
		IPAddress:         ipAddress,
		Ports:             []int{},
		Services:          []string{},
		DiscoveryProtocol: discoveryProtocol,
		DiscoveryTime:     now,
		LastSeen:          now,
		Status:            DeviceStatusOnline,
		Capabilities:      map[string]any{},
		Metadata:          map[string]any{},
	}
}

// Clone returns a deep-enough copy for use as "previous" snapshots in
// DeviceUpdated events — slices and maps are copied, not shared.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	c.Ports = append([]int(nil), d.Ports...)
	c.Services = append([]string(nil), d.Services...)
	c.Capabilities = make(map[string]any, len(d.Capabilities))
	for k, v := range d.Capabilities {
		c.Capabilities[k] = v
	}
	c.Metadata = make(map[string]any, len(d.Metadata))
	for k, v := range d.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// DiscoveryResult is the outcome of a single protocol handler invocation.
type DiscoveryResult struct {
	Protocol string         `json:"protocol"`
	Devices  []*Device      `json:"devices"`
	Duration time.Duration  `json:"duration_s"`
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Priority is shared between scheduler jobs and event envelopes — both use
// the same four-level scale.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// JobStatus is the Scheduler's job lifecycle state.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// DiscoveryJob is a single scheduler work item.
type DiscoveryJob struct {
	JobID             string
	Name              string
	Protocols         []string
	Params            map[string]any
	Priority          Priority
	ScheduledAt       time.Time
	TimeoutSeconds    float64
	MaxRetries        int
	RetryDelaySeconds float64
	RetryCount        int
	Status            JobStatus
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	Result            *DiscoveryResult
	Error             string
}

// NewDiscoveryJob constructs a job with CreatedAt/ScheduledAt populated and
// status pending, mirroring the source's dataclass default factories.
func NewDiscoveryJob(name string, protocols []string, priority Priority) *DiscoveryJob {
	now := time.Now().UTC()
	return &DiscoveryJob{
		JobID:       uuid.NewString(),
		Name:        name,
		Protocols:   protocols,
		Params:      map[string]any{},
		Priority:    priority,
		ScheduledAt: now,
		CreatedAt:   now,
		Status:      JobStatusPending,
	}
}

// EventType discriminates the Event.Payload union.
type EventType string

const (
	EventDeviceDiscovered   EventType = "device.discovered"
	EventDeviceLost         EventType = "device.lost"
	EventDeviceUpdated      EventType = "device.updated"
	EventDiscoveryStarted   EventType = "discovery.started"
	EventDiscoveryCompleted EventType = "discovery.completed"
	EventDiscoveryError     EventType = "discovery.error"
	EventPluginLoaded       EventType = "plugin.loaded"
	EventPluginUnloaded     EventType = "plugin.unloaded"
)

// Event is the common envelope published on the Event Bus. Payload holds
// one of the *Payload structs below, selected by Type.
type Event struct {
	EventID   string
	Type      EventType
	Timestamp time.Time
	Priority  Priority
	Source    string
	Metadata  map[string]any
	Payload   any
}

// NewEvent builds an Event with a fresh ID and current timestamp.
func NewEvent(typ EventType, source string, priority Priority, payload any) Event {
	return Event{
		EventID:   uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Priority:  priority,
		Source:    source,
		Metadata:  map[string]any{},
		Payload:   payload,
	}
}

type DeviceDiscoveredPayload struct {
	Device   *Device
	Protocol string
	IsNew    bool
}

type DeviceLostPayload struct {
	DeviceID string
	LastSeen time.Time
	Reason   string
}

type DeviceUpdatedPayload struct {
	Device        *Device
	ChangedFields []string
	Previous      *Device
}

type DiscoveryStartedPayload struct {
	Protocols []string
	Params    map[string]any
}

type DiscoveryCompletedPayload struct {
	Result       *DiscoveryResult
	Duration     time.Duration
	DevicesFound int
}

type DiscoveryErrorPayload struct {
	Message     string
	Kind        string
	Protocol    string
	Recoverable bool
}

type PluginLoadedPayload struct {
	Name    string
	Version string
}

type PluginUnloadedPayload struct {
	Name string
}

// PluginStatus is the Plugin Framework's lifecycle state for a loaded handler.
type PluginStatus string

const (
	PluginStatusUnloaded PluginStatus = "unloaded"
	PluginStatusLoading  PluginStatus = "loading"
	PluginStatusLoaded   PluginStatus = "loaded"
	PluginStatusActive   PluginStatus = "active"
	PluginStatusInactive PluginStatus = "inactive"
	PluginStatusError    PluginStatus = "error"
	PluginStatusUnloading PluginStatus = "unloading"
)

// Filter gates event delivery to a subscription. All set criteria AND
// together; a nil/empty criterion means "any". Predicate, when set, is
// evaluated last since it may be arbitrarily expensive.
type Filter struct {
	EventTypes  map[EventType]struct{}
	Sources     map[string]struct{}
	MinPriority Priority
	Predicate   func(Event) bool
}

// Matches reports whether e passes every configured criterion of f. A nil
// Filter matches everything.
func (f *Filter) Matches(e Event) bool {
	if f == nil {
		return true
	}
	if len(f.EventTypes) > 0 {
		if _, ok := f.EventTypes[e.Type]; !ok {
			return false
		}
	}
	if len(f.Sources) > 0 {
		if _, ok := f.Sources[e.Source]; !ok {
			return false
		}
	}
	if f.MinPriority != 0 && e.Priority < f.MinPriority {
		return false
	}
	if f.Predicate != nil && !f.Predicate(e) {
		return false
	}
	return true
}

// PluginRecord is the Plugin Framework's bookkeeping entry for one handler.
type PluginRecord struct {
	Name               string
	Version            string
	Description        string
	Author             string
	Dependencies       []string
	SupportedProtocols []string
	Status             PluginStatus
	LastError          string
	LoadTime           *time.Time
	DiscoveryCount     int
	ErrorCount         int
}
