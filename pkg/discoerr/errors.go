// Package discoerr defines the error-kind taxonomy shared across the
// discovery subsystem. Handlers never let these escape Discover — they
// translate them into DiscoveryResult.Error — but the sentinel values are
// used internally (and by Scheduler/Registry/Cache callers) with
// errors.Is/errors.As and fmt.Errorf("...: %w", ...) wrapping.
package discoerr

import "errors"

var (
	// ErrDiscovery is the generic catch-all kind; specific sentinels below
	// should be preferred where the cause is known.
	ErrDiscovery = errors.New("discovery error")

	// ErrTimeout marks a per-handler or per-job deadline exceeded.
	ErrTimeout = errors.New("discovery timeout")

	// ErrRateLimitExceeded marks a global or per-host bucket empty within
	// the requested wait timeout.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrDeviceNotFound marks a Registry lookup miss.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrProtocolNotAvailable marks Available() returning false, or socket
	// setup failing before a handler can even attempt discovery.
	ErrProtocolNotAvailable = errors.New("protocol not available")

	// ErrNetwork marks a socket-level failure during discovery.
	ErrNetwork = errors.New("network error")

	// ErrInvalidDevice marks a device record that could not be parsed or
	// deserialized.
	ErrInvalidDevice = errors.New("invalid device data")

	// ErrCache marks a cache backend failure; callers treat this as a
	// logged, non-fatal false return, never a panic.
	ErrCache = errors.New("cache error")

	// ErrPlugin marks a plugin lifecycle or validation failure.
	ErrPlugin = errors.New("plugin error")

	// ErrCircularDependency marks a cycle in the plugin dependency graph.
	// Batch load aborts when this is returned.
	ErrCircularDependency = errors.New("circular plugin dependency")
)

// Kind is the string form of an error taxonomy entry, used on
// DiscoveryErrorPayload.Kind and in logs — distinct from the Go sentinel
// above so the wire/event representation does not depend on error text.
type Kind string

const (
	KindDiscovery             Kind = "DiscoveryError"
	KindTimeout               Kind = "DiscoveryTimeoutError"
	KindRateLimitExceeded     Kind = "RateLimitExceededError"
	KindDeviceNotFound        Kind = "DeviceNotFoundError"
	KindProtocolNotAvailable  Kind = "ProtocolNotAvailableError"
	KindNetwork               Kind = "NetworkError"
	KindInvalidDevice         Kind = "InvalidDeviceError"
	KindCache                 Kind = "CacheError"
	KindPlugin                Kind = "PluginError"
	KindCircularDependency    Kind = "CircularDependency"
)

// KindOf maps a sentinel (or a wrapped sentinel) to its Kind, defaulting to
// the generic catch-all when err does not match a known sentinel.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrRateLimitExceeded):
		return KindRateLimitExceeded
	case errors.Is(err, ErrDeviceNotFound):
		return KindDeviceNotFound
	case errors.Is(err, ErrProtocolNotAvailable):
		return KindProtocolNotAvailable
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrInvalidDevice):
		return KindInvalidDevice
	case errors.Is(err, ErrCache):
		return KindCache
	case errors.Is(err, ErrPlugin):
		return KindPlugin
	case errors.Is(err, ErrCircularDependency):
		return KindCircularDependency
	default:
		return KindDiscovery
	}
}
