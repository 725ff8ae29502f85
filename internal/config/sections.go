package config

import (
	"fmt"
	"time"
)

// NetworkConfig configures the IP ranges the network-scan and SNMP
// handlers enumerate hosts from.
type NetworkConfig struct {
	IPRanges []string `mapstructure:"ip_ranges"`
}

func (c NetworkConfig) Validate() []error {
	var errs []error
	for _, r := range c.IPRanges {
		if r == "" {
			errs = append(errs, fmt.Errorf("network: empty ip range entry"))
		}
	}
	return errs
}

// TimingConfig configures discovery-wide timeouts and intervals.
type TimingConfig struct {
	ProtocolTimeout  time.Duration `mapstructure:"protocol_timeout"`
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`
	StaleTTL         time.Duration `mapstructure:"stale_ttl"`
}

func (c TimingConfig) Validate() []error {
	var errs []error
	if c.ProtocolTimeout <= 0 {
		errs = append(errs, fmt.Errorf("timing: protocol_timeout must be positive"))
	}
	if c.StaleTTL <= 0 {
		errs = append(errs, fmt.Errorf("timing: stale_ttl must be positive"))
	}
	return errs
}

// PluginsConfig configures the Plugin Framework's discovery directories and
// hot-reload behavior.
type PluginsConfig struct {
	Directories []string `mapstructure:"directories"`
	HotReload   bool     `mapstructure:"hot_reload"`
}

func (c PluginsConfig) Validate() []error {
	var errs []error
	for _, d := range c.Directories {
		if d == "" {
			errs = append(errs, fmt.Errorf("plugins: empty directory entry"))
		}
	}
	return errs
}

// SecurityConfig carries credential material handed opaquely to protocol
// handlers (SNMP community/USM). The core never interprets these bytes
// beyond passing them through, per the non-goal on SNMPv3 key derivation.
type SecurityConfig struct {
	SNMPCommunity string `mapstructure:"snmp_community"`
	SNMPUsername  string `mapstructure:"snmp_username"`
	SNMPAuthKey   []byte `mapstructure:"snmp_auth_key"`
	SNMPPrivKey   []byte `mapstructure:"snmp_priv_key"`
}

func (c SecurityConfig) Validate() []error { return nil }

// MDNSConfig configures the mDNS handler.
type MDNSConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ServiceTypes []string      `mapstructure:"service_types"`
}

func (c MDNSConfig) Validate() []error {
	var errs []error
	if c.Enabled && c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("protocols.mdns: timeout must be positive when enabled"))
	}
	return errs
}

// SSDPConfig configures the SSDP/UPnP handler.
type SSDPConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	MX         int           `mapstructure:"mx"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	SearchTargets []string    `mapstructure:"search_targets"`
}

func (c SSDPConfig) Validate() []error {
	var errs []error
	if c.Enabled && c.MX <= 0 {
		errs = append(errs, fmt.Errorf("protocols.ssdp: mx must be positive when enabled"))
	}
	return errs
}

// SNMPConfig configures the SNMP handler.
type SNMPConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Version           string        `mapstructure:"version"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	IncludeInterfaces bool          `mapstructure:"include_interfaces"`
}

func (c SNMPConfig) Validate() []error {
	var errs []error
	if c.Enabled && c.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("protocols.snmp: max_concurrent must be positive when enabled"))
	}
	switch c.Version {
	case "", "1", "2c", "3":
	default:
		errs = append(errs, fmt.Errorf("protocols.snmp: unknown version %q", c.Version))
	}
	return errs
}

// NetworkScanConfig configures the active TCP/ICMP scan handler.
type NetworkScanConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	PingEnabled        bool `mapstructure:"ping_enabled"`
	MaxConcurrentPorts int  `mapstructure:"max_concurrent_ports"`
	MaxConcurrentHosts int  `mapstructure:"max_concurrent_hosts"`
}

func (c NetworkScanConfig) Validate() []error {
	var errs []error
	if c.Enabled && c.MaxConcurrentPorts <= 0 {
		errs = append(errs, fmt.Errorf("protocols.network_scan: max_concurrent_ports must be positive when enabled"))
	}
	if c.Enabled && c.MaxConcurrentHosts <= 0 {
		errs = append(errs, fmt.Errorf("protocols.network_scan: max_concurrent_hosts must be positive when enabled"))
	}
	return errs
}

// ProtocolsConfig aggregates per-protocol sections.
type ProtocolsConfig struct {
	MDNS        MDNSConfig        `mapstructure:"mdns"`
	SSDP        SSDPConfig        `mapstructure:"ssdp"`
	SNMP        SNMPConfig        `mapstructure:"snmp"`
	NetworkScan NetworkScanConfig `mapstructure:"network_scan"`
}

func (c ProtocolsConfig) Validate() []error {
	var errs []error
	errs = append(errs, c.MDNS.Validate()...)
	errs = append(errs, c.SSDP.Validate()...)
	errs = append(errs, c.SNMP.Validate()...)
	errs = append(errs, c.NetworkScan.Validate()...)
	return errs
}

// RateLimitConfig configures the global and per-host token buckets (C1).
type RateLimitConfig struct {
	GlobalLimit  float64 `mapstructure:"global_limit"`
	PerHostLimit float64 `mapstructure:"per_host_limit"`
	BackoffFactor float64 `mapstructure:"backoff_factor"`
	MaxBackoff   float64 `mapstructure:"max_backoff"`
}

func (c RateLimitConfig) Validate() []error {
	var errs []error
	if c.GlobalLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit: global_limit must not be negative"))
	}
	if c.PerHostLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit: per_host_limit must not be negative"))
	}
	if c.BackoffFactor <= 1.0 {
		errs = append(errs, fmt.Errorf("rate_limit: backoff_factor must be greater than 1.0"))
	}
	return errs
}

// Config is the top-level nested structure §6 describes. Each section
// validates independently; Validate compounds every section's errors
// rather than stopping at the first.
type Config struct {
	Network               NetworkConfig     `mapstructure:"network"`
	Timing                TimingConfig      `mapstructure:"timing"`
	Plugins               PluginsConfig     `mapstructure:"plugins"`
	Security              SecurityConfig    `mapstructure:"security"`
	Protocols             ProtocolsConfig   `mapstructure:"protocols"`
	RateLimit             RateLimitConfig   `mapstructure:"rate_limit"`
	EventBusEnabled        bool             `mapstructure:"event_bus_enabled"`
	SchedulerEnabled       bool             `mapstructure:"scheduler_enabled"`
	MaxConcurrentJobs      int              `mapstructure:"max_concurrent_jobs"`
	RepositoryIntegration  bool             `mapstructure:"repository_integration"`
	AutoRegisterDevices    bool             `mapstructure:"auto_register_devices"`
}

// Validate accumulates every section's errors; it never short-circuits.
func (c Config) Validate() []error {
	var errs []error
	errs = append(errs, c.Network.Validate()...)
	errs = append(errs, c.Timing.Validate()...)
	errs = append(errs, c.Plugins.Validate()...)
	errs = append(errs, c.Security.Validate()...)
	errs = append(errs, c.Protocols.Validate()...)
	errs = append(errs, c.RateLimit.Validate()...)
	if c.SchedulerEnabled && c.MaxConcurrentJobs <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_jobs must be positive when scheduler_enabled"))
	}
	return errs
}
