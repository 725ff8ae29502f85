// Package netscan implements the Network Scan protocol handler (part of
// C3): optional ICMP ping, TCP port scan over the common+IoT port union,
// and banner-grab service identification, gated by the Rate Limiter.
// Grounded on the teacher's internal/recon/icmp.go and port_scanner.go for
// the ping-then-scan shape, adapted to use
// github.com/prometheus-community/pro-bing instead of the teacher's raw
// subprocess ping invocation — the spec's "off-loaded to a worker thread"
// requirement is satisfied by pro-bing's own goroutine-based pinger, and a
// real ICMP library is preferable to shelling out to /bin/ping.
package netscan

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"

	"github.com/HerbHall/discoveryd/internal/ratelimit"
	"github.com/HerbHall/discoveryd/pkg/models"
	"github.com/HerbHall/discoveryd/pkg/plugin"
)

const maxBannerPorts = 5

// Config holds the handler's own tunables.
type Config struct {
	Networks            []string
	PingEnabled         bool
	MaxConcurrentHosts  int
	MaxConcurrentPorts  int
	ConnectTimeout      time.Duration
	BannerTimeout       time.Duration
}

// Handler implements plugin.Plugin for TCP/ICMP network scanning.
type Handler struct {
	cfg     Config
	logger  *zap.Logger
	limiter *ratelimit.Limiter
}

// New creates a netscan handler. limiter may be nil, in which case no
// rate gating is applied (useful for isolated unit tests).
func New(limiter *ratelimit.Limiter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg: Config{
			PingEnabled:        true,
			MaxConcurrentHosts: 50,
			MaxConcurrentPorts: 10,
			ConnectTimeout:     time.Second,
			BannerTimeout:      2 * time.Second,
		},
		logger:  logger.Named("netscan"),
		limiter: limiter,
	}
}

func (h *Handler) Name() string { return "network_scan" }

func (h *Handler) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:               "network_scan",
		Version:            "1.0.0",
		Description:        "TCP/ICMP network sweep and port scan",
		Author:             "discoveryd",
		SupportedProtocols: []string{"network_scan"},
		APIVersion:         plugin.APIVersionCurrent,
	}
}

func (h *Handler) ValidateConfig(cfg plugin.Config) []error {
	var errs []error
	if cfg == nil {
		return errs
	}
	if cfg.IsSet("max_concurrent_ports") && cfg.GetInt("max_concurrent_ports") <= 0 {
		errs = append(errs, netscanError("netscan: max_concurrent_ports must be positive"))
	}
	return errs
}

func (h *Handler) Initialize(ctx context.Context, cfg plugin.Config) error {
	if cfg == nil {
		return nil
	}
	if cfg.IsSet("ping_enabled") {
		h.cfg.PingEnabled = cfg.GetBool("ping_enabled")
	}
	if cfg.IsSet("max_concurrent_hosts") {
		h.cfg.MaxConcurrentHosts = cfg.GetInt("max_concurrent_hosts")
	}
	if cfg.IsSet("max_concurrent_ports") {
		h.cfg.MaxConcurrentPorts = cfg.GetInt("max_concurrent_ports")
	}
	if cfg.IsSet("networks") {
		if v, ok := cfg.Get("networks").([]string); ok {
			h.cfg.Networks = v
		}
	}
	return nil
}

func (h *Handler) Cleanup(ctx context.Context) error { return nil }

func (h *Handler) Available(ctx context.Context) bool {
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1", 50*time.Millisecond)
	if conn != nil {
		conn.Close()
	}
	// A refused connection still proves the TCP stack is usable; only a
	// setup-level error (e.g. no sockets available) means unavailable.
	return err == nil || !strings.Contains(err.Error(), "too many open files")
}

func (h *Handler) Discover(ctx context.Context, params map[string]any) models.DiscoveryResult {
	start := time.Now()
	result := models.DiscoveryResult{Protocol: h.Name()}

	networks := h.cfg.Networks
	if fromParams, ok := params["networks"].([]string); ok && len(fromParams) > 0 {
		networks = fromParams
	}
	if len(networks) == 0 {
		var err error
		networks, err = localSubnets()
		if err != nil {
			result.Error = err.Error()
			result.Duration = time.Since(start)
			return result
		}
	}

	var hosts []string
	for _, cidr := range networks {
		addrs, err := enumerateHosts(cidr)
		if err != nil {
			h.logger.Warn("skipping invalid CIDR", zap.String("cidr", cidr), zap.Error(err))
			continue
		}
		if len(addrs) > 1024 {
			h.logger.Warn("skipping oversized network", zap.String("cidr", cidr), zap.Int("size", len(addrs)))
			continue
		}
		hosts = append(hosts, addrs...)
	}

	maxHosts := h.cfg.MaxConcurrentHosts
	if maxHosts <= 0 {
		maxHosts = 1
	}
	sem := make(chan struct{}, maxHosts)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, host := range hosts {
		host := host
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			d, ok := h.scanHost(ctx, host)
			if !ok {
				return
			}
			mu.Lock()
			result.Devices = append(result.Devices, d)
			mu.Unlock()
		}()
	}
	wg.Wait()

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

func (h *Handler) scanHost(ctx context.Context, host string) (*models.Device, bool) {
	if h.limiter != nil {
		if err := h.limiter.Acquire(ctx, host, 5*time.Second); err != nil {
			h.limiter.RecordFailure(host, ratelimit.FailureTimeout)
			return nil, false
		}
	}

	if h.cfg.PingEnabled {
		if !pingHost(host) {
			if h.limiter != nil {
				h.limiter.RecordFailure(host, ratelimit.FailureConnectionFailed)
			}
			return nil, false
		}
	}

	start := time.Now()
	openPorts := h.scanPorts(host)
	if h.limiter != nil {
		if len(openPorts) == 0 {
			h.limiter.RecordFailure(host, ratelimit.FailureScanError)
		} else {
			h.limiter.RecordSuccess(host, time.Since(start))
		}
	}
	if len(openPorts) == 0 {
		return nil, false
	}

	services := h.identifyServices(host, openPorts)

	d := models.NewDevice(host, h.Name())
	d.Ports = openPorts
	for _, svc := range services {
		d.Services = append(d.Services, svc)
	}
	d.DeviceType = classify(openPorts, services)
	if names, err := net.LookupAddr(host); err == nil && len(names) > 0 {
		d.Hostname = strings.TrimSuffix(names[0], ".")
	}
	return d, true
}

func pingHost(host string) bool {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false
	}
	pinger.Count = 1
	pinger.Timeout = time.Second
	pinger.SetPrivileged(false)
	if err := pinger.Run(); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}

func (h *Handler) scanPorts(host string) []int {
	candidates := unionPorts()
	maxPorts := h.cfg.MaxConcurrentPorts
	if maxPorts <= 0 {
		maxPorts = 1
	}
	sem := make(chan struct{}, maxPorts)

	var mu sync.Mutex
	var open []int
	var wg sync.WaitGroup
	for _, port := range candidates {
		port := port
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			addr := net.JoinHostPort(host, fmt.Sprint(port))
			conn, err := net.DialTimeout("tcp", addr, h.cfg.ConnectTimeout)
			if err != nil {
				return
			}
			conn.Close()
			mu.Lock()
			open = append(open, port)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return open
}

// identifyServices banner-grabs the first maxBannerPorts open ports and
// matches against a small signature table, falling back to the default
// port->name mapping.
func (h *Handler) identifyServices(host string, openPorts []int) []string {
	limit := openPorts
	if len(limit) > maxBannerPorts {
		limit = limit[:maxBannerPorts]
	}

	names := make([]string, 0, len(openPorts))
	for _, port := range openPorts {
		name := defaultPortName[port]
		for _, p := range limit {
			if p != port {
				continue
			}
			if banner := h.grabBanner(host, port); banner != "" {
				name = matchBanner(banner, name)
			}
		}
		if name == "" {
			name = fmt.Sprintf("port-%d", port)
		}
		names = append(names, name)
	}
	return names
}

func (h *Handler) grabBanner(host string, port int) string {
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	conn, err := net.DialTimeout("tcp", addr, h.cfg.ConnectTimeout)
	if err != nil {
		return ""
	}
	defer conn.Close()

	if isWebPort(port) {
		conn.SetWriteDeadline(time.Now().Add(h.cfg.BannerTimeout))
		conn.Write([]byte("GET / HTTP/1.0\r\n\r\n"))
	}

	conn.SetReadDeadline(time.Now().Add(h.cfg.BannerTimeout))
	buf := make([]byte, 1024)
	n, _ := conn.Read(buf)
	return string(buf[:n])
}

func isWebPort(port int) bool {
	switch port {
	case 80, 8080, 8000, 8008, 8081, 8888, 9000, 8443, 443:
		return true
	default:
		return false
	}
}

func matchBanner(banner, fallback string) string {
	lower := strings.ToLower(banner)
	switch {
	case strings.HasPrefix(lower, "http/") || strings.Contains(lower, "server:"):
		return "http"
	case strings.HasPrefix(lower, "ssh-"):
		return "ssh"
	case strings.HasPrefix(lower, "220") && strings.Contains(lower, "ftp"):
		return "ftp"
	default:
		return fallback
	}
}

// classify applies §4.3.4's port/service classification rules.
func classify(ports []int, services []string) models.DeviceType {
	has := func(p int) bool {
		for _, x := range ports {
			if x == p {
				return true
			}
		}
		return false
	}
	hasService := func(name string) bool {
		for _, s := range services {
			if s == name {
				return true
			}
		}
		return false
	}

	hasHTTP := hasService("http")
	hasHTTPS := hasService("https") || has(443)
	hasSSHOrTelnet := has(22) || has(23)

	switch {
	case hasHTTP && hasHTTPS && hasSSHOrTelnet:
		return models.DeviceTypeRouter
	case has(631) || has(9100) || has(515):
		return models.DeviceTypePrinter
	case has(8080) || has(8200) || has(32400) || hasService("media"):
		return models.DeviceTypeMediaServer
	case has(1883):
		return models.DeviceTypeIoTGateway
	case (has(554) || has(8000) || has(8080)) && hasHTTP:
		return models.DeviceTypeCamera
	case has(161) || (has(22) && hasHTTP):
		return models.DeviceTypeSwitch
	case has(5683) || has(8883) || has(5353):
		return models.DeviceTypeIoTSensor
	default:
		return models.DeviceTypeUnknown
	}
}

type netscanError string

func (e netscanError) Error() string { return string(e) }
