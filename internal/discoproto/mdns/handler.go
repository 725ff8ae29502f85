package mdns

import (
	"context"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/discoveryd/pkg/models"
	"github.com/HerbHall/discoveryd/pkg/plugin"
)

// Config holds the handler's own tunables, resolved from plugin.Config at
// Initialize time.
type Config struct {
	ServiceTypes []string
	Timeout      time.Duration
}

// Handler implements plugin.Plugin for mDNS/DNS-SD discovery.
type Handler struct {
	cfg    Config
	logger *zap.Logger
}

// New creates an mDNS handler with the spec's default service-type list and
// a 3 second collection window.
func New(logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg: Config{
			ServiceTypes: append([]string(nil), defaultServiceTypes...),
			Timeout:      3 * time.Second,
		},
		logger: logger.Named("mdns"),
	}
}

func (h *Handler) Name() string { return "mdns" }

func (h *Handler) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:               "mdns",
		Version:            "1.0.0",
		Description:        "Multicast DNS / DNS-SD service discovery",
		Author:             "discoveryd",
		SupportedProtocols: []string{"mdns"},
		APIVersion:         plugin.APIVersionCurrent,
	}
}

func (h *Handler) ValidateConfig(cfg plugin.Config) []error {
	var errs []error
	if cfg == nil {
		return errs
	}
	if cfg.IsSet("timeout") && cfg.GetDuration("timeout") <= 0 {
		errs = append(errs, errNonPositiveTimeout)
	}
	return errs
}

func (h *Handler) Initialize(ctx context.Context, cfg plugin.Config) error {
	if cfg == nil {
		return nil
	}
	if cfg.IsSet("timeout") {
		h.cfg.Timeout = cfg.GetDuration("timeout")
	}
	if cfg.IsSet("service_types") {
		if v, ok := cfg.Get("service_types").([]string); ok && len(v) > 0 {
			h.cfg.ServiceTypes = v
		}
	}
	return nil
}

func (h *Handler) Cleanup(ctx context.Context) error { return nil }

// Available opens and immediately closes a UDP socket on an ephemeral port.
func (h *Handler) Available(ctx context.Context) bool {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (h *Handler) Discover(ctx context.Context, params map[string]any) models.DiscoveryResult {
	start := time.Now()
	result := models.DiscoveryResult{Protocol: h.Name()}

	addr, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer conn.Close()

	for _, st := range h.cfg.ServiceTypes {
		if _, err := conn.WriteTo(buildQuery(st), addr); err != nil {
			h.logger.Debug("mdns query send failed", zap.String("service_type", st), zap.Error(err))
		}
	}

	deadline := time.Now().Add(h.cfg.Timeout)
	conn.SetReadDeadline(deadline)

	byIP := make(map[string]*models.Device)
	buf := make([]byte, 9000)
	for {
		if ctx.Err() != nil {
			break
		}
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			break
		}
		msg, err := parseMessage(buf[:n])
		if err != nil {
			h.logger.Debug("mdns packet parse failed", zap.Error(err))
			continue
		}
		h.assemble(buf[:n], msg, byIP)
	}

	for _, d := range byIP {
		classify(d)
		result.Devices = append(result.Devices, d)
	}
	result.Success = true
	result.Duration = time.Since(start)
	return result
}

// assemble folds one response message's records into the per-IP device
// map, merging services/ports/capabilities into any existing entry for
// that IP within this invocation (dedup across datagrams).
func (h *Handler) assemble(raw []byte, msg message, byIP map[string]*models.Device) {
	var ptrNames []string
	srvByTarget := make(map[string]srvRecord)
	txtByName := make(map[string]map[string]string)
	var ips []net.IP

	for _, r := range msg.answers {
		switch r.rrtype {
		case typePTR:
			name, err := decodePTR(raw, r)
			if err == nil {
				ptrNames = append(ptrNames, name)
			}
		case typeSRV:
			srv, err := decodeSRV(raw, r)
			if err == nil {
				srvByTarget[r.name] = srv
			}
		case typeTXT:
			txtByName[r.name] = decodeTXT(r)
		case typeA:
			ip, err := decodeA(r)
			if err == nil {
				ips = append(ips, ip)
			}
		}
	}

	for _, ip := range ips {
		ipStr := ip.String()
		d, ok := byIP[ipStr]
		if !ok {
			d = models.NewDevice(ipStr, h.Name())
			byIP[ipStr] = d
		}

		for _, name := range ptrNames {
			addService(d, name)
		}
		for _, srv := range srvByTarget {
			addPort(d, int(srv.port))
		}
		for _, txt := range txtByName {
			applyTXT(d, txt)
		}
	}
}

func addService(d *models.Device, name string) {
	for _, s := range d.Services {
		if s == name {
			return
		}
	}
	d.Services = append(d.Services, name)
}

func addPort(d *models.Device, port int) {
	if port == 0 {
		return
	}
	for _, p := range d.Ports {
		if p == port {
			return
		}
	}
	d.Ports = append(d.Ports, port)
}

func applyTXT(d *models.Device, txt map[string]string) {
	for k, v := range txt {
		switch strings.ToLower(k) {
		case "model":
			d.Model = v
		case "manufacturer", "vendor":
			d.Manufacturer = v
		case "version", "fw":
			d.FirmwareVersion = v
		case "name", "friendly_name":
			if d.Name == "" {
				d.Name = v
			}
		}
		d.Capabilities[k] = v
	}
}

// classify applies §4.3.1's service-name classification rules.
func classify(d *models.Device) {
	hasCamera := false
	hasMediaDLNA := false
	for k, v := range d.Capabilities {
		lv := strings.ToLower(toString(v))
		lk := strings.ToLower(k)
		if strings.Contains(lk, "camera") || strings.Contains(lv, "camera") {
			hasCamera = true
		}
		if strings.Contains(lk, "media") || strings.Contains(lk, "dlna") || strings.Contains(lv, "media") || strings.Contains(lv, "dlna") {
			hasMediaDLNA = true
		}
	}

	for _, svc := range d.Services {
		s := strings.ToLower(svc)
		switch {
		case strings.Contains(s, "_ipp") || strings.Contains(s, "_printer"):
			d.DeviceType = models.DeviceTypePrinter
			return
		case strings.Contains(s, "_ssh") || strings.Contains(s, "_telnet"):
			d.DeviceType = models.DeviceTypeIoTGateway
			return
		case strings.Contains(s, "_mqtt") || strings.Contains(s, "_coap"):
			d.DeviceType = models.DeviceTypeIoTSensor
			return
		case strings.Contains(s, "_http") || strings.Contains(s, "_https"):
			switch {
			case hasCamera:
				d.DeviceType = models.DeviceTypeCamera
			case hasMediaDLNA:
				d.DeviceType = models.DeviceTypeMediaServer
			default:
				d.DeviceType = models.DeviceTypeIoTGateway
			}
			return
		}
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

var errNonPositiveTimeout = mdnsError("mdns: timeout must be positive")

type mdnsError string

func (e mdnsError) Error() string { return string(e) }
