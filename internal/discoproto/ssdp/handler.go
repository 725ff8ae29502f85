// Package ssdp implements the SSDP/UPnP protocol handler (part of C3):
// hand-rolled HTTP-over-UDP M-SEARCH against 239.255.255.250:1900, followed
// by an HTTP GET + namespace-aware XML parse of each unique device
// description. Grounded on the teacher's HTTP-client-based probe handlers
// for the fetch-then-parse shape; deliberately uses stdlib encoding/xml
// rather than the teacher's goupnp, since goupnp owns its own SSDP search
// loop and wire assumptions that don't match the spec's hand-rolled
// M-SEARCH/response parsing requirement.
package ssdp

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/discoveryd/pkg/models"
	"github.com/HerbHall/discoveryd/pkg/plugin"
)

const multicastAddr = "239.255.255.250:1900"

var defaultSearchTargets = []string{
	"upnp:rootdevice",
	"ssdp:all",
	"urn:schemas-upnp-org:device:MediaServer:1",
	"urn:schemas-upnp-org:device:MediaRenderer:1",
	"urn:schemas-upnp-org:device:InternetGatewayDevice:1",
}

// Config holds the handler's own tunables.
type Config struct {
	SearchTargets []string
	MXSeconds     int
	Timeout       time.Duration
	FetchTimeout  time.Duration
}

// Handler implements plugin.Plugin for SSDP/UPnP discovery.
type Handler struct {
	cfg        Config
	logger     *zap.Logger
	httpClient *http.Client
}

// New creates an SSDP handler with the spec's default search-target list.
func New(logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg: Config{
			SearchTargets: append([]string(nil), defaultSearchTargets...),
			MXSeconds:     3,
			Timeout:       3 * time.Second,
			FetchTimeout:  3 * time.Second,
		},
		logger:     logger.Named("ssdp"),
		httpClient: &http.Client{Timeout: 3 * time.Second},
	}
}

func (h *Handler) Name() string { return "ssdp" }

func (h *Handler) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:               "ssdp",
		Version:            "1.0.0",
		Description:        "SSDP/UPnP device discovery",
		Author:             "discoveryd",
		SupportedProtocols: []string{"ssdp"},
		APIVersion:         plugin.APIVersionCurrent,
	}
}

func (h *Handler) ValidateConfig(cfg plugin.Config) []error {
	var errs []error
	if cfg == nil {
		return errs
	}
	if cfg.IsSet("mx_seconds") && cfg.GetInt("mx_seconds") <= 0 {
		errs = append(errs, ssdpError("ssdp: mx_seconds must be positive"))
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
	if cfg.IsSet("fetch_timeout") {
		h.cfg.FetchTimeout = cfg.GetDuration("fetch_timeout")
		h.httpClient.Timeout = h.cfg.FetchTimeout
	}
	if cfg.IsSet("mx_seconds") {
		h.cfg.MXSeconds = cfg.GetInt("mx_seconds")
	}
	return nil
}

func (h *Handler) Cleanup(ctx context.Context) error { return nil }

func (h *Handler) Available(ctx context.Context) bool {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (h *Handler) buildSearch(st string) []byte {
	msg := fmt.Sprintf(
		"M-SEARCH * HTTP/1.1\r\nHOST: %s\r\nMAN: \"ssdp:discover\"\r\nST: %s\r\nMX: %d\r\n\r\n",
		multicastAddr, st, h.cfg.MXSeconds)
	return []byte(msg)
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

	for _, st := range h.cfg.SearchTargets {
		if _, err := conn.WriteTo(h.buildSearch(st), addr); err != nil {
			h.logger.Debug("ssdp search send failed", zap.String("st", st), zap.Error(err))
		}
	}

	conn.SetReadDeadline(time.Now().Add(h.cfg.Timeout))
	locations := make(map[string]struct{})
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			break
		}
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			break
		}
		headers, ok := parseResponse(buf[:n])
		if !ok {
			continue
		}
		loc := headers["location"]
		if loc == "" {
			continue
		}
		locations[loc] = struct{}{}
	}

	for loc := range locations {
		device, err := h.fetchAndParse(ctx, loc)
		if err != nil {
			h.logger.Debug("ssdp description fetch failed", zap.String("location", loc), zap.Error(err))
			continue
		}
		result.Devices = append(result.Devices, device)
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

// parseResponse requires an "HTTP/1.1 200 ..." status line, then folds the
// remaining headers into a case-normalized map.
func parseResponse(buf []byte) (map[string]string, bool) {
	r := bufio.NewReader(strings.NewReader(string(buf)))
	statusLine, err := r.ReadString('\n')
	if err != nil {
		return nil, false
	}
	statusLine = strings.TrimSpace(statusLine)
	if !strings.HasPrefix(statusLine, "HTTP/1.1 200") {
		return nil, false
	}

	headers := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			key := strings.ToLower(strings.TrimSpace(line[:idx]))
			val := strings.TrimSpace(line[idx+1:])
			headers[key] = val
		}
		if err != nil {
			break
		}
	}
	return headers, true
}

type upnpRoot struct {
	XMLName xml.Name  `xml:"root"`
	Device  upnpDevice `xml:"device"`
}

type upnpDevice struct {
	DeviceType          string        `xml:"deviceType"`
	FriendlyName        string        `xml:"friendlyName"`
	Manufacturer        string        `xml:"manufacturer"`
	ManufacturerURL     string        `xml:"manufacturerURL"`
	ModelName           string        `xml:"modelName"`
	ModelNumber         string        `xml:"modelNumber"`
	ModelDescription    string        `xml:"modelDescription"`
	SerialNumber        string        `xml:"serialNumber"`
	UDN                 string        `xml:"UDN"`
	PresentationURL     string        `xml:"presentationURL"`
	ServiceList         []upnpService `xml:"serviceList>service"`
}

type upnpService struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
	SCPDURL     string `xml:"SCPDURL"`
}

func (h *Handler) fetchAndParse(ctx context.Context, location string) (*models.Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var root upnpRoot
	if err := xml.NewDecoder(resp.Body).Decode(&root); err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(req.URL.Host)
	if err != nil {
		host = req.URL.Hostname()
	}

	d := models.NewDevice(host, h.Name())
	d.Name = root.Device.FriendlyName
	d.Manufacturer = root.Device.Manufacturer
	d.Model = root.Device.ModelName
	d.Metadata["device_type"] = root.Device.DeviceType
	d.Metadata["udn"] = root.Device.UDN
	d.Metadata["serial_number"] = root.Device.SerialNumber
	d.Metadata["presentation_url"] = root.Device.PresentationURL

	var serviceTypes []string
	for _, svc := range root.Device.ServiceList {
		serviceTypes = append(serviceTypes, svc.ServiceType)
		d.Services = append(d.Services, svc.ServiceType)
	}

	d.DeviceType = classify(root.Device.DeviceType, serviceTypes)
	return d, nil
}

// classify applies §4.3.2's deviceType/service inference rules.
func classify(deviceType string, serviceTypes []string) models.DeviceType {
	lower := strings.ToLower(deviceType)
	switch {
	case strings.Contains(lower, "mediaserver") || strings.Contains(lower, "mediarenderer"):
		return models.DeviceTypeMediaServer
	case strings.Contains(lower, "internetgatewaydevice") || strings.Contains(lower, "wandevice"):
		return models.DeviceTypeRouter
	case strings.Contains(lower, "printer"):
		return models.DeviceTypePrinter
	case strings.Contains(lower, "camera"):
		return models.DeviceTypeCamera
	}
	for _, s := range serviceTypes {
		ls := strings.ToLower(s)
		if strings.Contains(ls, "light") || strings.Contains(ls, "thermostat") || strings.Contains(ls, "sensor") || strings.Contains(ls, "switch") {
			return models.DeviceTypeSmartHome
		}
	}
	return models.DeviceTypeUnknown
}

type ssdpError string

func (e ssdpError) Error() string { return string(e) }
