// Package snmp implements the SNMP protocol handler (part of C3): fixed
// system-OID GETs plus an optional interface walk, over
// github.com/gosnmp/gosnmp. Grounded on the teacher's internal/recon SNMP
// collector (internal/recon/snmp_collector.go) for the per-host
// semaphore-bounded concurrency shape and gosnmp usage pattern; OID set,
// classification rules and manufacturer parsing are rebuilt to the spec.
package snmp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"
	"go.uber.org/zap"

	"github.com/HerbHall/discoveryd/pkg/models"
	"github.com/HerbHall/discoveryd/pkg/plugin"
)

const (
	oidSysDescr    = "1.3.6.1.2.1.1.1.0"
	oidSysObjectID = "1.3.6.1.2.1.1.2.0"
	oidSysUpTime   = "1.3.6.1.2.1.1.3.0"
	oidSysContact  = "1.3.6.1.2.1.1.4.0"
	oidSysName     = "1.3.6.1.2.1.1.5.0"
	oidSysLocation = "1.3.6.1.2.1.1.6.0"
	oidSysServices = "1.3.6.1.2.1.1.7.0"

	ifTableBase  = "1.3.6.1.2.1.2.2.1."
	maxIfaceRows = 100
)

var systemOIDs = []string{oidSysDescr, oidSysObjectID, oidSysUpTime, oidSysContact, oidSysName, oidSysLocation, oidSysServices}

var vendorPrefixType = map[string]models.DeviceType{
	".1.3.6.1.4.1.9":     models.DeviceTypeRouter,     // Cisco
	".1.3.6.1.4.1.11":    models.DeviceTypeSwitch,     // HP
	".1.3.6.1.4.1.43":    models.DeviceTypeSwitch,     // 3Com
	".1.3.6.1.4.1.2636":  models.DeviceTypeRouter,     // Juniper
	".1.3.6.1.4.1.1991":  models.DeviceTypeSwitch,     // Brocade
	".1.3.6.1.4.1.14179": models.DeviceTypeAccessPoint, // Cisco Wireless
}

var vendorTokens = []string{"cisco", "juniper", "hp", "dell", "netgear", "linksys", "dlink", "tplink", "ubiquiti", "mikrotik"}

// Config holds the handler's own tunables.
type Config struct {
	IPAddresses       []string
	Networks          []string
	Community         string
	Timeout           time.Duration
	MaxConcurrent     int
	IncludeInterfaces bool
}

// Handler implements plugin.Plugin for SNMP discovery.
type Handler struct {
	cfg    Config
	logger *zap.Logger
}

// New creates an SNMP handler with community "public" and 50-way
// concurrency, matching the spec's defaults.
func New(logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg: Config{
			Community:     "public",
			Timeout:       2 * time.Second,
			MaxConcurrent: 50,
		},
		logger: logger.Named("snmp"),
	}
}

func (h *Handler) Name() string { return "snmp" }

func (h *Handler) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:               "snmp",
		Version:            "1.0.0",
		Description:        "SNMP system/interface discovery",
		Author:             "discoveryd",
		SupportedProtocols: []string{"snmp"},
		APIVersion:         plugin.APIVersionCurrent,
	}
}

func (h *Handler) ValidateConfig(cfg plugin.Config) []error {
	var errs []error
	if cfg == nil {
		return errs
	}
	if cfg.IsSet("max_concurrent") && cfg.GetInt("max_concurrent") <= 0 {
		errs = append(errs, snmpError("snmp: max_concurrent must be positive"))
	}
	return errs
}

func (h *Handler) Initialize(ctx context.Context, cfg plugin.Config) error {
	if cfg == nil {
		return nil
	}
	if cfg.IsSet("community") {
		h.cfg.Community = cfg.GetString("community")
	}
	if cfg.IsSet("timeout") {
		h.cfg.Timeout = cfg.GetDuration("timeout")
	}
	if cfg.IsSet("max_concurrent") {
		h.cfg.MaxConcurrent = cfg.GetInt("max_concurrent")
	}
	if cfg.IsSet("include_interfaces") {
		h.cfg.IncludeInterfaces = cfg.GetBool("include_interfaces")
	}
	if cfg.IsSet("ip_addresses") {
		if v, ok := cfg.Get("ip_addresses").([]string); ok {
			h.cfg.IPAddresses = v
		}
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

	ips := h.cfg.IPAddresses
	if fromParams, ok := params["ip_addresses"].([]string); ok && len(fromParams) > 0 {
		ips = fromParams
	}

	networks := h.cfg.Networks
	if fromParams, ok := params["networks"].([]string); ok && len(fromParams) > 0 {
		networks = fromParams
	}
	for _, cidr := range networks {
		addrs, err := enumerateCIDR(cidr)
		if err != nil {
			h.logger.Warn("skipping invalid CIDR", zap.String("cidr", cidr), zap.Error(err))
			continue
		}
		ips = append(ips, addrs...)
	}

	if len(ips) == 0 {
		result.Error = "No valid IP addresses to scan"
		result.Duration = time.Since(start)
		return result
	}

	maxConcurrent := h.cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	sem := make(chan struct{}, maxConcurrent)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, ip := range ips {
		if ctx.Err() != nil {
			break
		}
		ip := ip
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			d, ok := h.probeHost(ctx, ip)
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

func (h *Handler) newClient(ctx context.Context, ip string) *gosnmp.GoSNMP {
	return &gosnmp.GoSNMP{
		Target:    ip,
		Port:      161,
		Community: h.cfg.Community,
		Version:   gosnmp.Version2c,
		Timeout:   h.cfg.Timeout,
		Retries:   1,
		Context:   ctx,
	}
}

// probeHost issues the fixed system-OID GETs and, if any respond, assembles
// a Device. A host contributes no device on a pure SNMP error, which is
// logged at debug per the spec's "maps to no device" rule.
func (h *Handler) probeHost(ctx context.Context, ip string) (*models.Device, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	client := h.newClient(ctx, ip)
	if err := client.Connect(); err != nil {
		h.logger.Debug("snmp connect failed", zap.String("ip", ip), zap.Error(err))
		return nil, false
	}
	defer client.Conn.Close()

	pkt, err := client.Get(systemOIDs)
	if err != nil || pkt == nil || len(pkt.Variables) == 0 {
		h.logger.Debug("snmp get failed", zap.String("ip", ip), zap.Error(err))
		return nil, false
	}

	d := models.NewDevice(ip, h.Name())
	values := make(map[string]string)
	for _, v := range pkt.Variables {
		values[v.Name] = pduToString(v)
	}

	sysDescr := values["."+oidSysDescr]
	sysObjectID := values["."+oidSysObjectID]
	d.Name = values["."+oidSysName]
	d.Metadata["sys_descr"] = sysDescr
	d.Metadata["sys_object_id"] = sysObjectID
	d.Metadata["sys_contact"] = values["."+oidSysContact]
	d.Metadata["sys_location"] = values["."+oidSysLocation]

	d.DeviceType = classifyByObjectID(sysObjectID)
	d.Manufacturer, d.Model = parseVendorModel(sysDescr)

	if h.cfg.IncludeInterfaces {
		ifaces, mac := h.walkInterfaces(client)
		if len(ifaces) > 0 {
			d.Metadata["interfaces"] = ifaces
		}
		if mac != "" {
			d.MACAddress = mac
		}
	}

	return d, true
}

func pduToString(v gosnmp.SnmpPDU) string {
	switch v.Type {
	case gosnmp.OctetString:
		if b, ok := v.Value.([]byte); ok {
			return string(b)
		}
	case gosnmp.ObjectIdentifier:
		if s, ok := v.Value.(string); ok {
			return s
		}
	}
	return fmt.Sprintf("%v", v.Value)
}

// classifyByObjectID matches §4.3.3's sysObjectID-prefix rules. A prefix
// matches only on a whole OID arc, so .1.3.6.1.4.1.9 does not match
// .1.3.6.1.4.1.99999.
func classifyByObjectID(sysObjectID string) models.DeviceType {
	for prefix, t := range vendorPrefixType {
		if sysObjectID == prefix || strings.HasPrefix(sysObjectID, prefix+".") {
			return t
		}
	}
	return models.DeviceTypeUnknown
}

// parseVendorModel scans sysDescr for a known vendor token, then takes the
// first non-numeric word following it, uppercased, as the model.
func parseVendorModel(sysDescr string) (manufacturer, model string) {
	lower := strings.ToLower(sysDescr)
	words := strings.Fields(sysDescr)
	lowerWords := strings.Fields(lower)

	for i, lw := range lowerWords {
		for _, token := range vendorTokens {
			if lw == token || strings.Contains(lw, token) {
				manufacturer = token
				for j := i + 1; j < len(words); j++ {
					if _, err := strconv.Atoi(words[j]); err != nil {
						model = strings.ToUpper(words[j])
						return manufacturer, model
					}
				}
				return manufacturer, model
			}
		}
	}
	return "", ""
}

type ifaceInfo struct {
	Index          int    `json:"index"`
	Descr          string `json:"if_descr"`
	Type           int    `json:"if_type"`
	MTU            int    `json:"if_mtu"`
	Speed          int    `json:"if_speed"`
	PhysAddress    string `json:"if_phys_address"`
	AdminStatus    int    `json:"if_admin_status"`
	OperStatus     int    `json:"if_oper_status"`
}

// walkInterfaces walks columns 1-8 of the interfaces table, capped at 100
// rows, and returns per-interface records plus the first non-empty MAC.
func (h *Handler) walkInterfaces(client *gosnmp.GoSNMP) ([]ifaceInfo, string) {
	byIndex := make(map[int]*ifaceInfo)
	var firstMAC string

	for column := 1; column <= 8; column++ {
		oid := ifTableBase + strconv.Itoa(column)
		results, err := client.WalkAll(oid)
		if err != nil {
			h.logger.Debug("snmp interface walk failed", zap.String("oid", oid), zap.Error(err))
			continue
		}
		for i, pdu := range results {
			if i >= maxIfaceRows {
				break
			}
			idx := ifaceIndexFromOID(pdu.Name)
			info, ok := byIndex[idx]
			if !ok {
				info = &ifaceInfo{Index: idx}
				byIndex[idx] = info
			}
			applyIfaceColumn(info, column, pdu, &firstMAC)
		}
	}

	out := make([]ifaceInfo, 0, len(byIndex))
	for _, info := range byIndex {
		out = append(out, *info)
	}
	return out, firstMAC
}

func ifaceIndexFromOID(oid string) int {
	parts := strings.Split(oid, ".")
	if len(parts) == 0 {
		return 0
	}
	n, _ := strconv.Atoi(parts[len(parts)-1])
	return n
}

func applyIfaceColumn(info *ifaceInfo, column int, pdu gosnmp.SnmpPDU, firstMAC *string) {
	switch column {
	case 2:
		info.Descr = pduToString(pdu)
	case 3:
		info.Type = asInt(pdu.Value)
	case 4:
		info.MTU = asInt(pdu.Value)
	case 5:
		info.Speed = asInt(pdu.Value)
	case 6:
		if b, ok := pdu.Value.([]byte); ok && len(b) == 6 {
			info.PhysAddress = formatMAC(b)
			if *firstMAC == "" {
				*firstMAC = info.PhysAddress
			}
		}
	case 7:
		info.AdminStatus = asInt(pdu.Value)
	case 8:
		info.OperStatus = asInt(pdu.Value)
	}
}

// asInt converts the numeric PDU value types gosnmp returns (int, uint,
// int64, uint64, *big.Int via gosnmp.ToBigInt) into a plain int.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	default:
		return int(gosnmp.ToBigInt(v).Int64())
	}
}

func formatMAC(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, ":")
}

type snmpError string

func (e snmpError) Error() string { return string(e) }
