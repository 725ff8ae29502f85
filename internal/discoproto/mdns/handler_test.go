package mdns

import (
	"testing"

	"github.com/HerbHall/discoveryd/pkg/models"
	"github.com/HerbHall/discoveryd/pkg/plugin"
	"github.com/HerbHall/discoveryd/pkg/plugin/plugintest"
)

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New(nil) })
}

func TestEncodeDecodeNameRoundTrip(t *testing.T) {
	buf := encodeName("_http._tcp.local.")
	buf = append(buf, 0, 0, 0, 0) // pad so decode can read past the name safely
	name, _, err := decodeName(buf, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "_http._tcp.local." {
		t.Fatalf("expected _http._tcp.local., got %q", name)
	}
}

func TestDecodeNameFollowsCompressionPointer(t *testing.T) {
	// Build a packet where a name at offset 0 is a full label sequence,
	// and a second occurrence is a pointer back to it.
	base := encodeName("_ssh._tcp.local.")
	pointer := []byte{0xC0, 0x00}
	buf := append(append([]byte{}, base...), pointer...)

	name, end, err := decodeName(buf, len(base))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "_ssh._tcp.local." {
		t.Fatalf("expected decompressed name, got %q", name)
	}
	if end != len(base)+2 {
		t.Fatalf("expected end offset past the 2-byte pointer, got %d want %d", end, len(base)+2)
	}
}

func TestDecodeTXTParsesKeyValueAndBareTokens(t *testing.T) {
	data := []byte{}
	for _, tok := range []string{"model=X100", "standalone"} {
		data = append(data, byte(len(tok)))
		data = append(data, tok...)
	}
	txt := decodeTXT(record{data: data})
	if txt["model"] != "X100" {
		t.Fatalf("expected model=X100, got %q", txt["model"])
	}
	if v, ok := txt["standalone"]; !ok || v != "" {
		t.Fatalf("expected bare token with empty value, got %q ok=%v", v, ok)
	}
}

func TestClassifyPrinterFromIPPService(t *testing.T) {
	d := models.NewDevice("10.0.0.5", "mdns")
	d.Services = []string{"_ipp._tcp.local."}
	classify(d)
	if d.DeviceType != models.DeviceTypePrinter {
		t.Fatalf("expected PRINTER, got %v", d.DeviceType)
	}
}

func TestClassifyHTTPWithCameraCapability(t *testing.T) {
	d := models.NewDevice("10.0.0.6", "mdns")
	d.Services = []string{"_http._tcp.local."}
	d.Capabilities["description"] = "Outdoor Camera"
	classify(d)
	if d.DeviceType != models.DeviceTypeCamera {
		t.Fatalf("expected CAMERA, got %v", d.DeviceType)
	}
}

func TestDecodePTRWhenNotLastRecordInPacket(t *testing.T) {
	// Header: qdcount=0, ancount=2.
	buf := []byte{0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0}

	owner := encodeName("_http._tcp.local.")
	buf = append(buf, owner...)
	buf = append(buf, 0, typePTR, 0, classIN, 0, 0, 0, 120) // type, class, ttl
	ptrTarget := encodeName("myhost._http._tcp.local.")
	buf = append(buf, byte(len(ptrTarget)>>8), byte(len(ptrTarget)))
	buf = append(buf, ptrTarget...)

	// Second record follows the PTR, so decodePTR must not assume it is
	// the last record in the packet.
	buf = append(buf, 0xC0, 0x0C) // pointer back to the owner name at offset 12
	buf = append(buf, 0, typeA, 0, classIN, 0, 0, 0, 120)
	buf = append(buf, 0, 4, 10, 0, 0, 5)

	msg, err := parseMessage(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(msg.answers))
	}

	name, err := decodePTR(buf, msg.answers[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "myhost._http._tcp.local." {
		t.Fatalf("expected myhost._http._tcp.local., got %q", name)
	}
}

func TestDecodeSRVWhenNotLastRecordInPacket(t *testing.T) {
	buf := []byte{0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0}

	owner := encodeName("_http._tcp.local.")
	buf = append(buf, owner...)
	srvTarget := encodeName("myhost.local.")
	rdata := []byte{0, 1, 0, 1, 0x1f, 0x90} // priority=1, weight=1, port=8080
	rdata = append(rdata, srvTarget...)
	buf = append(buf, 0, typeSRV, 0, classIN, 0, 0, 0, 120)
	buf = append(buf, byte(len(rdata)>>8), byte(len(rdata)))
	buf = append(buf, rdata...)

	// Trailing record so the SRV record is not the last in the packet.
	buf = append(buf, 0xC0, 0x0C)
	buf = append(buf, 0, typeA, 0, classIN, 0, 0, 0, 120)
	buf = append(buf, 0, 4, 10, 0, 0, 6)

	msg, err := parseMessage(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	srv, err := decodeSRV(buf, msg.answers[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv.port != 8080 {
		t.Fatalf("expected port 8080, got %d", srv.port)
	}
	if srv.target != "myhost.local." {
		t.Fatalf("expected myhost.local., got %q", srv.target)
	}
}

func TestClassifyMQTTIsIoTSensor(t *testing.T) {
	d := models.NewDevice("10.0.0.7", "mdns")
	d.Services = []string{"_mqtt._tcp.local."}
	classify(d)
	if d.DeviceType != models.DeviceTypeIoTSensor {
		t.Fatalf("expected IOT_SENSOR, got %v", d.DeviceType)
	}
}
