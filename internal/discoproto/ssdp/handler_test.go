package ssdp

import (
	"testing"

	"github.com/HerbHall/discoveryd/pkg/models"
	"github.com/HerbHall/discoveryd/pkg/plugin"
	"github.com/HerbHall/discoveryd/pkg/plugin/plugintest"
)

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New(nil) })
}

func TestParseResponseRequiresStatusLineAndLocation(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nLOCATION: http://10.0.0.5:80/desc.xml\r\nST: upnp:rootdevice\r\n\r\n"
	headers, ok := parseResponse([]byte(raw))
	if !ok {
		t.Fatal("expected valid response to parse")
	}
	if headers["location"] != "http://10.0.0.5:80/desc.xml" {
		t.Fatalf("expected location header, got %q", headers["location"])
	}
}

func TestParseResponseRejectsNon200(t *testing.T) {
	raw := "HTTP/1.1 404 Not Found\r\n\r\n"
	_, ok := parseResponse([]byte(raw))
	if ok {
		t.Fatal("expected non-200 response to be rejected")
	}
}

func TestClassifyMediaServer(t *testing.T) {
	got := classify("urn:schemas-upnp-org:device:MediaServer:1", nil)
	if got != models.DeviceTypeMediaServer {
		t.Fatalf("expected MEDIA_SERVER, got %v", got)
	}
}

func TestClassifySmartHomeFromServiceList(t *testing.T) {
	got := classify("", []string{"urn:schemas-upnp-org:service:Light:1"})
	if got != models.DeviceTypeSmartHome {
		t.Fatalf("expected SMART_HOME, got %v", got)
	}
}
