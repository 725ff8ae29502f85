package netscan

// CommonPorts and IoTPorts are unioned into the port-scan candidate set
// per §4.3.4.
var CommonPorts = []int{22, 23, 53, 80, 135, 139, 443, 445, 993, 995, 1883, 5353, 8080, 8443, 9000}
var IoTPorts = []int{1883, 8883, 5683, 5684, 1900, 5353, 6667, 8000, 8008, 8081, 8888, 9999}

// defaultPortName is consulted when a banner probe yields nothing useful.
var defaultPortName = map[int]string{
	22:   "ssh",
	23:   "telnet",
	53:   "dns",
	80:   "http",
	135:  "rpc",
	139:  "netbios",
	161:  "snmp",
	443:  "https",
	445:  "smb",
	554:  "rtsp",
	631:  "ipp",
	993:  "imaps",
	995:  "pop3s",
	1883: "mqtt",
	1900: "ssdp",
	5353: "mdns",
	5683: "coap",
	5684: "coaps",
	6667: "irc",
	8000: "http-alt",
	8008: "http-alt",
	8080: "http-alt",
	8081: "http-alt",
	8200: "dlna",
	8443: "https-alt",
	8883: "mqtts",
	8888: "http-alt",
	9000: "http-alt",
	9100: "printer",
	9999: "unknown",
	32400: "plex",
}

func unionPorts() []int {
	seen := make(map[int]struct{}, len(CommonPorts)+len(IoTPorts))
	var out []int
	for _, p := range CommonPorts {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, p := range IoTPorts {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
