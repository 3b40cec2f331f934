package capture

import (
	"bytes"
	"encoding/binary"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// layerNames maps decoded gopacket layers to Wireshark-style protocol names.
var layerNames = map[gopacket.LayerType]string{
	layers.LayerTypeEthernet:           "eth",
	layers.LayerTypeLinuxSLL:           "sll",
	layers.LayerTypeLoopback:           "null",
	layers.LayerTypeDot1Q:              "vlan",
	layers.LayerTypeDot11:              "wlan",
	layers.LayerTypeRadioTap:           "radiotap",
	layers.LayerTypeLLC:                "llc",
	layers.LayerTypeSNAP:               "snap",
	layers.LayerTypeSTP:                "stp",
	layers.LayerTypeEAPOL:              "eapol",
	layers.LayerTypeLinkLayerDiscovery: "lldp",
	layers.LayerTypeCiscoDiscovery:     "cdp",
	layers.LayerTypeARP:                "arp",
	layers.LayerTypePPP:                "ppp",
	layers.LayerTypePPPoE:              "pppoe",
	layers.LayerTypeMPLS:               "mpls",
	layers.LayerTypeIPv4:               "ip",
	layers.LayerTypeIPv6:               "ipv6",
	layers.LayerTypeICMPv4:             "icmp",
	layers.LayerTypeICMPv6:             "icmpv6",
	layers.LayerTypeIGMP:               "igmp",
	layers.LayerTypeGRE:                "gre",
	layers.LayerTypeIPSecAH:            "ah",
	layers.LayerTypeIPSecESP:           "esp",
	layers.LayerTypeOSPF:               "ospf",
	layers.LayerTypeVRRP:               "vrrp",
	layers.LayerTypeTCP:                "tcp",
	layers.LayerTypeUDP:                "udp",
	layers.LayerTypeSCTP:               "sctp",
	layers.LayerTypeVXLAN:              "vxlan",
	layers.LayerTypeGeneve:             "geneve",
	layers.LayerTypeDNS:                "dns",
	layers.LayerTypeDHCPv4:             "dhcp",
	layers.LayerTypeDHCPv6:             "dhcpv6",
	layers.LayerTypeNTP:                "ntp",
	layers.LayerTypeSIP:                "sip",
	layers.LayerTypeTLS:                "tls",
	layers.LayerTypeSFlow:              "sflow",
}

// portProtocols names application protocols gopacket leaves as raw payload.
var portProtocols = map[uint16]string{
	20:    "ftp-data",
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	69:    "tftp",
	110:   "pop",
	137:   "nbns",
	138:   "nbdgm",
	139:   "nbss",
	143:   "imap",
	161:   "snmp",
	162:   "snmp",
	179:   "bgp",
	389:   "ldap",
	427:   "srvloc",
	445:   "smb",
	500:   "isakmp",
	514:   "syslog",
	520:   "rip",
	554:   "rtsp",
	1194:  "openvpn",
	1433:  "tds",
	1701:  "l2tp",
	1723:  "pptp",
	1812:  "radius",
	1813:  "radius",
	1900:  "ssdp",
	2049:  "nfs",
	3306:  "mysql",
	3389:  "rdp",
	3702:  "ws-discovery",
	4500:  "isakmp",
	5060:  "sip",
	5222:  "xmpp",
	5353:  "mdns",
	5355:  "llmnr",
	5432:  "pgsql",
	5900:  "vnc",
	6379:  "redis",
	27017: "mongo",
}

var httpMethods = [][]byte{
	[]byte("GET "), []byte("POST "), []byte("PUT "), []byte("DELETE "), []byte("HEAD "),
	[]byte("OPTIONS "), []byte("PATCH "), []byte("CONNECT "), []byte("TRACE "),
}

// Classify returns the distinct protocol names carried by a packet, outermost first.
func Classify(pkt gopacket.Packet) []string {
	names := make([]string, 0, 6)
	add := func(name string) {
		for _, n := range names {
			if n == name {
				return
			}
		}
		names = append(names, name)
	}

	var srcPort, dstPort uint16
	for _, l := range pkt.Layers() {
		switch t := l.(type) {
		case *layers.TCP:
			srcPort, dstPort = uint16(t.SrcPort), uint16(t.DstPort)
		case *layers.UDP:
			srcPort, dstPort = uint16(t.SrcPort), uint16(t.DstPort)
		}
		if name, ok := layerNames[l.LayerType()]; ok {
			add(name)
		}
	}

	app := pkt.ApplicationLayer()
	if app == nil || app.LayerType() != gopacket.LayerTypePayload {
		return names
	}
	payload := app.Payload()
	switch {
	case isHTTP(payload):
		add("http")
	case isTLSRecord(payload):
		add("tls")
	default:
		if name, ok := portProtocols[dstPort]; ok {
			add(name)
		} else if name, ok := portProtocols[srcPort]; ok {
			add(name)
		}
	}
	return names
}

func isHTTP(payload []byte) bool {
	if bytes.HasPrefix(payload, []byte("HTTP/1.")) {
		return true
	}
	for _, m := range httpMethods {
		if bytes.HasPrefix(payload, m) {
			return true
		}
	}
	return false
}

// isTLSRecord checks for a TLS record header: content type 20-23, SSL 3.0 to TLS 1.3.
func isTLSRecord(payload []byte) bool {
	if len(payload) < 5 {
		return false
	}
	if payload[0] < 20 || payload[0] > 23 {
		return false
	}
	version := binary.BigEndian.Uint16(payload[1:3])
	return version >= 0x0300 && version <= 0x0304
}
