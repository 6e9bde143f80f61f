// Package observer implements the Packet Observer (spec.md §4.5): one
// passive capture process per (device, interface), parsed into typed
// Packet Events and pushed through a global fan-out. Grounded on the
// teacher's retry/backoff idiom in orchestrator/sandbox/fc.go
// (retryHttpRequest's doubling timer), generalized from HTTP retries to
// capture-process respawns.
package observer

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Kishor-9361/NET-sim/model"
)

// Capture lines look like tcpdump -l -n -tt -i <iface> output:
//
//	1700000000.123456 IP 10.0.1.1 > 10.0.1.2: ICMP echo request, id 1, seq 1, length 64
//	1700000000.123456 IP 10.0.1.1.54321 > 10.0.1.2.80: Flags [S], seq 1, win 64240, length 0
//	1700000000.123456 IP 10.0.1.1.54321 > 10.0.1.2.53: 12345+ A? example.com. (32)
//	1700000000.123456 ARP, Request who-has 10.0.1.2 tell 10.0.1.1, length 28
var (
	reTimestamp = regexp.MustCompile(`^(\d+\.\d+)\s+(.*)$`)
	reICMP      = regexp.MustCompile(`^IP\s+(\S+)\s+>\s+(\S+):\s+ICMP\s+(.*?),.*length (\d+)`)
	reTCP       = regexp.MustCompile(`^IP\s+(\S+)\s+>\s+(\S+):\s+Flags\s+\[([^\]]+)\].*length (\d+)`)
	reUDP       = regexp.MustCompile(`^IP\s+(\S+)\s+>\s+(\S+):\s+(.*?)\s*\((\d+)\)$`)
	reUDPPlain  = regexp.MustCompile(`^IP\s+(\S+)\s+>\s+(\S+):\s+UDP,.*length (\d+)`)
	reARPReq    = regexp.MustCompile(`^ARP,\s+Request\s+who-has\s+(\S+)\s+tell\s+(\S+).*length (\d+)`)
	reARPReply  = regexp.MustCompile(`^ARP,\s+Reply\s+(\S+)\s+is-at\s+\S+.*length (\d+)`)
)

// ParseLine turns one line of capture output into a PacketEvent. ok is
// false for lines that don't match any recognized shape; malformed
// lines are the caller's responsibility to count and discard, never to
// crash on (spec.md §4.5).
func ParseLine(device, iface, line string, seq uint64) (model.PacketEvent, bool) {
	m := reTimestamp.FindStringSubmatch(line)
	if m == nil {
		return model.PacketEvent{}, false
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return model.PacketEvent{}, false
	}
	ts := time.Unix(0, int64(secs*float64(time.Second)))
	rest := m[2]

	base := model.PacketEvent{Timestamp: ts, Device: device, Iface: iface, Seq: seq}

	if am := reARPReq.FindStringSubmatch(rest); am != nil {
		base.Proto = "ARP"
		base.SubType = "arp_request"
		base.Dst = am[1]
		base.Src = am[2]
		base.Length = atoiOr(am[3], 0)
		return base, true
	}
	if am := reARPReply.FindStringSubmatch(rest); am != nil {
		base.Proto = "ARP"
		base.SubType = "arp_reply"
		base.Src = am[1]
		base.Length = atoiOr(am[2], 0)
		return base, true
	}
	if im := reICMP.FindStringSubmatch(rest); im != nil {
		base.Proto = "ICMP"
		base.Src = hostOnly(im[1])
		base.Dst = hostOnly(im[2])
		base.SubType = classifyICMP(im[3])
		base.Length = atoiOr(im[4], 0)
		return base, true
	}
	if tm := reTCP.FindStringSubmatch(rest); tm != nil {
		srcHost, srcPort := splitHostPort(tm[1])
		dstHost, dstPort := splitHostPort(tm[2])
		base.Proto = "TCP"
		base.Src = srcHost
		base.Dst = dstHost
		base.SrcPort = srcPort
		base.DstPort = dstPort
		base.SubType = classifyTCPFlags(tm[3])
		base.Length = atoiOr(tm[4], 0)
		return base, true
	}
	// DNS answers and other application payloads end "(N)"; bare UDP
	// lines carry "UDP, length N" instead. Either way the length is the
	// final numeric field.
	um := reUDP.FindStringSubmatch(rest)
	if um == nil {
		if pm := reUDPPlain.FindStringSubmatch(rest); pm != nil {
			um = []string{pm[0], pm[1], pm[2], "", pm[3]}
		}
	}
	if um != nil {
		srcHost, srcPort := splitHostPort(um[1])
		dstHost, dstPort := splitHostPort(um[2])
		base.Proto = "UDP"
		base.Src = srcHost
		base.Dst = dstHost
		base.SrcPort = srcPort
		base.DstPort = dstPort
		base.Length = atoiOr(um[4], 0)
		if srcPort == 53 {
			base.SubType = "dns_response"
		} else if dstPort == 53 {
			base.SubType = "dns_query"
		} else {
			base.SubType = "generic"
		}
		return base, true
	}

	return model.PacketEvent{}, false
}

func classifyICMP(desc string) string {
	switch {
	case strings.Contains(desc, "echo request"):
		return "echo_request"
	case strings.Contains(desc, "echo reply"):
		return "echo_reply"
	case strings.Contains(desc, "time exceeded"):
		return "time_exceeded"
	case strings.Contains(desc, "unreachable"):
		return "destination_unreachable"
	default:
		return "other"
	}
}

func classifyTCPFlags(flags string) string {
	switch flags {
	case "S":
		return "syn"
	case "S.":
		return "syn_ack"
	case ".":
		return "ack"
	case "F", "F.":
		return "fin"
	case "R", "R.":
		return "rst"
	default:
		return "other"
	}
}

// hostOnly trims a trailing "." from an address field of an ICMP line.
// ICMP lines carry no port, so nothing else is stripped.
func hostOnly(s string) string {
	return strings.TrimSuffix(s, ".")
}

// splitHostPort parses tcpdump's "a.b.c.d.port" addressing into an
// address and a numeric port, since dotted-quad IPv4 already contains
// dots, the port is always the final dot-separated field.
func splitHostPort(s string) (string, int) {
	idx := strings.LastIndex(s, ".")
	if idx < 0 {
		return s, 0
	}
	host := s[:idx]
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return s, 0
	}
	return host, port
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
