package observer

import "testing"

func TestParseLineICMPEchoRequest(t *testing.T) {
	line := "1700000000.123456 IP 10.0.1.1 > 10.0.1.2: ICMP echo request, id 1, seq 1, length 64"
	evt, ok := ParseLine("h1", "eth0", line, 1)
	if !ok {
		t.Fatalf("expected line to parse")
	}
	if evt.Proto != "ICMP" || evt.SubType != "echo_request" {
		t.Fatalf("got proto=%q subtype=%q, want ICMP/echo_request", evt.Proto, evt.SubType)
	}
	if evt.Src != "10.0.1.1" || evt.Dst != "10.0.1.2" || evt.Length != 64 {
		t.Fatalf("unexpected fields: %+v", evt)
	}
}

func TestParseLineICMPEchoReply(t *testing.T) {
	line := "1700000000.0 IP 10.0.1.2 > 10.0.1.1: ICMP echo reply, id 1, seq 1, length 64"
	evt, ok := ParseLine("h2", "eth0", line, 1)
	if !ok || evt.SubType != "echo_reply" {
		t.Fatalf("expected echo_reply, got ok=%v evt=%+v", ok, evt)
	}
}

func TestParseLineICMPTimeExceeded(t *testing.T) {
	line := "1700000000.0 IP 10.0.1.2 > 10.0.1.1: ICMP time exceeded in-transit, length 36"
	evt, ok := ParseLine("r1", "eth0", line, 1)
	if !ok || evt.SubType != "time_exceeded" {
		t.Fatalf("expected time_exceeded, got ok=%v evt=%+v", ok, evt)
	}
}

func TestParseLineTCPFlags(t *testing.T) {
	cases := map[string]string{
		"Flags [S]":  "syn",
		"Flags [S.]": "syn_ack",
		"Flags [.]":  "ack",
		"Flags [F.]": "fin",
		"Flags [R]":  "rst",
	}
	for flags, want := range cases {
		line := "1700000000.0 IP 10.0.1.1.54321 > 10.0.1.2.80: " + flags + ", seq 1, win 64240, length 0"
		evt, ok := ParseLine("h1", "eth0", line, 1)
		if !ok {
			t.Fatalf("expected %q to parse", flags)
		}
		if evt.SubType != want {
			t.Fatalf("flags %q: got %q, want %q", flags, evt.SubType, want)
		}
		if evt.SrcPort != 54321 || evt.DstPort != 80 {
			t.Fatalf("flags %q: unexpected ports src=%d dst=%d", flags, evt.SrcPort, evt.DstPort)
		}
	}
}

func TestParseLineUDPDNSQuery(t *testing.T) {
	line := "1700000000.0 IP 10.0.1.1.54321 > 10.0.1.2.53: 12345+ A? example.com. (32)"
	evt, ok := ParseLine("h1", "eth0", line, 1)
	if !ok || evt.Proto != "UDP" || evt.SubType != "dns_query" {
		t.Fatalf("expected UDP/dns_query, got ok=%v evt=%+v", ok, evt)
	}
	if evt.Length != 32 {
		t.Fatalf("expected length 32, got %d", evt.Length)
	}
}

func TestParseLineUDPGeneric(t *testing.T) {
	line := "1700000000.0 IP 10.0.1.1.9999 > 10.0.1.2.8888: UDP, length 100"
	evt, ok := ParseLine("h1", "eth0", line, 1)
	if !ok || evt.Proto != "UDP" || evt.SubType != "generic" {
		t.Fatalf("expected UDP/generic, got ok=%v evt=%+v", ok, evt)
	}
	if evt.Length != 100 || evt.SrcPort != 9999 || evt.DstPort != 8888 {
		t.Fatalf("unexpected fields: %+v", evt)
	}
}

func TestParseLineUDPDNSResponse(t *testing.T) {
	line := "1700000000.0 IP 10.0.1.2.53 > 10.0.1.1.54321: 12345 1/0/0 A 93.184.216.34 (48)"
	evt, ok := ParseLine("h2", "eth0", line, 1)
	if !ok || evt.Proto != "UDP" || evt.SubType != "dns_response" {
		t.Fatalf("expected UDP/dns_response, got ok=%v evt=%+v", ok, evt)
	}
}

func TestParseLineARP(t *testing.T) {
	req := "1700000000.0 ARP, Request who-has 10.0.1.2 tell 10.0.1.1, length 28"
	evt, ok := ParseLine("h1", "eth0", req, 1)
	if !ok || evt.Proto != "ARP" || evt.SubType != "arp_request" {
		t.Fatalf("expected arp_request, got ok=%v evt=%+v", ok, evt)
	}

	reply := "1700000000.0 ARP, Reply 10.0.1.2 is-at aa:bb:cc:dd:ee:ff, length 28"
	evt, ok = ParseLine("h2", "eth0", reply, 2)
	if !ok || evt.Proto != "ARP" || evt.SubType != "arp_reply" {
		t.Fatalf("expected arp_reply, got ok=%v evt=%+v", ok, evt)
	}
}

func TestParseLineMalformedIsDropped(t *testing.T) {
	if _, ok := ParseLine("h1", "eth0", "this is not a capture line", 1); ok {
		t.Fatalf("expected malformed line to be rejected")
	}
}
