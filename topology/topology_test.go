package topology

import (
	"testing"

	"github.com/Kishor-9361/NET-sim/model"
)

func switchEntry(name string) *deviceEntry {
	return &deviceEntry{device: &model.Device{Name: name, Kind: model.KindSwitch}}
}

func TestBridgedEndpointsShareOneSubnet(t *testing.T) {
	m := &Manager{subnets: NewSubnetAllocator(nil)}
	sw := switchEntry("sw1")

	var octets []int
	var hosts []int
	for i := 0; i < 3; i++ {
		octet, host, fresh, err := m.allocBridgedHost(sw)
		if err != nil {
			t.Fatalf("endpoint %d: %v", i, err)
		}
		if fresh != (i == 0) {
			t.Fatalf("endpoint %d: fresh = %v, want %v", i, fresh, i == 0)
		}
		sw.bridgedLinks++
		octets = append(octets, octet)
		hosts = append(hosts, host)
	}

	if octets[0] != octets[1] || octets[1] != octets[2] {
		t.Fatalf("bridged endpoints landed on different subnets: %v", octets)
	}
	if hosts[0] != 1 || hosts[1] != 2 || hosts[2] != 3 {
		t.Fatalf("expected host octets 1,2,3 within the shared subnet, got %v", hosts)
	}
	if got := m.subnets.Addr(octets[1], hosts[1]); got != "10.0.1.2" {
		t.Fatalf("second endpoint address = %q, want 10.0.1.2", got)
	}

	// A p2p link created alongside must not collide with the switch's
	// subnet.
	n, _, err := m.subnets.Allocate()
	if err != nil {
		t.Fatalf("allocate p2p subnet: %v", err)
	}
	if n == octets[0] {
		t.Fatalf("p2p allocation reused the switch's live subnet %d", n)
	}
}

func TestSwitchSubnetReleasedWithLastEndpoint(t *testing.T) {
	m := &Manager{subnets: NewSubnetAllocator(nil)}
	sw := switchEntry("sw1")

	octet, _, _, err := m.allocBridgedHost(sw)
	if err != nil {
		t.Fatalf("first endpoint: %v", err)
	}
	sw.bridgedLinks++
	if _, _, _, err := m.allocBridgedHost(sw); err != nil {
		t.Fatalf("second endpoint: %v", err)
	}
	sw.bridgedLinks++

	if releaseBridgedLink(sw) {
		t.Fatalf("subnet released while an endpoint is still bridged")
	}
	if !releaseBridgedLink(sw) {
		t.Fatalf("subnet not released with the last endpoint")
	}
	if sw.subnetOctet != 0 || sw.nextHost != 0 {
		t.Fatalf("switch bookkeeping not reset: octet=%d nextHost=%d", sw.subnetOctet, sw.nextHost)
	}

	m.subnets.Release(octet)
	n, _, err := m.subnets.Allocate()
	if err != nil || n != octet {
		t.Fatalf("expected freed switch subnet %d to be reusable, got %d (err %v)", octet, n, err)
	}

	// The next bridged link starts a fresh subnet.
	o2, h2, fresh, err := m.allocBridgedHost(sw)
	if err != nil || !fresh || h2 != 1 {
		t.Fatalf("expected a fresh subnet with host .1 after release, got octet=%d host=%d fresh=%v err=%v", o2, h2, fresh, err)
	}
}

func TestAllocBridgedHostExhaustsHostOctets(t *testing.T) {
	m := &Manager{subnets: NewSubnetAllocator(nil)}
	sw := switchEntry("sw1")

	for i := 0; i < 254; i++ {
		if _, _, _, err := m.allocBridgedHost(sw); err != nil {
			t.Fatalf("endpoint %d: %v", i, err)
		}
	}
	_, _, _, err := m.allocBridgedHost(sw)
	if err == nil {
		t.Fatalf("expected ResourceExhausted past 254 bridged endpoints")
	}
	if model.KindOf(err) != model.ErrResourceExhausted {
		t.Fatalf("expected ErrResourceExhausted, got %v", model.KindOf(err))
	}
}
