package topology

import (
	"net"
	"testing"

	"github.com/Kishor-9361/NET-sim/model"
)

func TestSubnetAllocatorSequential(t *testing.T) {
	s := NewSubnetAllocator(nil)
	n1, cidr1, err := s.Allocate()
	if err != nil || n1 != 1 || cidr1 != "10.0.1.0/24" {
		t.Fatalf("got (%d, %q, %v), want (1, 10.0.1.0/24, nil)", n1, cidr1, err)
	}
	n2, cidr2, err := s.Allocate()
	if err != nil || n2 != 2 || cidr2 != "10.0.2.0/24" {
		t.Fatalf("got (%d, %q, %v), want (2, 10.0.2.0/24, nil)", n2, cidr2, err)
	}
}

func TestSubnetAllocatorReuseFreed(t *testing.T) {
	s := NewSubnetAllocator(nil)
	n1, _, _ := s.Allocate()
	s.Release(n1)
	n2, _, err := s.Allocate()
	if err != nil || n2 != n1 {
		t.Fatalf("expected freed octet %d to be reused, got %d (err %v)", n1, n2, err)
	}
}

func TestSubnetAllocatorExhaustion(t *testing.T) {
	s := NewSubnetAllocator(nil)
	for i := 1; i <= 255; i++ {
		if _, _, err := s.Allocate(); err != nil {
			t.Fatalf("unexpected error allocating octet %d: %v", i, err)
		}
	}
	_, _, err := s.Allocate()
	if err == nil {
		t.Fatalf("expected ResourceExhausted past 255 allocations")
	}
	if model.KindOf(err) != model.ErrResourceExhausted {
		t.Fatalf("expected ErrResourceExhausted, got %v", model.KindOf(err))
	}
}

func TestSubnetAllocatorCustomBase(t *testing.T) {
	_, base, err := net.ParseCIDR("172.16.0.0/16")
	if err != nil {
		t.Fatalf("parse base: %v", err)
	}
	s := NewSubnetAllocator(base)

	n, cidr, err := s.Allocate()
	if err != nil || cidr != "172.16.1.0/24" {
		t.Fatalf("got (%q, %v), want (172.16.1.0/24, nil)", cidr, err)
	}
	if got := s.Addr(n, 2); got != "172.16.1.2" {
		t.Fatalf("Addr(%d, 2) = %q, want 172.16.1.2", n, got)
	}
	if got := s.CIDR(n); got != "172.16.1.0/24" {
		t.Fatalf("CIDR(%d) = %q, want 172.16.1.0/24", n, got)
	}
}

func TestSameSubnet(t *testing.T) {
	if !sameSubnet("10.0.1.1", "10.0.1.2", 24) {
		t.Fatalf("expected 10.0.1.1 and 10.0.1.2 to share a /24")
	}
	if sameSubnet("10.0.1.1", "10.0.2.2", 24) {
		t.Fatalf("expected 10.0.1.1 and 10.0.2.2 not to share a /24")
	}
}
