package topology

import (
	"fmt"
	"net"
	"sync"

	"github.com/Kishor-9361/NET-sim/model"
)

// SubnetAllocator hands out /24 blocks carved from a configurable base
// network (config's subnet_base, 10.0.0.0/16 by default) in order, per
// spec.md §3's Subnet Allocator State. It is a process-wide singleton
// with a defined init (NewSubnetAllocator) and no implicit reset:
// teardown happens one Release call at a time as links are removed.
type SubnetAllocator struct {
	mu   sync.Mutex
	base net.IP // first two octets of every handed-out /24
	next int    // 1..255, wraps to ResourceExhausted past 255
	free map[int]bool
}

// NewSubnetAllocator builds an allocator carving /24s out of base. A
// nil base falls back to 10.0.0.0/16.
func NewSubnetAllocator(base *net.IPNet) *SubnetAllocator {
	ip := net.IPv4(10, 0, 0, 0).To4()
	if base != nil {
		if v4 := base.IP.To4(); v4 != nil {
			ip = v4
		}
	}
	return &SubnetAllocator{base: ip, next: 1, free: make(map[int]bool)}
}

// Allocate returns the next /24 octet, preferring a released slot over
// advancing the high-water mark so that a long-running server doesn't
// exhaust the space purely from churn.
func (s *SubnetAllocator) Allocate() (int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for n := range s.free {
		delete(s.free, n)
		return n, s.CIDR(n), nil
	}

	if s.next > 255 {
		return 0, "", model.NewError(model.ErrResourceExhausted, fmt.Sprintf("subnet pool exhausted past %s", s.CIDR(255)), nil)
	}
	n := s.next
	s.next++
	return n, s.CIDR(n), nil
}

// Release returns octet n to the free pool for reuse. Releasing an
// already-free octet is a no-op.
func (s *SubnetAllocator) Release(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return
	}
	s.free[n] = true
}

// CIDR returns the /24 network for octet n under the allocator's base.
func (s *SubnetAllocator) CIDR(n int) string {
	return fmt.Sprintf("%d.%d.%d.0/24", s.base[0], s.base[1], n)
}

// Addr returns host address `host` within octet n's /24.
func (s *SubnetAllocator) Addr(n, host int) string {
	return fmt.Sprintf("%d.%d.%d.%d", s.base[0], s.base[1], n, host)
}
