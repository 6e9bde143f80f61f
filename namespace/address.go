package namespace

import (
	"fmt"
	"sync"

	"github.com/Kishor-9361/NET-sim/model"
)

// owner identifies which (device, iface) currently holds an address.
type owner struct {
	device string
	iface  string
}

// AddressRegistry is the flat, process-wide map from address to owner
// described in spec.md §4.1. Queries and writes are O(1) under a single
// mutex; contention is negligible (spec.md §5).
type AddressRegistry struct {
	mu     sync.Mutex
	byAddr map[string]owner
}

func NewAddressRegistry() *AddressRegistry {
	return &AddressRegistry{byAddr: make(map[string]owner)}
}

// Reserve claims addr for (device, iface). Fails AddressConflict if addr
// is already held by a different owner.
func (r *AddressRegistry) Reserve(addr, device, iface string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byAddr[addr]; ok {
		if existing.device == device && existing.iface == iface {
			return nil
		}
		return model.NewError(model.ErrAddressConflict,
			fmt.Sprintf("address %s already assigned to %s:%s", addr, existing.device, existing.iface), nil)
	}
	r.byAddr[addr] = owner{device: device, iface: iface}
	return nil
}

// Release frees a single address.
func (r *AddressRegistry) Release(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byAddr, addr)
}

// ReleaseAll frees every address held by (device, iface), used when an
// interface or device is torn down.
func (r *AddressRegistry) ReleaseAll(device, iface string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, o := range r.byAddr {
		if o.device == device && o.iface == iface {
			delete(r.byAddr, addr)
		}
	}
}

// Owner reports whether addr is currently assigned, and to whom.
func (r *AddressRegistry) Owner(addr string) (device, iface string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, found := r.byAddr[addr]
	return o.device, o.iface, found
}
