package namespace

import (
	"testing"

	"github.com/Kishor-9361/NET-sim/model"
)

func TestAddressRegistryReserveConflict(t *testing.T) {
	r := NewAddressRegistry()
	if err := r.Reserve("10.0.1.1", "h1", "eth0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := r.Reserve("10.0.1.1", "h2", "eth0")
	if err == nil {
		t.Fatalf("expected AddressConflict, got nil")
	}
	if model.KindOf(err) != model.ErrAddressConflict {
		t.Fatalf("expected ErrAddressConflict, got %v", model.KindOf(err))
	}
}

func TestAddressRegistryReserveIdempotent(t *testing.T) {
	r := NewAddressRegistry()
	if err := r.Reserve("10.0.1.1", "h1", "eth0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Reserve("10.0.1.1", "h1", "eth0"); err != nil {
		t.Fatalf("expected idempotent reserve to succeed, got %v", err)
	}
}

func TestAddressRegistryReleaseAll(t *testing.T) {
	r := NewAddressRegistry()
	r.Reserve("10.0.1.1", "h1", "eth0")
	r.Reserve("10.0.1.2", "h1", "eth0")
	r.Reserve("10.0.2.1", "h1", "eth1")
	r.ReleaseAll("h1", "eth0")

	if _, _, ok := r.Owner("10.0.1.1"); ok {
		t.Fatalf("expected 10.0.1.1 released")
	}
	if _, _, ok := r.Owner("10.0.2.1"); !ok {
		t.Fatalf("expected 10.0.2.1 to remain held")
	}
}
