package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsThroughWrapping(t *testing.T) {
	base := NewError(ErrAddressConflict, "address taken", nil)
	wrapped := fmt.Errorf("assign address: %w", base)

	if got := KindOf(wrapped); got != ErrAddressConflict {
		t.Fatalf("KindOf(wrapped) = %v, want AddressConflict", got)
	}
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != ErrInternal {
		t.Fatalf("KindOf(plain error) = %v, want Internal", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("KindOf(nil) = %v, want empty", got)
	}
}

func TestNewInternalStampsCorrelationID(t *testing.T) {
	a := NewInternal("bug", nil)
	b := NewInternal("bug", nil)
	if a.CorrelationID == "" {
		t.Fatalf("expected a correlation id")
	}
	if a.CorrelationID == b.CorrelationID {
		t.Fatalf("expected distinct correlation ids, both %q", a.CorrelationID)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("EEXIST")
	err := Wrapf(ErrAlreadyExists, cause, "create namespace %q", "h1")
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the cause through Unwrap")
	}
}

func TestDeviceKindValid(t *testing.T) {
	for _, k := range []DeviceKind{KindHost, KindRouter, KindSwitch, KindDNSServer} {
		if !k.Valid() {
			t.Errorf("kind %q should be valid", k)
		}
	}
	if DeviceKind("toaster").Valid() {
		t.Fatalf("unknown kind should be invalid")
	}
}

func TestKindDispatch(t *testing.T) {
	if !ForwardingDefault(KindRouter) {
		t.Fatalf("routers must default to forwarding enabled")
	}
	for _, k := range []DeviceKind{KindHost, KindSwitch, KindDNSServer} {
		if ForwardingDefault(k) {
			t.Errorf("kind %q must not default to forwarding", k)
		}
	}
	if !OwnsBridge(KindSwitch) {
		t.Fatalf("switches own a bridge")
	}
	if OwnsBridge(KindHost) || OwnsBridge(KindRouter) {
		t.Fatalf("only switches own a bridge")
	}
}

func TestFailureKeyDistinguishesKindAndIface(t *testing.T) {
	a := Failure{Kind: FailurePacketLoss, Iface: "eth0"}
	b := Failure{Kind: FailurePacketLoss, Iface: "eth1"}
	c := Failure{Kind: FailureLatency, Iface: "eth0"}

	if a.Key() == b.Key() {
		t.Fatalf("same kind on different ifaces must not collide")
	}
	if a.Key() == c.Key() {
		t.Fatalf("different kinds on the same iface must not collide")
	}
	if a.Key() != (Failure{Kind: FailurePacketLoss, Iface: "eth0", Pct: 50}).Key() {
		t.Fatalf("parameters must not be part of the slot key")
	}
}
