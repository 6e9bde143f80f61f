// Package model holds the data types shared across the orchestrator:
// device/link records, the failure taxonomy, packet events, and the
// error kinds returned to clients.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeviceKind is the tagged variant for a device. Behaviour that differs by
// kind (forwarding, bridge ownership, gateway rules) is dispatched in
// small functions elsewhere in the codebase, never through an interface
// hierarchy.
type DeviceKind string

const (
	KindHost      DeviceKind = "host"
	KindRouter    DeviceKind = "router"
	KindSwitch    DeviceKind = "switch"
	KindDNSServer DeviceKind = "dns_server"
)

func (k DeviceKind) Valid() bool {
	switch k {
	case KindHost, KindRouter, KindSwitch, KindDNSServer:
		return true
	default:
		return false
	}
}

// ForwardingDefault reports whether IPv4 forwarding is enabled by default
// for a freshly created device of this kind.
func ForwardingDefault(k DeviceKind) bool {
	return k == KindRouter
}

// OwnsBridge reports whether a device of this kind owns an in-namespace
// bridge that its link endpoints attach to.
func OwnsBridge(k DeviceKind) bool {
	return k == KindSwitch
}

// LinkState is the administrative state of an interface.
type LinkState string

const (
	LinkUp   LinkState = "up"
	LinkDown LinkState = "down"
)

// Position is an opaque coordinate hint. The orchestrator stores it but
// never interprets it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Interface describes one network interface owned by a device.
type Interface struct {
	Name    string    `json:"name"`
	Addr    string    `json:"addr,omitempty"`   // dotted-quad, empty if unassigned
	Prefix  int       `json:"prefix,omitempty"` // CIDR prefix length, meaningful only if Addr != ""
	State   LinkState `json:"state"`
	LinkID  string    `json:"link_id,omitempty"` // the Link this interface belongs to, if any
	PeerEnd bool      `json:"-"`                 // true if this is the "B" side of a p2p link
}

// FailureKind is one of the six failure-injection verbs.
type FailureKind string

const (
	FailureInterfaceDown    FailureKind = "interface_down"
	FailureBlockICMP        FailureKind = "block_icmp"
	FailureSilentRouter     FailureKind = "silent_router"
	FailurePacketLoss       FailureKind = "packet_loss"
	FailureLatency          FailureKind = "latency"
	FailureBandwidthLimit   FailureKind = "bandwidth_limit"
)

// Failure is one active fault on a device. Iface is empty for
// block_icmp/silent_router, which are device-wide.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Iface   string      `json:"iface,omitempty"`
	Pct     float64     `json:"pct,omitempty"`
	Ms      int         `json:"ms,omitempty"`
	Mbps    float64     `json:"mbps,omitempty"`
}

// Key identifies a failure slot: at most one failure per (kind, iface).
func (f Failure) Key() string {
	return string(f.Kind) + "|" + f.Iface
}

// Device is the in-memory record the Topology Manager keeps per device.
// It mirrors, but does not replace, kernel state: on any doubt the kernel
// is authoritative and Device is rebuilt from an inspect() call.
type Device struct {
	Name        string                 `json:"name"`
	Kind        DeviceKind             `json:"kind"`
	NetNS       string                 `json:"netns"`
	Interfaces  []Interface            `json:"interfaces"`
	Forwarding  bool                   `json:"forwarding"`
	Gateway     string                 `json:"gateway,omitempty"`
	Failures    map[string]Failure     `json:"failures"`
	Position    Position               `json:"position"`
}

// Link is the record for one realized veth pair (possibly bridged).
type Link struct {
	ID          string `json:"id"`
	DeviceA     string `json:"device_a"`
	IfaceA      string `json:"iface_a"`
	DeviceB     string `json:"device_b"`
	IfaceB      string `json:"iface_b"`
	Switched    bool   `json:"switched"` // true if one end terminates on a switch bridge
	Subnet      string `json:"subnet"`
	SubnetOctet int    `json:"-"` // allocator slot backing Subnet; shared across a switch's links
	LatencyMs   int     `json:"latency_ms,omitempty"`
	BandwidthM  float64 `json:"bandwidth_mbps,omitempty"`
	LossPct     float64 `json:"loss_pct,omitempty"`
}

// PacketEvent is one parsed capture record.
type PacketEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Device    string    `json:"device"`
	Iface     string    `json:"iface"`
	Proto     string    `json:"proto"` // ICMP, TCP, UDP, ARP, OTHER
	Src       string    `json:"src"`
	Dst       string    `json:"dst"`
	SrcPort   int       `json:"src_port,omitempty"`
	DstPort   int       `json:"dst_port,omitempty"`
	SubType   string    `json:"sub_type,omitempty"`
	Length    int       `json:"length"`
	TTL       int       `json:"ttl,omitempty"`
	Seq       uint64    `json:"seq"`
	Dropped   uint64    `json:"dropped,omitempty"`
}

// ComponentFailure is how a PTY session or Packet Observer reports a
// terminal failure upward. It travels over a channel rather than a back
// reference to whatever owns the session/observer, avoiding the cyclic
// ownership the design notes call out between the Topology Manager and
// the components it spawns.
type ComponentFailure struct {
	Device  string
	Iface   string
	Channel string // PTY channel id, empty for observer events
	Reason  string
}

// ErrorKind is the taxonomy from spec.md §7. It is a value, not a Go
// error type, so it can travel over the wire unchanged.
type ErrorKind string

const (
	ErrInvalidArgument   ErrorKind = "InvalidArgument"
	ErrNotFound          ErrorKind = "NotFound"
	ErrAlreadyExists     ErrorKind = "AlreadyExists"
	ErrAddressConflict   ErrorKind = "AddressConflict"
	ErrPrivilege         ErrorKind = "Privilege"
	ErrKernel            ErrorKind = "KernelError"
	ErrResourceExhausted ErrorKind = "ResourceExhausted"
	ErrTimeout           ErrorKind = "Timeout"
	ErrInternal          ErrorKind = "Internal"
)

// Error is the structured error every control operation returns on
// failure. It wraps an underlying cause while carrying a stable Kind that
// clients can switch on.
type Error struct {
	Kind          ErrorKind
	Message       string
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func Wrapf(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NewInternal builds an ErrInternal error stamped with a fresh
// correlation id (spec.md §7: "includes a correlation id for logs").
// Unlike the other error kinds, which are expected client-visible
// failures, Internal always indicates a bug, so every occurrence gets
// an id an operator can grep the logs for.
func NewInternal(msg string, cause error) *Error {
	return &Error{Kind: ErrInternal, Message: msg, CorrelationID: uuid.NewString(), Cause: cause}
}

// KindOf extracts the ErrorKind from err, defaulting to Internal for
// errors that were not constructed through this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if err == nil {
		return ""
	}
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return ErrInternal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
