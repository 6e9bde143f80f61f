// Package topology is the only component that sees the full device/link
// graph (spec.md §4.3). It sequences calls onto the Namespace Manager and
// Link Manager, allocates subnets and addresses, drives teardown in
// reverse dependency order, and exposes the six failure-injection verbs.
// Grounded on the teacher's orchestrator/server/server.go, which plays
// the same "one component owns the whole table, everything else is
// invoked, nothing calls back a pointer to it" role for sandboxes.
package topology

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/Kishor-9361/NET-sim/link"
	"github.com/Kishor-9361/NET-sim/model"
	"github.com/Kishor-9361/NET-sim/namespace"
	"github.com/Kishor-9361/NET-sim/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SessionSpawner is the subset of the PTY Session Manager that Topology
// Manager drives directly: pre-spawning on device creation and tearing
// down on removal. The terminal channel routing itself lives in the
// Control Server.
type SessionSpawner interface {
	Prespawn(ctx context.Context, device string)
	CloseDeviceSessions(device string)
}

// ObserverSpawner is the subset of the Packet Observer manager that
// Topology Manager drives: attach on interface creation, detach on
// interface/device removal.
type ObserverSpawner interface {
	Attach(ctx context.Context, device, iface string) error
	Detach(device, iface string)
}

type deviceEntry struct {
	mu     sync.Mutex
	device *model.Device
	nextIf int // next eth<N> to hand out

	// Switch-only bookkeeping: every endpoint bridged through this
	// device shares one /24 (spec.md §3). subnetOctet is 0 until the
	// first bridged link allocates it; nextHost hands out .1, .2, …
	// within it; bridgedLinks counts endpoints so the subnet is
	// released only when the last one goes.
	subnetOctet  int
	nextHost     int
	bridgedLinks int
}

// Manager is the Topology Manager.
type Manager struct {
	ns   *namespace.Manager
	link *link.Manager
	pty  SessionSpawner
	obs  ObserverSpawner

	subnets *SubnetAllocator
	tracer  trace.Tracer
	events  chan model.ComponentFailure

	graphMu sync.Mutex
	devices map[string]*deviceEntry
	links   map[string]*model.Link
}

func NewManager(ns *namespace.Manager, lnk *link.Manager, pty SessionSpawner, obs ObserverSpawner, subnetBase *net.IPNet, tracer trace.Tracer) *Manager {
	return &Manager{
		ns:      ns,
		link:    lnk,
		pty:     pty,
		obs:     obs,
		subnets: NewSubnetAllocator(subnetBase),
		tracer:  tracer,
		events:  make(chan model.ComponentFailure, 64),
		devices: make(map[string]*deviceEntry),
		links:   make(map[string]*model.Link),
	}
}

// Events exposes the channel PTY sessions and Observers report terminal
// failures on. The Control Server drains it to push out-of-band close
// frames to affected subscribers.
func (m *Manager) Events() <-chan model.ComponentFailure { return m.events }

// EventSink returns the send side of the same channel, so PTY sessions
// and Packet Observers can report failures without holding a reference
// back to the Topology Manager itself — wired in by main at startup.
func (m *Manager) EventSink() chan<- model.ComponentFailure { return m.events }

func (m *Manager) lockDevice(name string) (*deviceEntry, error) {
	m.graphMu.Lock()
	e, ok := m.devices[name]
	m.graphMu.Unlock()
	if !ok {
		return nil, model.NewError(model.ErrNotFound, fmt.Sprintf("device %q not found", name), nil)
	}
	e.mu.Lock()
	return e, nil
}

// lockDevicesSorted takes both device locks in device-name order to
// avoid the classic two-lock deadlock (spec.md §5).
func (m *Manager) lockDevicesSorted(a, b string) (*deviceEntry, *deviceEntry, error) {
	names := []string{a, b}
	sort.Strings(names)

	m.graphMu.Lock()
	ea, okA := m.devices[names[0]]
	eb, okB := m.devices[names[1]]
	m.graphMu.Unlock()
	if !okA {
		return nil, nil, model.NewError(model.ErrNotFound, fmt.Sprintf("device %q not found", names[0]), nil)
	}
	if !okB {
		return nil, nil, model.NewError(model.ErrNotFound, fmt.Sprintf("device %q not found", names[1]), nil)
	}
	ea.mu.Lock()
	eb.mu.Lock()

	if names[0] == a {
		return ea, eb, nil
	}
	return eb, ea, nil
}

// AddDevice creates the namespace, records the device, and pre-spawns
// its default PTY session so the first terminal attach binds to an
// already-running shell. Packet Observers are attached lazily, once an
// interface actually exists (add_link), matching spec.md §4.3's
// "attaches lazily on first interface" contract. If addr is non-empty
// it is assigned to the namespace's loopback immediately, per spec.md
// §4.3's add_device signature; an empty addr defers addressing to link
// creation.
func (m *Manager) AddDevice(ctx context.Context, name string, kind model.DeviceKind, x, y float64, addr string, prefix int) (*model.Device, error) {
	childCtx, span := m.tracer.Start(ctx, "topology-add-device", trace.WithAttributes(attribute.String("device.name", name)))
	defer span.End()

	m.graphMu.Lock()
	if _, exists := m.devices[name]; exists {
		m.graphMu.Unlock()
		return nil, model.NewError(model.ErrAlreadyExists, fmt.Sprintf("device %q already exists", name), nil)
	}
	m.graphMu.Unlock()

	dev, err := m.ns.Create(childCtx, name, kind)
	if err != nil {
		return nil, err
	}
	dev.Position = model.Position{X: x, Y: y}

	if model.OwnsBridge(kind) {
		if err := m.link.CreateBridge(childCtx, name); err != nil {
			m.ns.Destroy(childCtx, name)
			return nil, err
		}
	}

	if addr != "" {
		if err := m.ns.RegisterInterface(name, "lo", "", false); err != nil {
			m.ns.Destroy(childCtx, name)
			return nil, err
		}
		if err := m.ns.AssignAddress(childCtx, name, "lo", addr, prefix); err != nil {
			m.ns.Destroy(childCtx, name)
			return nil, err
		}
		dev.Interfaces = append(dev.Interfaces, model.Interface{Name: "lo", Addr: addr, Prefix: prefix, State: model.LinkUp})
	}

	m.graphMu.Lock()
	m.devices[name] = &deviceEntry{device: dev}
	m.graphMu.Unlock()

	if m.pty != nil {
		m.pty.Prespawn(childCtx, name)
	}

	telemetry.ReportEvent(childCtx, "device added", attribute.String("device.name", name), attribute.String("device.kind", string(kind)))
	return dev, nil
}

// RemoveDevice tears down everything owned by name in the order §4.3
// mandates: links, then PTY sessions, then Packet Observers, then the
// namespace itself. Idempotent.
func (m *Manager) RemoveDevice(ctx context.Context, name string) error {
	childCtx, span := m.tracer.Start(ctx, "topology-remove-device", trace.WithAttributes(attribute.String("device.name", name)))
	defer span.End()

	m.graphMu.Lock()
	entry, ok := m.devices[name]
	if !ok {
		m.graphMu.Unlock()
		return nil
	}
	delete(m.devices, name)
	m.graphMu.Unlock()

	entry.mu.Lock()
	var owned []string
	m.graphMu.Lock()
	for id, l := range m.links {
		if l.DeviceA == name || l.DeviceB == name {
			owned = append(owned, id)
		}
	}
	m.graphMu.Unlock()
	entry.mu.Unlock()

	for _, id := range owned {
		if err := m.RemoveLink(childCtx, id); err != nil {
			telemetry.ReportError(childCtx, err)
		}
	}

	if m.pty != nil {
		m.pty.CloseDeviceSessions(name)
	}
	if m.obs != nil {
		for _, iface := range entry.device.Interfaces {
			m.obs.Detach(name, iface.Name)
		}
	}

	if model.OwnsBridge(entry.device.Kind) {
		m.link.DestroyBridge(childCtx, name)
	}

	if err := m.ns.Destroy(childCtx, name); err != nil {
		return err
	}

	telemetry.ReportEvent(childCtx, "device removed", attribute.String("device.name", name))
	return nil
}

// AddLink realizes the veth pair via the Link Manager and records the
// link. A p2p link between two non-switch devices allocates the next
// /24 and assigns .1/.2; a switch endpoint goes through CreateSwitched
// instead (per the bridge ownership decision in spec.md §9), and every
// endpoint bridged through one switch shares that switch's subnet
// (spec.md §3) — allocated on the first bridged link, handing out the
// next free host octet to each endpoint after.
func (m *Manager) AddLink(ctx context.Context, devA, devB string, latencyMs int, bandwidthMbps, lossPct float64) (*model.Link, error) {
	childCtx, span := m.tracer.Start(ctx, "topology-add-link", trace.WithAttributes(
		attribute.String("device_a", devA), attribute.String("device_b", devB)))
	defer span.End()

	ea, eb, err := m.lockDevicesSorted(devA, devB)
	if err != nil {
		return nil, err
	}
	defer ea.mu.Unlock()
	defer eb.mu.Unlock()

	entryA, entryB := m.entryFor(devA, ea, eb), m.entryFor(devB, ea, eb)

	switchA := model.OwnsBridge(entryA.device.Kind)
	switchB := model.OwnsBridge(entryB.device.Kind)
	switched := switchA || switchB
	if switchA && switchB {
		return nil, model.NewError(model.ErrInvalidArgument, "cannot link two switches directly", nil)
	}

	linkID := newLinkID()
	ifaceA := nextIfaceName(entryA)
	ifaceB := nextIfaceName(entryB)

	shapeA := link.Shaping{LatencyMs: latencyMs, LossPct: lossPct, Mbps: bandwidthMbps}
	shapeB := shapeA

	var octet int
	var addrA, addrB string

	if switched {
		sw, swIface := entryA, ifaceA
		host, hostIface, hostShape := entryB, ifaceB, shapeB
		hostIsA := false
		if switchB {
			sw, swIface = entryB, ifaceB
			host, hostIface, hostShape = entryA, ifaceA, shapeA
			hostIsA = true
		}

		o, hostNum, fresh, err := m.allocBridgedHost(sw)
		if err != nil {
			return nil, err
		}
		octet = o
		hostAddr := m.subnets.Addr(octet, hostNum)
		if hostIsA {
			addrA = hostAddr
		} else {
			addrB = hostAddr
		}

		if err := m.link.CreateSwitched(childCtx, linkID, sw.device.Name, swIface,
			link.Endpoint{Device: host.device.Name, Iface: hostIface}, hostAddr, 24, hostShape); err != nil {
			sw.nextHost--
			if fresh {
				m.subnets.Release(octet)
				sw.subnetOctet = 0
			}
			return nil, err
		}
		sw.bridgedLinks++
	} else {
		n, _, err := m.subnets.Allocate()
		if err != nil {
			return nil, err
		}
		octet = n
		addrA = m.subnets.Addr(octet, 1)
		addrB = m.subnets.Addr(octet, 2)
		if err := m.link.CreateP2P(childCtx, linkID,
			link.Endpoint{Device: devA, Iface: ifaceA}, link.Endpoint{Device: devB, Iface: ifaceB},
			addrA, addrB, 24, shapeA, shapeB); err != nil {
			m.subnets.Release(octet)
			return nil, err
		}
	}
	cidr := m.subnets.CIDR(octet)

	// A switch-side bridge port carries no L3 address of its own.
	ifA := model.Interface{Name: ifaceA, State: model.LinkUp, LinkID: linkID}
	if addrA != "" {
		ifA.Addr, ifA.Prefix = addrA, 24
	}
	ifB := model.Interface{Name: ifaceB, State: model.LinkUp, LinkID: linkID, PeerEnd: true}
	if addrB != "" {
		ifB.Addr, ifB.Prefix = addrB, 24
	}
	entryA.device.Interfaces = append(entryA.device.Interfaces, ifA)
	entryB.device.Interfaces = append(entryB.device.Interfaces, ifB)

	rec := &model.Link{
		ID: linkID, DeviceA: devA, IfaceA: ifaceA, DeviceB: devB, IfaceB: ifaceB,
		Switched: switched, Subnet: cidr, SubnetOctet: octet,
		LatencyMs: latencyMs, BandwidthM: bandwidthMbps, LossPct: lossPct,
	}
	m.graphMu.Lock()
	m.links[linkID] = rec
	m.graphMu.Unlock()

	if m.obs != nil {
		m.obs.Attach(childCtx, devA, ifaceA)
		m.obs.Attach(childCtx, devB, ifaceB)
	}

	telemetry.ReportEvent(childCtx, "link added", attribute.String("link.id", linkID), attribute.String("subnet", cidr))
	return rec, nil
}

// RemoveLink tears down shaping, the veth pair, releases addresses, and
// frees the subnet. Idempotent.
func (m *Manager) RemoveLink(ctx context.Context, linkID string) error {
	childCtx, span := m.tracer.Start(ctx, "topology-remove-link", trace.WithAttributes(attribute.String("link.id", linkID)))
	defer span.End()

	m.graphMu.Lock()
	rec, ok := m.links[linkID]
	if ok {
		delete(m.links, linkID)
	}
	m.graphMu.Unlock()
	if !ok {
		return nil
	}

	// A p2p link owns its /24 outright; a bridged link's subnet belongs
	// to the switch and is released only when its last endpoint goes.
	releaseOctet := !rec.Switched
	ea, eb, err := m.lockDevicesSorted(rec.DeviceA, rec.DeviceB)
	if err == nil {
		entryA, entryB := m.entryFor(rec.DeviceA, ea, eb), m.entryFor(rec.DeviceB, ea, eb)
		removeIface(entryA.device, rec.IfaceA)
		removeIface(entryB.device, rec.IfaceB)
		if rec.Switched {
			sw := entryA
			if model.OwnsBridge(entryB.device.Kind) {
				sw = entryB
			}
			releaseOctet = releaseBridgedLink(sw)
		}
		ea.mu.Unlock()
		eb.mu.Unlock()
	} else {
		// One endpoint is already mid-removal; clean up whichever side
		// is still with us. If the vanished side was the switch itself,
		// its subnet is freed here — Release is a set insert, so the
		// repeat from its other links being removed is harmless.
		swSeen := false
		for _, side := range []struct{ dev, iface string }{{rec.DeviceA, rec.IfaceA}, {rec.DeviceB, rec.IfaceB}} {
			e, lerr := m.lockDevice(side.dev)
			if lerr != nil {
				continue
			}
			removeIface(e.device, side.iface)
			if rec.Switched && model.OwnsBridge(e.device.Kind) {
				swSeen = true
				releaseOctet = releaseBridgedLink(e)
			}
			e.mu.Unlock()
		}
		if rec.Switched && !swSeen {
			releaseOctet = true
		}
	}

	if m.obs != nil {
		m.obs.Detach(rec.DeviceA, rec.IfaceA)
		m.obs.Detach(rec.DeviceB, rec.IfaceB)
	}

	if err := m.link.Destroy(childCtx, rec.DeviceA, rec.IfaceA, rec.DeviceB, rec.IfaceB); err != nil {
		return err
	}

	m.ns.Addresses().ReleaseAll(rec.DeviceA, rec.IfaceA)
	m.ns.Addresses().ReleaseAll(rec.DeviceB, rec.IfaceB)

	if releaseOctet && rec.SubnetOctet > 0 {
		m.subnets.Release(rec.SubnetOctet)
	}

	telemetry.ReportEvent(childCtx, "link removed", attribute.String("link.id", linkID))
	return nil
}

// SetGateway sets device's default route, first checking gw is on a
// subnet one of the device's interfaces actually owns.
func (m *Manager) SetGateway(ctx context.Context, device, gw string) error {
	entry, err := m.lockDevice(device)
	if err != nil {
		return err
	}
	defer entry.mu.Unlock()

	onSubnet := false
	for _, iface := range entry.device.Interfaces {
		if iface.Addr == "" {
			continue
		}
		if sameSubnet(iface.Addr, gw, iface.Prefix) {
			onSubnet = true
			break
		}
	}
	if !onSubnet {
		return model.NewError(model.ErrInvalidArgument, fmt.Sprintf("gateway %s is not reachable from any interface of %q", gw, device), nil)
	}

	if err := m.ns.SetDefaultGateway(ctx, device, gw); err != nil {
		return err
	}
	entry.device.Gateway = gw
	return nil
}

// Inspect returns the merged view of a device: kind, interfaces,
// routes, ARP, and failures.
func (m *Manager) Inspect(ctx context.Context, device string) (*model.Device, *namespace.Inspection, error) {
	entry, err := m.lockDevice(device)
	if err != nil {
		return nil, nil, err
	}
	snapshot := *entry.device
	snapshot.Interfaces = append([]model.Interface(nil), entry.device.Interfaces...)
	snapshot.Failures = copyFailures(entry.device.Failures)
	entry.mu.Unlock()

	insp, err := m.ns.Inspect(ctx, device)
	if err != nil {
		return nil, nil, err
	}
	return &snapshot, insp, nil
}

// Shutdown tears down every device currently known to the manager,
// which in turn removes their links, PTY sessions, observers, and
// namespaces in the usual §4.3 order. It is the top-level cleanup the
// process wires to SIGINT/SIGTERM so that no namespace or veth
// outlives the server (spec.md §8 scenario 6). Errors are collected
// and reported but never abort the sweep: a stuck device must not
// block cleanup of the rest.
func (m *Manager) Shutdown(ctx context.Context) []error {
	m.graphMu.Lock()
	names := make([]string, 0, len(m.devices))
	for name := range m.devices {
		names = append(names, name)
	}
	m.graphMu.Unlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := m.RemoveDevice(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("remove device %q: %w", name, err))
		}
	}
	return errs
}

// Snapshot returns the full device/link graph.
func (m *Manager) Snapshot() ([]model.Device, []model.Link) {
	m.graphMu.Lock()
	names := make([]string, 0, len(m.devices))
	for name := range m.devices {
		names = append(names, name)
	}
	linkList := make([]model.Link, 0, len(m.links))
	for _, l := range m.links {
		linkList = append(linkList, *l)
	}
	m.graphMu.Unlock()
	sort.Strings(names)

	devices := make([]model.Device, 0, len(names))
	for _, name := range names {
		m.graphMu.Lock()
		entry := m.devices[name]
		m.graphMu.Unlock()
		if entry == nil {
			continue
		}
		entry.mu.Lock()
		d := *entry.device
		d.Interfaces = append([]model.Interface(nil), entry.device.Interfaces...)
		d.Failures = copyFailures(entry.device.Failures)
		entry.mu.Unlock()
		devices = append(devices, d)
	}
	return devices, linkList
}

func (m *Manager) entryFor(name string, ea, eb *deviceEntry) *deviceEntry {
	if ea.device.Name == name {
		return ea
	}
	return eb
}

func nextIfaceName(e *deviceEntry) string {
	n := e.nextIf
	e.nextIf++
	return fmt.Sprintf("eth%d", n)
}

// allocBridgedHost reserves the next host address on sw's shared
// subnet, allocating the subnet itself on the switch's first bridged
// link (spec.md §3: switch-bridged groups share a single subnet).
// fresh reports whether this call allocated the subnet, so a failed
// link creation can roll it back. Caller holds sw.mu.
func (m *Manager) allocBridgedHost(sw *deviceEntry) (octet, host int, fresh bool, err error) {
	fresh = sw.subnetOctet == 0
	if fresh {
		n, _, aerr := m.subnets.Allocate()
		if aerr != nil {
			return 0, 0, false, aerr
		}
		sw.subnetOctet = n
		sw.nextHost = 0
	}
	if sw.nextHost >= 254 {
		return 0, 0, false, model.NewError(model.ErrResourceExhausted,
			fmt.Sprintf("no host addresses left on %s", m.subnets.CIDR(sw.subnetOctet)), nil)
	}
	sw.nextHost++
	return sw.subnetOctet, sw.nextHost, fresh, nil
}

// releaseBridgedLink drops one bridged endpoint from a switch's
// bookkeeping and reports whether the switch's shared subnet is now
// unused and should be released. Caller holds e.mu.
func releaseBridgedLink(e *deviceEntry) bool {
	if e.bridgedLinks > 0 {
		e.bridgedLinks--
	}
	if e.bridgedLinks > 0 {
		return false
	}
	e.subnetOctet = 0
	e.nextHost = 0
	return true
}

func removeIface(d *model.Device, iface string) {
	for i, f := range d.Interfaces {
		if f.Name == iface {
			d.Interfaces = append(d.Interfaces[:i], d.Interfaces[i+1:]...)
			return
		}
	}
}

func copyFailures(in map[string]model.Failure) map[string]model.Failure {
	out := make(map[string]model.Failure, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
