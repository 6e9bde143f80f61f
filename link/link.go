// Package link owns veth pairs, bridges, attachments, and the netem/tbf
// traffic-shaping qdiscs installed on them (spec.md §4.2). Grounded on
// the teacher's orchestrator/sandbox/network.go veth/namespace wiring,
// generalized from "exactly one veth per sandbox" to arbitrary p2p and
// switched links between named devices.
package link

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"syscall"

	"github.com/Kishor-9361/NET-sim/model"
	"github.com/Kishor-9361/NET-sim/namespace"
	"github.com/Kishor-9361/NET-sim/telemetry"
	"github.com/coreos/go-iptables/iptables"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Shaping parameters for one side of a link, per spec.md §4.2's exact
// mapping: latency -> netem delay, loss -> netem loss, bandwidth -> tbf.
type Shaping struct {
	LatencyMs int
	LossPct   float64
	Mbps      float64
}

func (s Shaping) isZero() bool {
	return s.LatencyMs == 0 && s.LossPct == 0 && s.Mbps == 0
}

// Endpoint names one side of a link as it will appear inside the owning
// device's namespace.
type Endpoint struct {
	Device string
	Iface  string
}

// Manager is the Link Manager. It holds no graph of its own — the
// Topology Manager is the only component that remembers which links
// exist — but it does need the Namespace Manager to resolve device names
// to live namespace handles.
type Manager struct {
	ns     *namespace.Manager
	tracer trace.Tracer
}

func NewManager(ns *namespace.Manager, tracer trace.Tracer) *Manager {
	return &Manager{ns: ns, tracer: tracer}
}

func randomVethName() string {
	b := make([]byte, 4)
	rand.Read(b)
	return "veth-" + hex.EncodeToString(b)
}

// CreateP2P materializes a veth pair between two non-switch endpoints,
// assigns addresses, brings both ends up, and installs optional shaping.
// Any failure rolls back every step already completed.
func (m *Manager) CreateP2P(ctx context.Context, linkID string, a, b Endpoint, addrA, addrB string, prefix int, shapeA, shapeB Shaping) (err error) {
	childCtx, span := m.tracer.Start(ctx, "link-create-p2p", trace.WithAttributes(
		attribute.String("link.id", linkID),
		attribute.String("a.device", a.Device), attribute.String("a.iface", a.Iface),
		attribute.String("b.device", b.Device), attribute.String("b.iface", b.Iface),
	))
	defer span.End()

	nsA, errA := m.ns.NsHandle(a.Device)
	if errA != nil {
		return errA
	}
	nsB, errB := m.ns.NsHandle(b.Device)
	if errB != nil {
		return errB
	}

	hostVeth := randomVethName()
	peerVeth := randomVethName()

	var created []func()
	rollback := func() {
		for i := len(created) - 1; i >= 0; i-- {
			created[i]()
		}
	}
	defer func() {
		if err != nil {
			rollback()
		}
	}()

	// Create the pair in the host namespace, then move each end into
	// its target namespace under the caller-chosen interface name.
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: hostVeth},
		PeerName:  peerVeth,
	}
	if err = netlink.LinkAdd(veth); err != nil {
		return classifyErr(err, "create veth pair for link %s", linkID)
	}
	created = append(created, func() {
		if l, e := netlink.LinkByName(hostVeth); e == nil {
			netlink.LinkDel(l)
		}
	})
	telemetry.ReportEvent(childCtx, "veth pair created", attribute.String("host_veth", hostVeth), attribute.String("peer_veth", peerVeth))

	if err = moveAndRename(hostVeth, nsA, a.Iface); err != nil {
		return classifyErr(err, "move %s into %s namespace", hostVeth, a.Device)
	}
	if err = moveAndRename(peerVeth, nsB, b.Iface); err != nil {
		return classifyErr(err, "move %s into %s namespace", peerVeth, b.Device)
	}

	if err = bringUp(nsA, a.Iface); err != nil {
		return classifyErr(err, "bring up %s:%s", a.Device, a.Iface)
	}
	if err = bringUp(nsB, b.Iface); err != nil {
		return classifyErr(err, "bring up %s:%s", b.Device, b.Iface)
	}

	if err = m.ns.RegisterInterface(a.Device, a.Iface, linkID, false); err != nil {
		return err
	}
	if err = m.ns.RegisterInterface(b.Device, b.Iface, linkID, true); err != nil {
		return err
	}

	if addrA != "" {
		if err = m.ns.AssignAddress(childCtx, a.Device, a.Iface, addrA, prefix); err != nil {
			return err
		}
	}
	if addrB != "" {
		if err = m.ns.AssignAddress(childCtx, b.Device, b.Iface, addrB, prefix); err != nil {
			return err
		}
	}

	if !shapeA.isZero() {
		if err = m.applyShaping(nsA, a.Iface, shapeA); err != nil {
			return err
		}
	}
	if !shapeB.isZero() {
		if err = m.applyShaping(nsB, b.Iface, shapeB); err != nil {
			return err
		}
	}

	telemetry.ReportEvent(childCtx, "p2p link established", attribute.String("link.id", linkID))
	return nil
}

// CreateSwitched attaches one veth end to bridgeDev's bridge and moves
// the other end into endpoint's namespace.
func (m *Manager) CreateSwitched(ctx context.Context, linkID string, bridgeDev string, bridgeIface string, endpoint Endpoint, addr string, prefix int, shape Shaping) (err error) {
	childCtx, span := m.tracer.Start(ctx, "link-create-switched", trace.WithAttributes(
		attribute.String("link.id", linkID), attribute.String("bridge.device", bridgeDev), attribute.String("endpoint.device", endpoint.Device),
	))
	defer span.End()

	bridgeNS, errA := m.ns.NsHandle(bridgeDev)
	if errA != nil {
		return errA
	}
	endpointNS, errB := m.ns.NsHandle(endpoint.Device)
	if errB != nil {
		return errB
	}

	hostVeth := randomVethName()
	peerVeth := randomVethName()

	var created []func()
	rollback := func() {
		for i := len(created) - 1; i >= 0; i-- {
			created[i]()
		}
	}
	defer func() {
		if err != nil {
			rollback()
		}
	}()

	veth := &netlink.Veth{LinkAttrs: netlink.LinkAttrs{Name: hostVeth}, PeerName: peerVeth}
	if err = netlink.LinkAdd(veth); err != nil {
		return classifyErr(err, "create veth pair for switched link %s", linkID)
	}
	created = append(created, func() {
		if l, e := netlink.LinkByName(hostVeth); e == nil {
			netlink.LinkDel(l)
		}
	})

	if err = moveAndRename(hostVeth, bridgeNS, bridgeIface); err != nil {
		return classifyErr(err, "move %s into bridge namespace %s", hostVeth, bridgeDev)
	}
	if err = moveAndRename(peerVeth, endpointNS, endpoint.Iface); err != nil {
		return classifyErr(err, "move %s into %s namespace", peerVeth, endpoint.Device)
	}

	err = namespaceDo(bridgeNS, func() error {
		br, err := netlink.LinkByName(bridgeName(bridgeDev))
		if err != nil {
			return err
		}
		link, err := netlink.LinkByName(bridgeIface)
		if err != nil {
			return err
		}
		if err := netlink.LinkSetMaster(link, br); err != nil {
			return err
		}
		return netlink.LinkSetUp(link)
	})
	if err != nil {
		return classifyErr(err, "attach %s to bridge on %s", bridgeIface, bridgeDev)
	}

	if err = bringUp(endpointNS, endpoint.Iface); err != nil {
		return classifyErr(err, "bring up %s:%s", endpoint.Device, endpoint.Iface)
	}

	if err = m.ns.RegisterInterface(bridgeDev, bridgeIface, linkID, false); err != nil {
		return err
	}
	if err = m.ns.RegisterInterface(endpoint.Device, endpoint.Iface, linkID, true); err != nil {
		return err
	}

	if addr != "" {
		if err = m.ns.AssignAddress(childCtx, endpoint.Device, endpoint.Iface, addr, prefix); err != nil {
			return err
		}
	}
	if !shape.isZero() {
		if err = m.applyShaping(endpointNS, endpoint.Iface, shape); err != nil {
			return err
		}
	}

	telemetry.ReportEvent(childCtx, "switched link established", attribute.String("link.id", linkID))
	return nil
}

// Destroy removes both qdiscs (implicitly, via interface deletion) and
// the veth pair. Deleting either end removes both (spec.md §3 Link
// invariants); we unregister from the Namespace Manager's bookkeeping
// for both sides regardless of which end the kernel is asked to delete.
func (m *Manager) Destroy(ctx context.Context, devA, ifaceA, devB, ifaceB string) error {
	childCtx, span := m.tracer.Start(ctx, "link-destroy", trace.WithAttributes(
		attribute.String("a.device", devA), attribute.String("a.iface", ifaceA),
	))
	defer span.End()

	nsA, err := m.ns.NsHandle(devA)
	if err == nil {
		withinErr := namespaceDo(nsA, func() error {
			l, err := netlink.LinkByName(ifaceA)
			if err != nil {
				return err
			}
			return netlink.LinkDel(l)
		})
		if withinErr != nil && !isNotExist(withinErr) {
			telemetry.ReportError(childCtx, withinErr)
		}
	}

	m.ns.UnregisterInterface(devA, ifaceA)
	m.ns.UnregisterInterface(devB, ifaceB)

	telemetry.ReportEvent(childCtx, "link destroyed")
	return nil
}

// UpdateShaping replaces the qdisc on the given (device, iface). Per
// spec.md §4.6, re-applying with new parameters replaces rather than
// stacks; this is implemented with netlink's replace semantics.
func (m *Manager) UpdateShaping(ctx context.Context, device, iface string, shape Shaping) error {
	_, span := m.tracer.Start(ctx, "link-update-shaping", trace.WithAttributes(attribute.String("device.name", device), attribute.String("iface", iface)))
	defer span.End()

	ns, err := m.ns.NsHandle(device)
	if err != nil {
		return err
	}
	return m.applyShaping(ns, iface, shape)
}

// ClearShaping removes any netem/tbf qdisc installed on (device, iface).
func (m *Manager) ClearShaping(ctx context.Context, device, iface string) error {
	ns, err := m.ns.NsHandle(device)
	if err != nil {
		return err
	}
	return namespaceDo(ns, func() error {
		link, err := netlink.LinkByName(iface)
		if err != nil {
			return err
		}
		qdiscs, err := netlink.QdiscList(link)
		if err != nil {
			return err
		}
		for _, q := range qdiscs {
			if q.Attrs().Parent == netlink.HANDLE_ROOT {
				netlink.QdiscDel(q)
			}
		}
		return nil
	})
}

// CreateBridge creates a bridge named netlab-br-<device> inside the
// device's namespace and brings it up. Resolves the Open Question in
// spec.md §9 in favor of "switch owns a bridge in its own namespace".
func (m *Manager) CreateBridge(ctx context.Context, device string) error {
	_, span := m.tracer.Start(ctx, "link-create-bridge", trace.WithAttributes(attribute.String("device.name", device)))
	defer span.End()

	ns, err := m.ns.NsHandle(device)
	if err != nil {
		return err
	}
	err = namespaceDo(ns, func() error {
		br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: bridgeName(device)}}
		if err := netlink.LinkAdd(br); err != nil {
			return err
		}
		return netlink.LinkSetUp(br)
	})
	if err != nil {
		return classifyErr(err, "create bridge on %s", device)
	}
	return nil
}

// DestroyBridge removes the bridge owned by device, if any. Idempotent.
func (m *Manager) DestroyBridge(ctx context.Context, device string) error {
	ns, err := m.ns.NsHandle(device)
	if err != nil {
		return nil
	}
	return namespaceDo(ns, func() error {
		br, err := netlink.LinkByName(bridgeName(device))
		if err != nil {
			if isNotExist(err) {
				return nil
			}
			return err
		}
		return netlink.LinkDel(br)
	})
}

func bridgeName(device string) string {
	return "nlbr-" + device
}

// BlockICMP installs an OUTPUT-chain egress drop rule for all ICMP
// traffic inside device's namespace, realizing the block_icmp verb
// (spec.md §4.6) entirely in kernel filter state.
func (m *Manager) BlockICMP(ctx context.Context, device string) error {
	ns, err := m.ns.NsHandle(device)
	if err != nil {
		return err
	}
	return namespaceDo(ns, func() error {
		ipt, err := iptables.New()
		if err != nil {
			return err
		}
		return ipt.AppendUnique("filter", "OUTPUT", "-p", "icmp", "-j", "DROP")
	})
}

// ClearBlockICMP removes the rule installed by BlockICMP, if present.
func (m *Manager) ClearBlockICMP(ctx context.Context, device string) error {
	ns, err := m.ns.NsHandle(device)
	if err != nil {
		return nil
	}
	return namespaceDo(ns, func() error {
		ipt, err := iptables.New()
		if err != nil {
			return err
		}
		return ipt.DeleteIfExists("filter", "OUTPUT", "-p", "icmp", "-j", "DROP")
	})
}

// SilentRouter drops the two ICMP types (time-exceeded, destination
// unreachable) a router emits in response to forwarding failures,
// realizing the silent_router verb without touching the forwarding
// path itself: the router still forwards, it just never reports back.
func (m *Manager) SilentRouter(ctx context.Context, device string) error {
	ns, err := m.ns.NsHandle(device)
	if err != nil {
		return err
	}
	return namespaceDo(ns, func() error {
		ipt, err := iptables.New()
		if err != nil {
			return err
		}
		if err := ipt.AppendUnique("filter", "OUTPUT", "-p", "icmp", "--icmp-type", "11", "-j", "DROP"); err != nil {
			return err
		}
		return ipt.AppendUnique("filter", "OUTPUT", "-p", "icmp", "--icmp-type", "3", "-j", "DROP")
	})
}

// ClearSilentRouter removes the rules installed by SilentRouter.
func (m *Manager) ClearSilentRouter(ctx context.Context, device string) error {
	ns, err := m.ns.NsHandle(device)
	if err != nil {
		return nil
	}
	return namespaceDo(ns, func() error {
		ipt, err := iptables.New()
		if err != nil {
			return err
		}
		ipt.DeleteIfExists("filter", "OUTPUT", "-p", "icmp", "--icmp-type", "11", "-j", "DROP")
		return ipt.DeleteIfExists("filter", "OUTPUT", "-p", "icmp", "--icmp-type", "3", "-j", "DROP")
	})
}

// applyShaping installs the combined netem(+tbf) qdisc described by
// shape on iface, inside ns. netem handles latency/loss; when a
// bandwidth limit is also requested, tbf is chained as a child so both
// can be active simultaneously, mirroring the parent/child qdisc idiom
// in the other_examples netns rig (root handle 1:, child under it).
func (m *Manager) applyShaping(ns netns.NsHandle, iface string, shape Shaping) error {
	return namespaceDo(ns, func() error {
		link, err := netlink.LinkByName(iface)
		if err != nil {
			return err
		}
		idx := link.Attrs().Index

		rootAttrs := netlink.QdiscAttrs{
			LinkIndex: idx,
			Handle:    netlink.MakeHandle(1, 0),
			Parent:    netlink.HANDLE_ROOT,
		}
		netem := &netlink.Netem{
			QdiscAttrs: rootAttrs,
			Latency:    uint32(shape.LatencyMs * 1000), // microseconds
			Loss:       netlink.Percentage2u32(float32(shape.LossPct)),
		}
		if err := netlink.QdiscReplace(netem); err != nil {
			return fmt.Errorf("install netem: %w", err)
		}

		if shape.Mbps > 0 {
			rate := uint64(shape.Mbps * 1000 * 1000 / 8) // bytes per second
			buffer := uint32(32 * 1024 / 8)              // burst 32kbit
			tbf := &netlink.Tbf{
				QdiscAttrs: netlink.QdiscAttrs{
					LinkIndex: idx,
					Handle:    netlink.MakeHandle(2, 0),
					Parent:    netlink.MakeHandle(1, 1),
				},
				Rate:   rate,
				Limit:  uint32(rate*400/1000) + buffer, // latency 400ms worth of bytes at the configured rate, plus the burst
				Buffer: buffer,
			}
			if err := netlink.QdiscReplace(tbf); err != nil {
				return fmt.Errorf("install tbf: %w", err)
			}
		}
		return nil
	})
}

func moveAndRename(ifaceName string, ns netns.NsHandle, newName string) error {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return err
	}
	if err := netlink.LinkSetNsFd(link, int(ns)); err != nil {
		return err
	}
	return namespaceDo(ns, func() error {
		moved, err := netlink.LinkByName(ifaceName)
		if err != nil {
			return err
		}
		return netlink.LinkSetName(moved, newName)
	})
}

func bringUp(ns netns.NsHandle, iface string) error {
	return namespaceDo(ns, func() error {
		link, err := netlink.LinkByName(iface)
		if err != nil {
			return err
		}
		return netlink.LinkSetUp(link)
	})
}

func classifyErr(err error, format string, args ...any) *model.Error {
	msg := fmt.Sprintf(format, args...)
	if isNotExist(err) {
		return model.Wrapf(model.ErrNotFound, err, "%s", msg)
	}
	return model.Wrapf(model.ErrKernel, err, "%s", msg)
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOENT)
}

// namespaceDo is the Link Manager's own copy of the namespace package's
// withNS sequence: pin the goroutine to its OS thread, save the current
// (host) namespace, switch into ns, run fn, always restore. Link
// operations move interfaces between two namespaces in the same
// goroutine, so they need this independently of the Namespace Manager.
func namespaceDo(ns netns.NsHandle, fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hostNS, err := netns.Get()
	if err != nil {
		return fmt.Errorf("get host namespace: %w", err)
	}
	defer hostNS.Close()

	if err := netns.Set(ns); err != nil {
		return fmt.Errorf("enter namespace: %w", err)
	}
	defer netns.Set(hostNS)

	return fn()
}
