// Package namespace owns Linux network namespace lifecycles: creation,
// destruction, address/route/forwarding configuration, and read-through
// inspection. It keeps no model of the network beyond what cleanup
// needs, following spec.md §4.1. Grounded on the teacher's
// orchestrator/sandbox/network.go, which drives netns/netlink the same
// way (LockOSThread + save/restore the calling goroutine's namespace
// around every namespace-entering operation).
package namespace

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/Kishor-9361/NET-sim/model"
	"github.com/Kishor-9361/NET-sim/telemetry"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NsName returns the OS-visible network namespace name for a device.
func NsName(device string) string {
	return "netlab-" + device
}

type deviceRecord struct {
	name       string
	kind       model.DeviceKind
	ns         netns.NsHandle
	forwarding bool
	ifaces     map[string]*model.Interface // by iface name
	gateway    string
}

// Manager owns the table of live namespaces. All kernel-facing
// operations are synchronous and may block for tens of milliseconds;
// callers must dispatch them off any latency-sensitive loop (spec.md §5).
type Manager struct {
	mu      sync.Mutex
	devices map[string]*deviceRecord
	addrs   *AddressRegistry
	tracer  trace.Tracer
}

func NewManager(tracer trace.Tracer) *Manager {
	return &Manager{
		devices: make(map[string]*deviceRecord),
		addrs:   NewAddressRegistry(),
		tracer:  tracer,
	}
}

// Addresses exposes the address registry so the Topology Manager can
// query it without threading every lookup through Manager.
func (m *Manager) Addresses() *AddressRegistry { return m.addrs }

// withNS pins the calling goroutine to its OS thread, saves the current
// (host) namespace, switches into ns, runs fn, then always restores the
// host namespace before unlocking the thread. This is the exact sequence
// the teacher's FcNetwork.Setup uses around every in-namespace operation.
func withNS(ns netns.NsHandle, fn func() error) error {
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

// Create allocates a new namespace for device `name` of the given kind,
// brings its loopback up, and (for routers) enables IPv4 forwarding.
func (m *Manager) Create(ctx context.Context, name string, kind model.DeviceKind) (*model.Device, error) {
	childCtx, span := m.tracer.Start(ctx, "namespace-create",
		trace.WithAttributes(attribute.String("device.name", name), attribute.String("device.kind", string(kind))))
	defer span.End()

	if !kind.Valid() {
		return nil, model.NewError(model.ErrInvalidArgument, fmt.Sprintf("invalid device kind %q", kind), nil)
	}

	m.mu.Lock()
	if _, exists := m.devices[name]; exists {
		m.mu.Unlock()
		return nil, model.NewError(model.ErrAlreadyExists, fmt.Sprintf("device %q already exists", name), nil)
	}
	m.mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hostNS, err := netns.Get()
	if err != nil {
		return nil, model.Wrapf(model.ErrKernel, err, "get host namespace")
	}
	defer hostNS.Close()

	ns, err := netns.NewNamed(NsName(name))
	if err != nil {
		return nil, classifyKernelErr(err, "create namespace for %q", name)
	}
	telemetry.ReportEvent(childCtx, "namespace created", attribute.String("device.name", name))

	// NewNamed leaves us inside the new namespace.
	rollback := func() {
		netns.Set(hostNS)
		ns.Close()
		netns.DeleteNamed(NsName(name))
	}

	lo, err := netlink.LinkByName("lo")
	if err != nil {
		rollback()
		return nil, classifyKernelErr(err, "find loopback in %q", name)
	}
	if err := netlink.LinkSetUp(lo); err != nil {
		rollback()
		return nil, classifyKernelErr(err, "bring up loopback in %q", name)
	}
	telemetry.ReportEvent(childCtx, "loopback up", attribute.String("device.name", name))

	forwarding := model.ForwardingDefault(kind)
	if forwarding {
		if err := setForwarding(true); err != nil {
			rollback()
			return nil, classifyKernelErr(err, "enable forwarding in %q", name)
		}
		telemetry.ReportEvent(childCtx, "forwarding enabled", attribute.String("device.name", name))
	}

	if err := netns.Set(hostNS); err != nil {
		rollback()
		return nil, model.Wrapf(model.ErrKernel, err, "restore host namespace")
	}

	rec := &deviceRecord{
		name:       name,
		kind:       kind,
		ns:         ns,
		forwarding: forwarding,
		ifaces:     make(map[string]*model.Interface),
	}

	m.mu.Lock()
	m.devices[name] = rec
	m.mu.Unlock()

	return m.snapshotLocked(rec), nil
}

// Destroy tears down the namespace for name. It is idempotent: a missing
// device is not an error. Callers must have already removed any links
// owned by the device (spec.md §4.3 teardown ordering).
func (m *Manager) Destroy(ctx context.Context, name string) error {
	childCtx, span := m.tracer.Start(ctx, "namespace-destroy", trace.WithAttributes(attribute.String("device.name", name)))
	defer span.End()

	m.mu.Lock()
	rec, ok := m.devices[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.devices, name)
	m.mu.Unlock()

	for iface := range rec.ifaces {
		m.addrs.ReleaseAll(name, iface)
	}

	rec.ns.Close()
	if err := netns.DeleteNamed(NsName(name)); err != nil {
		return classifyKernelErr(err, "delete namespace for %q", name)
	}
	telemetry.ReportEvent(childCtx, "namespace destroyed", attribute.String("device.name", name))
	return nil
}

// namedNsDir is where `ip netns add`/netns.NewNamed bind-mount named
// namespaces, matching the teacher's getOrphanProcess convention of
// deriving liveness from what the kernel/OS actually has, not from the
// in-memory table alone.
const namedNsDir = "/var/run/netns"

// ReconcileOrphans scans namedNsDir for namespaces matching the
// "netlab-*" naming convention (NsName) that have no corresponding
// in-memory device record — the trace of an unclean previous shutdown
// (spec.md §8 scenario 6) — and deletes them. It also reaps any leftover
// capture/shell child processes still holding one of those namespaces
// open, following the same "find the process, then kill it" shape as
// the teacher's getOrphanProcess/purgeOne pair, generalized from
// Firecracker child processes to ours (tcpdump, login shells).
func (m *Manager) ReconcileOrphans(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(namedNsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", namedNsDir, err)
	}

	m.mu.Lock()
	known := make(map[string]bool, len(m.devices))
	for name := range m.devices {
		known[NsName(name)] = true
	}
	m.mu.Unlock()

	var removed []string
	for _, e := range entries {
		nsName := e.Name()
		if !strings.HasPrefix(nsName, "netlab-") || known[nsName] {
			continue
		}

		m.killOrphanProcesses(nsName)

		if err := netns.DeleteNamed(nsName); err != nil {
			telemetry.ReportError(ctx, fmt.Errorf("reconcile orphan namespace %s: %w", nsName, err))
			continue
		}
		telemetry.ReportEvent(ctx, "orphan namespace reconciled", attribute.String("netns", nsName))
		removed = append(removed, nsName)
	}
	return removed, nil
}

// killOrphanProcesses finds processes still resident in nsName (a
// previous run's PTY shells or capture children) and kills them. Where
// the teacher's getOrphanProcess matches on a distinctive cmdline
// substring ("ip netns exec <name>"), our children are forked after a
// direct netns.Set rather than through an "ip netns exec" wrapper, so
// we instead compare each process's /proc/<pid>/ns/net inode against
// nsName's bind-mounted inode — the same "namespace identity is a
// device+inode pair" fact vishvananda/netns relies on internally.
func (m *Manager) killOrphanProcesses(nsName string) {
	target, err := os.Stat(namedNsDir + "/" + nsName)
	if err != nil {
		return
	}
	targetStat, ok := target.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}

	procs, err := process.Processes()
	if err != nil {
		return
	}
	for _, p := range procs {
		nsFile, err := os.Stat(fmt.Sprintf("/proc/%d/ns/net", p.Pid))
		if err != nil {
			continue
		}
		st, ok := nsFile.Sys().(*syscall.Stat_t)
		if !ok || st.Ino != targetStat.Ino || st.Dev != targetStat.Dev {
			continue
		}
		p.Kill()
	}
}

// RegisterInterface records a kernel-assigned interface on a device. Used
// by the Link Manager once it has created/moved the veth end into place.
func (m *Manager) RegisterInterface(name, iface, linkID string, isPeerB bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.devices[name]
	if !ok {
		return model.NewError(model.ErrNotFound, fmt.Sprintf("device %q not found", name), nil)
	}
	rec.ifaces[iface] = &model.Interface{Name: iface, State: model.LinkUp, LinkID: linkID, PeerEnd: isPeerB}
	return nil
}

// UnregisterInterface removes bookkeeping for an interface that the Link
// Manager has just destroyed.
func (m *Manager) UnregisterInterface(name, iface string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.devices[name]; ok {
		delete(rec.ifaces, iface)
	}
	m.addrs.ReleaseAll(name, iface)
}

// AssignAddress sets iface's IPv4 address. Idempotent if the exact same
// assignment already exists.
func (m *Manager) AssignAddress(ctx context.Context, name, iface, addr string, prefix int) error {
	childCtx, span := m.tracer.Start(ctx, "namespace-assign-address",
		trace.WithAttributes(attribute.String("device.name", name), attribute.String("iface", iface), attribute.String("addr", addr)))
	defer span.End()

	rec, err := m.lookup(name)
	if err != nil {
		return err
	}
	ifaceRec, ok := rec.ifaces[iface]
	if !ok {
		return model.NewError(model.ErrNotFound, fmt.Sprintf("interface %q on %q not found", iface, name), nil)
	}
	if ifaceRec.Addr == addr && ifaceRec.Prefix == prefix {
		return nil // idempotent
	}

	if err := m.addrs.Reserve(addr, name, iface); err != nil {
		return err
	}

	err = withNS(rec.ns, func() error {
		link, err := netlink.LinkByName(iface)
		if err != nil {
			return err
		}
		ip := net.ParseIP(addr)
		if ip == nil {
			return fmt.Errorf("invalid address %q", addr)
		}
		return netlink.AddrAdd(link, &netlink.Addr{
			IPNet: &net.IPNet{IP: ip, Mask: net.CIDRMask(prefix, 32)},
		})
	})
	if err != nil {
		m.addrs.Release(addr)
		return classifyKernelErr(err, "assign address %s/%d to %s:%s", addr, prefix, name, iface)
	}

	m.mu.Lock()
	ifaceRec.Addr = addr
	ifaceRec.Prefix = prefix
	m.mu.Unlock()

	telemetry.ReportEvent(childCtx, "address assigned", attribute.String("device.name", name), attribute.String("iface", iface))
	return nil
}

// SetLinkState brings iface up or down.
func (m *Manager) SetLinkState(ctx context.Context, name, iface string, up bool) error {
	_, span := m.tracer.Start(ctx, "namespace-set-link-state",
		trace.WithAttributes(attribute.String("device.name", name), attribute.String("iface", iface), attribute.Bool("up", up)))
	defer span.End()

	rec, err := m.lookup(name)
	if err != nil {
		return err
	}
	ifaceRec, ok := rec.ifaces[iface]
	if !ok {
		return model.NewError(model.ErrNotFound, fmt.Sprintf("interface %q on %q not found", iface, name), nil)
	}

	err = withNS(rec.ns, func() error {
		link, err := netlink.LinkByName(iface)
		if err != nil {
			return err
		}
		if up {
			return netlink.LinkSetUp(link)
		}
		return netlink.LinkSetDown(link)
	})
	if err != nil {
		return classifyKernelErr(err, "set link state of %s:%s", name, iface)
	}

	m.mu.Lock()
	if up {
		ifaceRec.State = model.LinkUp
	} else {
		ifaceRec.State = model.LinkDown
	}
	m.mu.Unlock()
	return nil
}

// SetDefaultGateway sets gw as the device's default route. Callers (the
// Topology Manager) are responsible for checking gw is on a subnet owned
// by one of the device's interfaces before calling this (NoRouteForGateway).
func (m *Manager) SetDefaultGateway(ctx context.Context, name, gw string) error {
	_, span := m.tracer.Start(ctx, "namespace-set-gateway", trace.WithAttributes(attribute.String("device.name", name), attribute.String("gw", gw)))
	defer span.End()

	rec, err := m.lookup(name)
	if err != nil {
		return err
	}
	gwIP := net.ParseIP(gw)
	if gwIP == nil {
		return model.NewError(model.ErrInvalidArgument, fmt.Sprintf("invalid gateway address %q", gw), nil)
	}

	err = withNS(rec.ns, func() error {
		// Replace any existing default route.
		routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
		if err != nil {
			return err
		}
		for _, r := range routes {
			if r.Dst == nil {
				netlink.RouteDel(&r)
			}
		}
		return netlink.RouteAdd(&netlink.Route{Dst: nil, Gw: gwIP})
	})
	if err != nil {
		return classifyKernelErr(err, "set default gateway on %q", name)
	}

	m.mu.Lock()
	rec.gateway = gw
	m.mu.Unlock()
	return nil
}

// EnableForwarding toggles IPv4 forwarding inside the device's namespace.
func (m *Manager) EnableForwarding(ctx context.Context, name string, enable bool) error {
	_, span := m.tracer.Start(ctx, "namespace-set-forwarding", trace.WithAttributes(attribute.String("device.name", name), attribute.Bool("enable", enable)))
	defer span.End()

	rec, err := m.lookup(name)
	if err != nil {
		return err
	}
	if err := withNS(rec.ns, func() error { return setForwarding(enable) }); err != nil {
		return classifyKernelErr(err, "set forwarding on %q", name)
	}
	m.mu.Lock()
	rec.forwarding = enable
	m.mu.Unlock()
	return nil
}

// Inspection is the read-through view returned by Inspect.
type Inspection struct {
	Interfaces []model.Interface
	Routes     []string
	ARP        []string
	Forwarding bool
	Gateway    string
}

// Inspect returns the current interfaces, routes, ARP cache, and
// forwarding flag for a device, read directly from the kernel.
func (m *Manager) Inspect(ctx context.Context, name string) (*Inspection, error) {
	_, span := m.tracer.Start(ctx, "namespace-inspect", trace.WithAttributes(attribute.String("device.name", name)))
	defer span.End()

	rec, err := m.lookup(name)
	if err != nil {
		return nil, err
	}

	var routes []string
	var arp []string
	err = withNS(rec.ns, func() error {
		rl, err := netlink.RouteList(nil, netlink.FAMILY_V4)
		if err != nil {
			return err
		}
		for _, r := range rl {
			routes = append(routes, r.String())
		}
		neighs, err := netlink.NeighList(0, netlink.FAMILY_V4)
		if err != nil {
			return err
		}
		for _, n := range neighs {
			arp = append(arp, fmt.Sprintf("%s -> %s", n.IP, n.HardwareAddr))
		}
		return nil
	})
	if err != nil {
		return nil, classifyKernelErr(err, "inspect %q", name)
	}

	m.mu.Lock()
	ifaces := make([]model.Interface, 0, len(rec.ifaces))
	for _, i := range rec.ifaces {
		ifaces = append(ifaces, *i)
	}
	insp := &Inspection{Interfaces: ifaces, Routes: routes, ARP: arp, Forwarding: rec.forwarding, Gateway: rec.gateway}
	m.mu.Unlock()

	return insp, nil
}

// NsHandle returns the live namespace handle for name, used by the Link
// Manager when wiring veth peers and by the Packet Observer when
// spawning capture processes.
func (m *Manager) NsHandle(name string) (netns.NsHandle, error) {
	rec, err := m.lookup(name)
	if err != nil {
		return 0, err
	}
	return rec.ns, nil
}

func (m *Manager) lookup(name string) (*deviceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.devices[name]
	if !ok {
		return nil, model.NewError(model.ErrNotFound, fmt.Sprintf("device %q not found", name), nil)
	}
	return rec, nil
}

func (m *Manager) snapshotLocked(rec *deviceRecord) *model.Device {
	ifaces := make([]model.Interface, 0, len(rec.ifaces))
	for _, i := range rec.ifaces {
		ifaces = append(ifaces, *i)
	}
	return &model.Device{
		Name:       rec.name,
		Kind:       rec.kind,
		NetNS:      NsName(rec.name),
		Interfaces: ifaces,
		Forwarding: rec.forwarding,
		Gateway:    rec.gateway,
		Failures:   make(map[string]model.Failure),
	}
}

// setForwarding writes net.ipv4.ip_forward in the current (entered)
// namespace. Must be called from within withNS.
func setForwarding(enable bool) error {
	val := "0"
	if enable {
		val = "1"
	}
	return writeSysctl("/proc/sys/net/ipv4/ip_forward", val)
}

// classifyKernelErr maps a raw netlink/netns error into the spec's error
// taxonomy. EEXIST/ENOENT style failures surface as the specific kinds;
// anything else is a generic KernelError.
func classifyKernelErr(err error, format string, args ...any) *model.Error {
	msg := fmt.Sprintf(format, args...)
	if isPermission(err) {
		return model.Wrapf(model.ErrPrivilege, err, "%s", msg)
	}
	if isExist(err) {
		return model.Wrapf(model.ErrAlreadyExists, err, "%s", msg)
	}
	if isNotExist(err) {
		return model.Wrapf(model.ErrNotFound, err, "%s", msg)
	}
	return model.Wrapf(model.ErrKernel, err, "%s", msg)
}
