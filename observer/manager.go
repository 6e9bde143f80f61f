package observer

import (
	"context"
	"sync"

	"github.com/Kishor-9361/NET-sim/model"
	"github.com/Kishor-9361/NET-sim/namespace"
	"github.com/Kishor-9361/NET-sim/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type activeObserver struct {
	cap    *capture
	cancel context.CancelFunc
}

// Manager attaches and detaches one capture per (device, interface) and
// owns the single global fan-out every packet-channel subscriber reads
// from (spec.md §4.5).
type Manager struct {
	ns            *namespace.Manager
	captureBinary string
	tracer        trace.Tracer
	fanout        *FanOut
	failSink      chan<- model.ComponentFailure

	mu        sync.Mutex
	observers map[string]*activeObserver
}

func NewManager(ns *namespace.Manager, captureBinary string, tracer trace.Tracer) *Manager {
	return &Manager{
		ns:            ns,
		captureBinary: captureBinary,
		tracer:        tracer,
		fanout:        NewFanOut(),
		observers:     make(map[string]*activeObserver),
	}
}

// FanOut exposes the shared subscriber set to the Control Server.
func (m *Manager) FanOut() *FanOut { return m.fanout }

// SetFailureSink wires the Topology Manager's failure-event channel in
// so a capture that exhausts its restart budget can report upward
// (spec.md §7). Call once during startup wiring, before any Attach.
func (m *Manager) SetFailureSink(sink chan<- model.ComponentFailure) { m.failSink = sink }

func key(device, iface string) string { return device + "|" + iface }

// Attach starts a capture for (device, iface) if one isn't already
// running. Installing or removing an observer never touches packet
// delivery on the wire (spec.md §4.5 non-interference invariant).
func (m *Manager) Attach(ctx context.Context, device, iface string) error {
	childCtx, span := m.tracer.Start(ctx, "observer-attach", trace.WithAttributes(
		attribute.String("device.name", device), attribute.String("iface", iface)))
	defer span.End()

	k := key(device, iface)
	m.mu.Lock()
	if _, exists := m.observers[k]; exists {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	nsHandle, err := m.ns.NsHandle(device)
	if err != nil {
		return model.Wrapf(model.ErrNotFound, err, "no such device %q", device)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cap := &capture{device: device, iface: iface, binary: m.captureBinary, ns: nsHandle, fanout: m.fanout, fail: m.failSink}

	m.mu.Lock()
	m.observers[k] = &activeObserver{cap: cap, cancel: cancel}
	m.mu.Unlock()

	go cap.run(runCtx)

	telemetry.ReportEvent(childCtx, "observer attached", attribute.String("device.name", device), attribute.String("iface", iface))
	return nil
}

// Detach stops the capture for (device, iface). Idempotent.
func (m *Manager) Detach(device, iface string) {
	k := key(device, iface)
	m.mu.Lock()
	obs, ok := m.observers[k]
	if ok {
		delete(m.observers, k)
	}
	m.mu.Unlock()
	if ok {
		obs.cancel()
	}
}

// Failed reports whether the observer for (device, iface) has exhausted
// its restart budget and given up.
func (m *Manager) Failed(device, iface string) bool {
	m.mu.Lock()
	obs, ok := m.observers[key(device, iface)]
	m.mu.Unlock()
	return ok && obs.cap.Failed()
}

// FailedCount reports how many currently-attached observers have
// exhausted their restart budget, for the observer_failed_total gauge.
func (m *Manager) FailedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, obs := range m.observers {
		if obs.cap.Failed() {
			n++
		}
	}
	return n
}
