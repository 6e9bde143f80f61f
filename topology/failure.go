package topology

import (
	"context"
	"fmt"

	"github.com/Kishor-9361/NET-sim/link"
	"github.com/Kishor-9361/NET-sim/model"
	"github.com/Kishor-9361/NET-sim/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InjectFailure applies one of the six verbs from spec.md §4.6. Applying
// the same (kind, iface) twice replaces the parameters rather than
// stacking, per the idempotence law in §8.
func (m *Manager) InjectFailure(ctx context.Context, device string, f model.Failure) error {
	childCtx, span := m.tracer.Start(ctx, "topology-inject-failure", trace.WithAttributes(
		attribute.String("device.name", device), attribute.String("failure.kind", string(f.Kind))))
	defer span.End()

	if err := validateFailure(f); err != nil {
		return err
	}

	entry, err := m.lockDevice(device)
	if err != nil {
		return err
	}
	defer entry.mu.Unlock()

	switch f.Kind {
	case model.FailureInterfaceDown:
		if !hasIface(entry.device, f.Iface) {
			return model.NewError(model.ErrNotFound, fmt.Sprintf("interface %q not found on %q", f.Iface, device), nil)
		}
		if err := m.ns.SetLinkState(childCtx, device, f.Iface, false); err != nil {
			return err
		}
		setIfaceState(entry.device, f.Iface, model.LinkDown)

	case model.FailureBlockICMP:
		if err := m.link.BlockICMP(childCtx, device); err != nil {
			return err
		}

	case model.FailureSilentRouter:
		if err := m.link.SilentRouter(childCtx, device); err != nil {
			return err
		}

	case model.FailurePacketLoss, model.FailureLatency, model.FailureBandwidthLimit:
		if !hasIface(entry.device, f.Iface) {
			return model.NewError(model.ErrNotFound, fmt.Sprintf("interface %q not found on %q", f.Iface, device), nil)
		}
		if entry.device.Failures == nil {
			entry.device.Failures = make(map[string]model.Failure)
		}
		entry.device.Failures[f.Key()] = f
		if err := m.applyCombinedShaping(childCtx, entry, f.Iface); err != nil {
			return err
		}
		telemetry.ReportEvent(childCtx, "shaping updated", attribute.String("device.name", device), attribute.String("iface", f.Iface))
		return nil

	default:
		return model.NewError(model.ErrInvalidArgument, fmt.Sprintf("unknown failure kind %q", f.Kind), nil)
	}

	if entry.device.Failures == nil {
		entry.device.Failures = make(map[string]model.Failure)
	}
	entry.device.Failures[f.Key()] = f
	telemetry.ReportEvent(childCtx, "failure injected", attribute.String("device.name", device), attribute.String("failure.kind", string(f.Kind)))
	return nil
}

// ClearFailure is the inverse of InjectFailure; idempotent if the
// failure is already absent.
func (m *Manager) ClearFailure(ctx context.Context, device string, kind model.FailureKind, iface string) error {
	childCtx, span := m.tracer.Start(ctx, "topology-clear-failure", trace.WithAttributes(
		attribute.String("device.name", device), attribute.String("failure.kind", string(kind))))
	defer span.End()

	entry, err := m.lockDevice(device)
	if err != nil {
		return err
	}
	defer entry.mu.Unlock()

	key := model.Failure{Kind: kind, Iface: iface}.Key()
	if entry.device.Failures != nil {
		delete(entry.device.Failures, key)
	}

	switch kind {
	case model.FailureInterfaceDown:
		if hasIface(entry.device, iface) {
			if err := m.ns.SetLinkState(childCtx, device, iface, true); err != nil {
				return err
			}
			setIfaceState(entry.device, iface, model.LinkUp)
		}
	case model.FailureBlockICMP:
		if err := m.link.ClearBlockICMP(childCtx, device); err != nil {
			return err
		}
	case model.FailureSilentRouter:
		if err := m.link.ClearSilentRouter(childCtx, device); err != nil {
			return err
		}
	case model.FailurePacketLoss, model.FailureLatency, model.FailureBandwidthLimit:
		return m.applyCombinedShaping(childCtx, entry, iface)
	default:
		return model.NewError(model.ErrInvalidArgument, fmt.Sprintf("unknown failure kind %q", kind), nil)
	}

	telemetry.ReportEvent(childCtx, "failure cleared", attribute.String("device.name", device), attribute.String("failure.kind", string(kind)))
	return nil
}

// applyCombinedShaping recomputes the net effect of every active
// latency/packet_loss/bandwidth_limit failure on iface, layered on top of
// the link's own creation-time shaping, and installs it as a single
// qdisc, since netem+tbf is one qdisc chain per interface, not one per
// failure kind. Starting from the base shape means injecting one
// parameter (say packet_loss) composes with the link's base latency
// instead of replacing it, and clearing a failure falls back to that
// same base rather than leaving the interface unshaped.
func (m *Manager) applyCombinedShaping(ctx context.Context, entry *deviceEntry, iface string) error {
	shape := m.baseShaping(entry.device, iface)
	for _, f := range entry.device.Failures {
		if f.Iface != iface {
			continue
		}
		switch f.Kind {
		case model.FailureLatency:
			shape.LatencyMs = f.Ms
		case model.FailurePacketLoss:
			shape.LossPct = f.Pct
		case model.FailureBandwidthLimit:
			shape.Mbps = f.Mbps
		}
	}

	if shape.LatencyMs == 0 && shape.LossPct == 0 && shape.Mbps == 0 {
		return m.link.ClearShaping(ctx, entry.device.Name, iface)
	}
	return m.link.UpdateShaping(ctx, entry.device.Name, iface, shape)
}

// baseShaping looks up the latency/loss/bandwidth the link owning iface
// was created with (topology.go's AddLink).
func (m *Manager) baseShaping(d *model.Device, iface string) link.Shaping {
	var linkID string
	for _, f := range d.Interfaces {
		if f.Name == iface {
			linkID = f.LinkID
			break
		}
	}
	if linkID == "" {
		return link.Shaping{}
	}
	m.graphMu.Lock()
	rec, ok := m.links[linkID]
	m.graphMu.Unlock()
	if !ok {
		return link.Shaping{}
	}
	return link.Shaping{LatencyMs: rec.LatencyMs, LossPct: rec.LossPct, Mbps: rec.BandwidthM}
}

// validateFailure rejects out-of-range parameters before any kernel
// state is touched (spec.md §7 InvalidArgument, §8 boundary behaviors).
func validateFailure(f model.Failure) error {
	switch f.Kind {
	case model.FailurePacketLoss:
		if f.Pct < 0 || f.Pct > 100 {
			return model.NewError(model.ErrInvalidArgument, fmt.Sprintf("packet_loss pct %.1f out of range [0,100]", f.Pct), nil)
		}
	case model.FailureLatency:
		if f.Ms < 0 {
			return model.NewError(model.ErrInvalidArgument, fmt.Sprintf("latency ms %d must be >= 0", f.Ms), nil)
		}
	case model.FailureBandwidthLimit:
		if f.Mbps <= 0 {
			return model.NewError(model.ErrInvalidArgument, fmt.Sprintf("bandwidth_limit mbps %.2f must be > 0", f.Mbps), nil)
		}
	}
	return nil
}

func hasIface(d *model.Device, iface string) bool {
	for _, f := range d.Interfaces {
		if f.Name == iface {
			return true
		}
	}
	return false
}

func setIfaceState(d *model.Device, iface string, state model.LinkState) {
	for i := range d.Interfaces {
		if d.Interfaces[i].Name == iface {
			d.Interfaces[i].State = state
			return
		}
	}
}
