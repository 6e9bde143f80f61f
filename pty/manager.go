package pty

import (
	"context"
	"sync"
	"time"

	"github.com/Kishor-9361/NET-sim/model"
	"github.com/Kishor-9361/NET-sim/namespace"
	"github.com/Kishor-9361/NET-sim/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Manager is the PTY Session Manager. It holds every live session keyed
// by (device, channel_id) and drives the reconnect grace period from
// spec.md §5: a detached subscriber does not tear the session down
// immediately, it gets `grace` to reattach.
type Manager struct {
	ns        *namespace.Manager
	shellPath string
	grace     time.Duration
	tracer    trace.Tracer
	failSink  chan<- model.ComponentFailure

	mu       sync.Mutex
	sessions map[string]*Session
	timers   map[string]*time.Timer
}

func NewManager(ns *namespace.Manager, shellPath string, grace time.Duration, tracer trace.Tracer) *Manager {
	return &Manager{
		ns:        ns,
		shellPath: shellPath,
		grace:     grace,
		tracer:    tracer,
		sessions:  make(map[string]*Session),
		timers:    make(map[string]*time.Timer),
	}
}

func sessionKey(device, channelID string) string {
	return device + "|" + channelID
}

// SetFailureSink wires the Topology Manager's failure-event channel in
// so an unprompted child death can report upward (spec.md §7). Call once
// during startup wiring, before any Open.
func (m *Manager) SetFailureSink(sink chan<- model.ComponentFailure) { m.failSink = sink }

// Open returns the session for (device, channel_id), creating it if
// absent, or reattaching (cancelling any pending grace-period timer) if
// it already exists. rows/cols are only honored on first creation.
func (m *Manager) Open(ctx context.Context, device, channelID string, rows, cols int) (*Session, error) {
	childCtx, span := m.tracer.Start(ctx, "pty-open", trace.WithAttributes(
		attribute.String("device.name", device), attribute.String("channel.id", channelID)))
	defer span.End()

	if rows == 0 || cols == 0 {
		return nil, model.NewError(model.ErrInvalidArgument, "rows and cols must be non-zero", nil)
	}

	key := sessionKey(device, channelID)

	m.mu.Lock()
	if sess, ok := m.sessions[key]; ok {
		if t, ok := m.timers[key]; ok {
			t.Stop()
			delete(m.timers, key)
		}
		sess.markAttached()
		m.mu.Unlock()
		telemetry.ReportEvent(childCtx, "pty session reattached", attribute.String("device.name", device), attribute.String("channel.id", channelID))
		return sess, nil
	}
	m.mu.Unlock()

	ns, err := m.ns.NsHandle(device)
	if err != nil {
		return nil, model.Wrapf(model.ErrNotFound, err, "no such device %q", device)
	}

	sess, err := spawnSession(device, channelID, m.shellPath, ns, rows, cols)
	if err != nil {
		return nil, err
	}
	sess.onExit = func() {
		m.onSessionExit(key, sess)
		if m.failSink != nil {
			select {
			case m.failSink <- model.ComponentFailure{Device: device, Channel: channelID, Reason: "child process exited"}:
			default:
			}
		}
	}

	m.mu.Lock()
	m.sessions[key] = sess
	m.mu.Unlock()
	sess.start()

	telemetry.ReportEvent(childCtx, "pty session opened", attribute.String("device.name", device), attribute.String("channel.id", channelID))
	return sess, nil
}

// PrespawnChannelID is the channel id of the session Prespawn opens at
// device creation. Clients reattach to it by using the same id on the
// terminal channel route.
const PrespawnChannelID = "default"

// Prespawn opens the device's default session ahead of any terminal
// channel attaching, so the first attach binds to an already-running
// shell (spec.md §4.3). Failure is reported upward, never fatal: a
// device without a shell is still a functioning network node.
func (m *Manager) Prespawn(ctx context.Context, device string) {
	if _, err := m.Open(ctx, device, PrespawnChannelID, 24, 80); err != nil {
		telemetry.ReportError(ctx, err, attribute.String("device.name", device))
	}
}

// onSessionExit drops a session's table entry once its child has exited
// on its own (spec.md §4.4: table entry iff child alive). Guarded by
// identity so it cannot remove a different session that later reused
// the same key after an explicit Close/expire already cleared this one.
func (m *Manager) onSessionExit(key string, sess *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[key]; ok && cur == sess {
		delete(m.sessions, key)
	}
	if t, exists := m.timers[key]; exists {
		t.Stop()
		delete(m.timers, key)
	}
	m.mu.Unlock()
}

// Count reports how many sessions currently hold a table entry, for the
// pty_sessions_total gauge.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(device, channelID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionKey(device, channelID)]
	return sess, ok
}

// Detach is called when a terminal channel's client disconnects. The
// session is kept alive for the grace period in case of reconnect.
func (m *Manager) Detach(device, channelID string) {
	key := sessionKey(device, channelID)

	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	sess.markDetached()
	if t, exists := m.timers[key]; exists {
		t.Stop()
	}
	m.timers[key] = time.AfterFunc(m.grace, func() { m.expire(key) })
	m.mu.Unlock()
}

func (m *Manager) expire(key string) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	if detachedAt, detached := sess.detachedSince(); !detached || time.Since(detachedAt) < m.grace {
		m.mu.Unlock()
		return // a reattach raced with the timer
	}
	delete(m.sessions, key)
	delete(m.timers, key)
	m.mu.Unlock()

	sess.close(0)
}

// Close performs the explicit SIGHUP/SIGKILL/reap close sequence
// immediately, bypassing the grace period.
func (m *Manager) Close(device, channelID string) error {
	key := sessionKey(device, channelID)

	m.mu.Lock()
	sess, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	if t, exists := m.timers[key]; exists {
		t.Stop()
		delete(m.timers, key)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	sess.close(0)
	return nil
}

// CloseDeviceSessions closes every session belonging to device. Called
// by the Topology Manager during remove_device, after links are torn
// down and before the namespace itself is destroyed (spec.md §4.3).
func (m *Manager) CloseDeviceSessions(device string) {
	prefix := device + "|"

	m.mu.Lock()
	var toClose []*Session
	for key, sess := range m.sessions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			toClose = append(toClose, sess)
			delete(m.sessions, key)
			if t, exists := m.timers[key]; exists {
				t.Stop()
				delete(m.timers, key)
			}
		}
	}
	m.mu.Unlock()

	for _, sess := range toClose {
		sess.close(0)
	}
}
