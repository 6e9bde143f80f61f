// Package pty owns PTY session lifecycles (spec.md §4.4): spawning a
// shell inside a device's namespace attached to a pseudo-terminal, and
// pumping bytes between the terminal master and whatever subscriber is
// currently attached. Grounded on the teacher's
// envd/internal/process/simple.go (exec.Command + SysProcAttr + an
// exit channel drained by a goroutine) and envd/go.mod's creack/pty
// dependency, generalized to attach the child to a namespace instead
// of a user/cwd.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Kishor-9361/NET-sim/model"
	"github.com/creack/pty"
	"github.com/vishvananda/netns"
)

// State is the per-session state machine from spec.md §4.4.
type State int32

const (
	StateSpawning State = iota
	StateRunning
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one PTY bound to a device's namespace.
type Session struct {
	Device    string
	ChannelID string

	state int32 // State, accessed atomically

	mu       sync.Mutex
	ptmx     *os.File
	cmd      *exec.Cmd
	out      *outputBuffer
	detached time.Time // zero while attached

	// exited is closed exactly once, by reap's cmd.Wait(), which is the
	// sole caller of Wait on this command: os/exec forbids calling Wait
	// more than once or concurrently, so close() must never call it
	// itself — it only signals the child and waits on this channel.
	exited chan struct{}

	// onExit is invoked once, by reap, after an unprompted child death.
	// It lets the owning Manager drop this session's table entry without
	// waiting for grace-period expiry (spec.md §4.4: table entry iff
	// child alive). Unset when the session is constructed outside a
	// Manager, e.g. in tests.
	onExit func()
}

func (s *Session) State() State { return State(atomic.LoadInt32(&s.state)) }

func (s *Session) setState(v State) { atomic.StoreInt32(&s.state, int32(v)) }

// spawnSession opens a pty and forks a shell with the calling thread's
// namespace already switched to ns (so the child inherits it via fork).
// It does not start the pump/reap goroutines — call start() once the
// session is registered in the Manager's table, so an instant child
// death can never race reap's onExit callback against that
// registration.
func spawnSession(device, channelID, shell string, ns netns.NsHandle, rows, cols int) (*Session, error) {
	sess := &Session{Device: device, ChannelID: channelID, out: newOutputBuffer(), exited: make(chan struct{})}
	sess.setState(StateSpawning)

	var ptmx *os.File
	var cmd *exec.Cmd
	err := withNamespace(ns, func() error {
		cmd = exec.Command(shell, "-l")
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		var startErr error
		ptmx, startErr = pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
		return startErr
	})
	if err != nil {
		return nil, model.Wrapf(model.ErrResourceExhausted, err, "spawn pty session for %s/%s", device, channelID)
	}

	sess.ptmx = ptmx
	sess.cmd = cmd
	sess.setState(StateRunning)

	return sess, nil
}

// start launches the pump and reap goroutines. Callers must register the
// session in the Manager's table before calling this.
func (s *Session) start() {
	go s.pump()
	go s.reap()
}

// pump copies child output into the session's bounded buffer in best-
// effort 4 KiB chunks, preserving order exactly as spec.md §4.4 and §5
// require: a reader may receive several chunks coalesced into one, but
// bytes are never reordered.
func (s *Session) pump() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.out.write(chunk)
		}
		if err != nil {
			s.out.close()
			return
		}
	}
}

// reap waits for the child to exit and drives the session into closing
// even if no client ever called Close — a dead child always triggers
// cleanup, per the state machine invariant in spec.md §4.4. It also
// notifies the owning Manager via onExit so an unprompted death doesn't
// leave a dead entry in the session table until grace-expiry.
func (s *Session) reap() {
	s.cmd.Wait()
	close(s.exited)
	if s.State() != StateClosed {
		s.close(0)
	}
	if s.onExit != nil {
		s.onExit()
	}
}

// Write enqueues bytes to the master. Backpressure is whatever the OS
// pty buffer provides: a full pipe blocks this call rather than
// dropping input, matching spec.md §4.4's "never silently drop input".
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()
	if ptmx == nil {
		return 0, model.NewError(model.ErrNotFound, "session is not running", nil)
	}
	return ptmx.Write(p)
}

// Read blocks until output is available, the buffer overflows, the
// session closes, or quit is closed. detached reports that quit fired
// before any of the session-level outcomes; the caller should simply
// stop reading without treating it as the session having closed.
func (s *Session) Read(quit <-chan struct{}) (chunk []byte, ok bool, detached bool) {
	return s.out.read(quit)
}

// Overflowed reports whether this session's output buffer hit its
// bound and had to close rather than keep draining.
func (s *Session) Overflowed() bool { return s.out.didOverflow() }

// Resize updates the kernel TTY size, delivering SIGWINCH to the shell.
func (s *Session) Resize(rows, cols int) error {
	if rows == 0 || cols == 0 {
		return model.NewError(model.ErrInvalidArgument, "rows and cols must be non-zero", nil)
	}
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()
	if ptmx == nil {
		return model.NewError(model.ErrNotFound, "session is not running", nil)
	}
	return pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// markDetached records that the subscriber has gone away so the owning
// Manager can start the reconnect grace period.
func (s *Session) markDetached() {
	s.mu.Lock()
	s.detached = time.Now()
	s.mu.Unlock()
}

// markAttached cancels any pending grace-period expiry.
func (s *Session) markAttached() {
	s.mu.Lock()
	s.detached = time.Time{}
	s.mu.Unlock()
}

func (s *Session) detachedSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached, !s.detached.IsZero()
}

// close runs the SIGHUP -> wait -> SIGKILL -> reap sequence from
// spec.md §4.4. Safe to call multiple times.
func (s *Session) close(graceMs time.Duration) {
	if State(atomic.SwapInt32(&s.state, int32(StateClosing))) == StateClosed {
		return
	}

	s.mu.Lock()
	cmd := s.cmd
	ptmx := s.ptmx
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Signal(syscall.SIGHUP)
		wait := graceMs
		if wait == 0 {
			wait = 200 * time.Millisecond
		}

		select {
		case <-s.exited:
		case <-time.After(wait):
			cmd.Process.Kill()
			<-s.exited // reap's Wait() always completes once the process is gone
		}
	}

	if ptmx != nil {
		ptmx.Close()
	}
	s.out.close()
	s.setState(StateClosed)
}

// withNamespace pins the calling goroutine's OS thread, switches into
// ns, runs fn, and always restores the host namespace — the same
// sequence namespace.withNS and link.namespaceDo use, duplicated here
// because pty.StartWithSize must run its fork on the pinned thread.
func withNamespace(ns netns.NsHandle, fn func() error) error {
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
