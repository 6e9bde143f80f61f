package observer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Kishor-9361/NET-sim/model"
	"github.com/Kishor-9361/NET-sim/telemetry"
	"github.com/vishvananda/netns"
	"go.opentelemetry.io/otel/attribute"
)

// backoffSchedule is the exact restart cadence from spec.md §4.5: three
// attempts at 100ms/500ms/2s, failed for good on the fourth.
var backoffSchedule = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}

type capture struct {
	device, iface string
	binary        string
	ns            netns.NsHandle
	fanout        *FanOut
	fail          chan<- model.ComponentFailure

	seq       uint64
	failed    int32
	malformed uint64
}

// run drives the capture process with bounded restart/backoff. It
// returns when ctx is cancelled (normal detach) or once the process has
// failed to stay up through the whole backoff schedule.
func (c *capture) run(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if attempt >= len(backoffSchedule) {
			atomic.StoreInt32(&c.failed, 1)
			telemetry.ReportCriticalError(ctx, fmt.Errorf("capture on %s:%s failed permanently: %w", c.device, c.iface, err),
				attribute.String("device.name", c.device), attribute.String("iface", c.iface))
			if c.fail != nil {
				select {
				case c.fail <- model.ComponentFailure{Device: c.device, Iface: c.iface, Reason: fmt.Sprintf("capture failed permanently: %v", err)}:
				default:
				}
			}
			return
		}
		telemetry.ReportError(ctx, fmt.Errorf("capture on %s:%s exited, restarting: %w", c.device, c.iface, err))
		select {
		case <-time.After(backoffSchedule[attempt]):
		case <-ctx.Done():
			return
		}
	}
}

func (c *capture) Failed() bool { return atomic.LoadInt32(&c.failed) == 1 }

// Malformed reports how many capture lines failed to parse and were
// dropped, per spec.md §4.5's "malformed lines are counted and dropped".
func (c *capture) Malformed() uint64 { return atomic.LoadUint64(&c.malformed) }

// runOnce spawns one capture process inside the device's namespace and
// blocks until it exits or ctx is cancelled, publishing every parsed
// line to the fan-out as it arrives. Malformed lines are best-effort
// dropped, never fatal, per spec.md §4.5.
func (c *capture) runOnce(ctx context.Context) error {
	var cmd *exec.Cmd
	var stdout io.ReadCloser

	err := withNamespace(c.ns, func() error {
		cmd = exec.CommandContext(ctx, c.binary, "-l", "-n", "-tt", "-i", c.iface, "not port 22")
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		stdout = pipe
		return cmd.Start()
	})
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		evt, ok := ParseLine(c.device, c.iface, scanner.Text(), atomic.AddUint64(&c.seq, 1))
		if !ok {
			atomic.AddUint64(&c.malformed, 1)
			continue
		}
		c.fanout.Publish(evt)
	}

	return cmd.Wait()
}

// withNamespace is the observer package's own copy of the pin-thread /
// enter-namespace / restore sequence every kernel-boundary package in
// this tree repeats (see namespace.withNS, link.namespaceDo,
// pty.withNamespace): the capture process must fork from a thread
// already joined to the device's namespace.
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
