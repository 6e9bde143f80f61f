package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kishor-9361/NET-sim/model"
	"github.com/Kishor-9361/NET-sim/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// failureDispatcher is the sole reader of the Topology Manager's
// ComponentFailure channel. It logs every failure and fans it out,
// best-effort, to every packet-channel subscriber currently connected,
// translating a dead observer into an out-of-band notice frame instead
// of leaving subscribers to infer it from a gap in the stream (spec.md
// §4.5, §7's "notify any subscribers via an out-of-band close frame").
type failureDispatcher struct {
	mu   sync.Mutex
	subs map[chan model.ComponentFailure]struct{}
}

func newFailureDispatcher() *failureDispatcher {
	return &failureDispatcher{subs: make(map[chan model.ComponentFailure]struct{})}
}

func (d *failureDispatcher) subscribe() chan model.ComponentFailure {
	ch := make(chan model.ComponentFailure, 8)
	d.mu.Lock()
	d.subs[ch] = struct{}{}
	d.mu.Unlock()
	return ch
}

func (d *failureDispatcher) unsubscribe(ch chan model.ComponentFailure) {
	d.mu.Lock()
	delete(d.subs, ch)
	d.mu.Unlock()
}

// drain blocks until ctx is cancelled or events closes.
func (d *failureDispatcher) drain(ctx context.Context, events <-chan model.ComponentFailure) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			telemetry.ReportError(ctx, fmt.Errorf("component failed: device=%s iface=%s channel=%s reason=%s", evt.Device, evt.Iface, evt.Channel, evt.Reason),
				attribute.String("device.name", evt.Device), attribute.String("iface", evt.Iface))

			d.mu.Lock()
			for ch := range d.subs {
				select {
				case ch <- evt:
				default:
				}
			}
			d.mu.Unlock()
		}
	}
}
