package observer

import (
	"sync"
	"sync/atomic"

	"github.com/Kishor-9361/NET-sim/model"
)

const maxQueuedEvents = 1024

// subscriber is one packet-channel client. Its queue is bounded; on
// overflow the oldest event is discarded and Dropped increments, per
// spec.md §5.
type subscriber struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []model.PacketEvent
	dropped uint64
	closed  bool
}

func newSubscriber() *subscriber {
	s := &subscriber{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) publish(evt model.PacketEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	dropped := false
	if len(s.queue) >= maxQueuedEvents {
		s.queue = s.queue[1:]
		s.dropped++
		dropped = true
	}
	evt.Dropped = s.dropped
	s.queue = append(s.queue, evt)
	s.cond.Broadcast()
	return dropped
}

// Next blocks until an event is queued or the subscriber is closed. The
// returned event's Dropped field carries this subscriber's cumulative
// drop count as of the moment it is read.
func (s *subscriber) Next() (model.PacketEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return model.PacketEvent{}, false
	}
	evt := s.queue[0]
	s.queue = s.queue[1:]
	evt.Dropped = s.dropped
	return evt, true
}

func (s *subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

// FanOut is the single writer, many reader distribution point from
// spec.md §3/§4.5. It holds no event history of its own — only the
// current subscriber set.
type FanOut struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	dropped uint64
}

func NewFanOut() *FanOut {
	return &FanOut{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new packet-channel client and returns a handle
// it can Next() on and must Close() when done.
func (f *FanOut) Subscribe() *subscriber {
	sub := newSubscriber()
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub
}

func (f *FanOut) Unsubscribe(sub *subscriber) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
	sub.Close()
}

// Publish pushes evt to every current subscriber.
func (f *FanOut) Publish(evt model.PacketEvent) {
	f.mu.Lock()
	subs := make([]*subscriber, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		if sub.publish(evt) {
			atomic.AddUint64(&f.dropped, 1)
		}
	}
}

// Dropped reports how many packet events have been discarded across every
// subscriber queue, cumulative for the life of the process.
func (f *FanOut) Dropped() uint64 { return atomic.LoadUint64(&f.dropped) }
