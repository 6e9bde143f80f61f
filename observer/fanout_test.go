package observer

import (
	"testing"

	"github.com/Kishor-9361/NET-sim/model"
)

func TestSubscriberOverflowDropsOldest(t *testing.T) {
	sub := newSubscriber()
	for i := 0; i < maxQueuedEvents+5; i++ {
		sub.publish(model.PacketEvent{Seq: uint64(i)})
	}

	first, ok := sub.Next()
	if !ok {
		t.Fatalf("expected an event")
	}
	if first.Seq != 5 {
		t.Fatalf("expected the oldest 5 events to have been dropped, got first seq %d", first.Seq)
	}
	if first.Dropped != 5 {
		t.Fatalf("expected dropped counter of 5, got %d", first.Dropped)
	}
}

func TestFanOutPublishReachesAllSubscribers(t *testing.T) {
	f := NewFanOut()
	a := f.Subscribe()
	b := f.Subscribe()
	defer f.Unsubscribe(a)
	defer f.Unsubscribe(b)

	f.Publish(model.PacketEvent{Proto: "ICMP"})

	if evt, ok := a.Next(); !ok || evt.Proto != "ICMP" {
		t.Fatalf("subscriber a did not receive event: ok=%v evt=%+v", ok, evt)
	}
	if evt, ok := b.Next(); !ok || evt.Proto != "ICMP" {
		t.Fatalf("subscriber b did not receive event: ok=%v evt=%+v", ok, evt)
	}
}

func TestFanOutUnsubscribeStopsDelivery(t *testing.T) {
	f := NewFanOut()
	sub := f.Subscribe()
	f.Unsubscribe(sub)

	f.Publish(model.PacketEvent{Proto: "TCP"})
	if _, ok := sub.Next(); ok {
		t.Fatalf("expected no events after unsubscribe")
	}
}
