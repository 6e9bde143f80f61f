package server

import (
	"net/http"

	"github.com/Kishor-9361/NET-sim/model"
	"github.com/gorilla/websocket"
)

var packetUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// packetFrame adds the per-connection monotonic sequence number spec.md
// §6 requires on top of the Packet Event fields.
type packetFrame struct {
	model.PacketEvent
	ConnSeq uint64 `json:"conn_seq"`
}

// observerFailedFrame is the out-of-band notice spec.md §7 requires once
// an observer exhausts its restart budget: an explicit frame rather than
// silence on that device/iface, since the packet channel is shared by
// every device and silence alone would be indistinguishable from a quiet
// interface.
type observerFailedFrame struct {
	Type   string `json:"type"`
	Device string `json:"device"`
	Iface  string `json:"iface"`
	Reason string `json:"reason"`
}

// handlePackets upgrades to a websocket that streams every packet event
// observed anywhere in the topology. The client sends nothing
// meaningful; disconnect drops the subscriber immediately (spec.md §5).
func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	conn, err := packetUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.observer.FanOut().Subscribe()
	defer s.observer.FanOut().Unsubscribe(sub)

	failCh := s.failures.subscribe()
	defer s.failures.unsubscribe(failCh)

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	packets := make(chan model.PacketEvent)
	go func() {
		defer close(packets)
		for {
			evt, ok := sub.Next()
			if !ok {
				return
			}
			packets <- evt
		}
	}()

	var connSeq uint64
	for {
		select {
		case <-readerDone:
			return
		case evt, ok := <-packets:
			if !ok {
				return
			}
			connSeq++
			if err := conn.WriteJSON(packetFrame{PacketEvent: evt, ConnSeq: connSeq}); err != nil {
				return
			}
		case fail := <-failCh:
			if err := conn.WriteJSON(observerFailedFrame{Type: "observer_failed", Device: fail.Device, Iface: fail.Iface, Reason: fail.Reason}); err != nil {
				return
			}
		}
	}
}
