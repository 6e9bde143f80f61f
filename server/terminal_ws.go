package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var terminalUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// terminalFrame is a client->server frame: {type:"input", data:...} or
// {type:"resize", rows:.., cols:..} (spec.md §6).
type terminalFrame struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Cols int    `json:"cols,omitempty"`
}

// handleTerminal upgrades to a websocket bound to one PTY session. One
// channel equals one session; the underlying session survives a
// disconnect for the Session Manager's grace period.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	device, channelID := vars["name"], vars["channel_id"]

	rows, _ := strconv.Atoi(r.URL.Query().Get("rows"))
	cols, _ := strconv.Atoi(r.URL.Query().Get("cols"))
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 80
	}

	sess, err := s.pty.Open(r.Context(), device, channelID, rows, cols)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := terminalUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	quit := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			chunk, ok, detached := sess.Read(quit)
			if detached {
				return
			}
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var frame terminalFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "input":
			sess.Write([]byte(frame.Data))
		case "resize":
			sess.Resize(frame.Rows, frame.Cols)
		}
	}

	// Stop this connection's reader immediately, then start the grace
	// period — both must happen as soon as the client goes away, not
	// after the reader happens to wake on its own output (spec.md §5).
	close(quit)
	s.pty.Detach(device, channelID)
	<-done
}
