package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 20 * time.Second
)

// MessageRequestStatus asks the server for a fresh status snapshot.
const MessageRequestStatus = "request_status"

// clientMessage is sent by viewers over the event stream.
type clientMessage struct {
	Type string `json:"type"`
}

// handleEvents upgrades to a websocket and streams events to the viewer
// until either side closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	id := uuid.New().String()
	sub, err := s.deps.Events.Subscribe(id)
	if err != nil {
		s.logger.Warn("subscribe failed", "subscriber", id, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), time.Now().Add(writeWait))
		return
	}
	defer func() { _ = s.deps.Events.Unsubscribe(id) }()
	s.logger.Info("viewer connected", "subscriber", id, "remote", r.RemoteAddr)

	// Writer: owns all data writes on conn.
	done := make(chan struct{})
	go func() {
		defer closeConn()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Info("viewer disconnected", "subscriber", id, "stats", sub.Stats())
			return
		}
		if msg.Type == MessageRequestStatus {
			if err := s.deps.Events.Resync(id); err != nil {
				return
			}
		}
	}
}
