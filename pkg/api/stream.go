package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are left to the CORS configuration.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleStream upgrades to a websocket and forwards every event change
// notice to the client. The first frame is an "init" message. Clients that
// fall behind lose notices rather than slowing down writers, so they should
// re-query /api/events after a reconnect.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		logger.Debugf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, notices := s.hub.Register()
	defer s.hub.Unregister(id)
	logger.Debugf("stream listener %d connected (%d total)", id, s.hub.Size())

	if err := s.writeFrame(conn, StreamMessage{Type: "init", Time: time.Now().UTC()}); err != nil {
		return
	}

	// The read loop only handles control frames; it ends when the client
	// goes away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			logger.Debugf("stream listener %d disconnected", id)
			return
		case <-r.Context().Done():
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			msg := StreamMessage{Type: "notice", Notice: &n, Time: time.Now().UTC()}
			if err := s.writeFrame(conn, msg); err != nil {
				logger.Debugf("stream listener %d write failed: %v", id, err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(msg)
}
