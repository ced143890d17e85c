package server

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// upgrader upgrades HTTP requests to WebSockets.
//
// CheckOrigin accepts every origin. The server binds to localhost by
// default; restrict this before exposing it elsewhere.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWSEvents streams session events. A new client first receives a
// hello message holding the current snapshot.
//
// Incoming messages are ignored; the read loop only detects disconnects.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	client := s.events.Add(conn)
	s.log.Debug("websocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	snap, err := s.sess.Snapshot(ctx)
	cancel()
	if err == nil {
		_ = client.Send(WSMessage{Type: EventHello, Data: snap})
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.events.Remove(client)
			s.log.Debug("websocket client gone", zap.String("remote_addr", r.RemoteAddr))
			return
		}
	}
}
