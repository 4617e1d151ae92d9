package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/canmetro/turnstiled/internal/auth"
)

var upgrader = websocket.Upgrader{
	// The dashboard is served from the same host; same-origin checks
	// add nothing for a cookie-authenticated LAN device.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const statusPushInterval = time.Second

// handleWS streams state snapshots to the dashboard: one immediately on
// connect, then one per tick until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("httpapi: ws upgrade failed: %v", err)
		return
	}
	s.logger.Printf("httpapi: ws connected %s (%s)", conn.RemoteAddr(), sess.User.Username)

	// Drain client frames so control messages are processed and a close
	// from the peer unblocks the push loop below.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Printf("httpapi: ws read error: %v", err)
				}
				return
			}
		}
	}()

	defer func() {
		_ = conn.Close()
		s.logger.Printf("httpapi: ws disconnected %s", conn.RemoteAddr())
	}()

	if err := conn.WriteJSON(s.controller.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.controller.Snapshot()); err != nil {
				return
			}
		}
	}
}
