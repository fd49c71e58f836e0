package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard is served from a trusted operator network.
		return true
	},
}

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleProgressWS pushes a progress snapshot whenever the tracker version
// moves. The client receives the current state immediately on connect.
func (s *Server) handleProgressWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Drain client frames so pong handling and close detection work.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	state := s.tracker.Snapshot()
	if err := s.writeState(conn, state); err != nil {
		return
	}
	lastVersion := state.Version

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
			if s.tracker.Version() == lastVersion {
				continue
			}
			state := s.tracker.Snapshot()
			if err := s.writeState(conn, state); err != nil {
				return
			}
			lastVersion = state.Version
		}
	}
}

func (s *Server) writeState(conn *websocket.Conn, state any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(state); err != nil {
		s.logger.Debug().Err(err).Msg("websocket client gone")
		return err
	}
	return nil
}
