package relayserver

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// pongWait/pingPeriod bound how long a sync connection may sit idle before
// the relay drops it, matching the spec's reconnect-on-silence expectation
// for the sync transport (spec §4.5: the relay is stateless per message,
// but a connection is otherwise kept alive with periodic pings).
const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Serve upgrades one HTTP request to a websocket connection and runs a
// request/reply loop against Server.HandleFrame until the peer disconnects.
// Unlike the teacher's Hub (one-to-many broadcast), each relay connection is
// its own isolated request/response session — there is nothing to fan out,
// since sync rounds are point-to-point between one device and the relay.
func (s *Server) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[relayserver] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// sessionID correlates every access-log line for one connection without
	// depending on anything the client sends before its first sync frame.
	sessionID := uuid.New()
	log.Printf("[relayserver] session %s opened from %s", sessionID, c.ClientIP())
	defer log.Printf("[relayserver] session %s closed", sessionID)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go s.pingLoop(conn, done)
	defer close(done)

	ctx := c.Request.Context()
	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[relayserver] session %s read error: %v", sessionID, err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		resp, err := s.HandleFrame(ctx, frame)
		if err != nil {
			log.Printf("[relayserver] session %s frame handling failed: %v", sessionID, err)
			continue
		}
		if resp == nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, resp); err != nil {
			log.Printf("[relayserver] session %s write error: %v", sessionID, err)
			return
		}
	}
}

func (s *Server) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
