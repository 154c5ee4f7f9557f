package syncclient

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// frameTransport abstracts one binary request/reply connection so sync.go's
// round logic can be tested without a real network socket.
type frameTransport interface {
	WriteFrame(ctx context.Context, b []byte) error
	ReadFrame(ctx context.Context) ([]byte, error)
	Ping(ctx context.Context) error
}

type websocketTransport struct {
	conn *websocket.Conn
}

func newWebsocketTransport(conn *websocket.Conn) *websocketTransport {
	return &websocketTransport{conn: conn}
}

func (t *websocketTransport) WriteFrame(ctx context.Context, b []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (t *websocketTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(readTimeout)
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	_, b, err := t.conn.ReadMessage()
	return b, err
}

func (t *websocketTransport) Ping(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	return t.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
)
