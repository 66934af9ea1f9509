package internal

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Conn wraps websocket.Conn with a write timeout. Reads never time out: a
// chat channel may sit idle for as long as the user likes.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

// maxMessageSize bounds a single inbound frame; long replies exceed the
// library's 32 KiB default.
const maxMessageSize = 4 << 20

func NewConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	ws.SetReadLimit(maxMessageSize)
	return &Conn{ws: ws, writeTimeout: writeTimeout}
}

// Dial opens a websocket to url, bounded by handshakeTimeout when positive.
func Dial(ctx context.Context, url string, handshakeTimeout, writeTimeout time.Duration) (*Conn, error) {
	if handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, handshakeTimeout)
		defer cancel()
	}
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(ws, writeTimeout), nil
}

// ReadText returns the payload of the next message, whatever its type.
func (c *Conn) ReadText(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

// WriteJSON writes v as a single JSON text message.
func (c *Conn) WriteJSON(ctx context.Context, v any) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return wsjson.Write(ctx, c.ws, v)
}

func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}

// CloseNow drops the connection without a close handshake.
func (c *Conn) CloseNow() error {
	return c.ws.CloseNow()
}
