package internal

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// Conn adapts a coder/websocket connection to FrameConn.
type Conn struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
	msgType      websocket.MessageType
}

// NewConn wraps ws. Frames are written as binary messages if binary is set,
// text otherwise. A zero timeout disables it.
func NewConn(ws *websocket.Conn, readTimeout, writeTimeout time.Duration, binary bool) *Conn {
	c := &Conn{ws: ws, readTimeout: readTimeout, writeTimeout: writeTimeout, msgType: websocket.MessageText}
	if binary {
		c.msgType = websocket.MessageBinary
	}
	return c
}

func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	ctx, cancel := bounded(ctx, c.readTimeout)
	defer cancel()
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *Conn) WriteFrame(ctx context.Context, data []byte) error {
	ctx, cancel := bounded(ctx, c.writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, c.msgType, data)
}

// Close sends a normal closure and releases the connection.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "client disconnect")
}

func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
