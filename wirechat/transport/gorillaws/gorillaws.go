// Package gorillaws is a websocket transport built on
// github.com/gorilla/websocket.
package gorillaws

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vovakirdan/wirechat-realtime-go/wirechat"
	"github.com/vovakirdan/wirechat-realtime-go/wirechat/internal"
)

// Dialer opens gorilla/websocket transports.
type Dialer struct {
	URL          string
	Codec        wirechat.Codec
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	QueueSize    int
	Logger       wirechat.Logger
}

// New returns a Dialer configured from cfg.
func New(cfg wirechat.Config, codec wirechat.Codec, logger wirechat.Logger) *Dialer {
	return &Dialer{
		URL:          cfg.URL,
		Codec:        codec,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		QueueSize:    cfg.SendQueueSize,
		Logger:       logger,
	}
}

// Dial connects, writes the hello frame and starts the stream.
func (d *Dialer) Dial(ctx context.Context, hs wirechat.Handshake, h wirechat.Handler) (wirechat.Transport, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	c := &conn{ws: ws, readTimeout: d.ReadTimeout, writeTimeout: d.WriteTimeout, msgType: websocket.TextMessage}
	if d.Codec.Binary() {
		c.msgType = websocket.BinaryMessage
	}

	hello, err := wirechat.NewHelloFrame(hs, time.Now())
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	data, err := d.Codec.Marshal(hello)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetWriteDeadline(deadline)
	}
	if err := ws.WriteMessage(c.msgType, data); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("write hello: %w", err)
	}

	s := internal.NewStream(c, d.Codec, h, d.Logger, d.QueueSize)
	s.Start()
	return s, nil
}

// conn adapts *websocket.Conn to internal.FrameConn. Gorilla has no context
// support, so timeouts become deadlines and Close unblocks the reader.
type conn struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
	msgType      int
}

func (c *conn) ReadFrame(context.Context) ([]byte, error) {
	var deadline time.Time
	if c.readTimeout > 0 {
		deadline = time.Now().Add(c.readTimeout)
	}
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *conn) WriteFrame(_ context.Context, data []byte) error {
	var deadline time.Time
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(c.msgType, data)
}

func (c *conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
