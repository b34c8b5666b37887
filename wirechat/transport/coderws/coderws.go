// Package coderws is the default websocket transport, built on
// github.com/coder/websocket.
package coderws

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wirechat-realtime-go/wirechat"
	"github.com/vovakirdan/wirechat-realtime-go/wirechat/internal"
)

// Dialer opens coder/websocket transports.
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
	ws, _, err := websocket.Dial(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	conn := internal.NewConn(ws, d.ReadTimeout, d.WriteTimeout, d.Codec.Binary())

	hello, err := wirechat.NewHelloFrame(hs, time.Now())
	if err != nil {
		_ = ws.Close(websocket.StatusInternalError, "handshake error")
		return nil, err
	}
	data, err := d.Codec.Marshal(hello)
	if err != nil {
		_ = ws.Close(websocket.StatusInternalError, "handshake error")
		return nil, err
	}
	if err := conn.WriteFrame(ctx, data); err != nil {
		_ = ws.Close(websocket.StatusInternalError, "handshake error")
		return nil, fmt.Errorf("write hello: %w", err)
	}

	s := internal.NewStream(conn, d.Codec, h, d.Logger, d.QueueSize)
	s.Start()
	return s, nil
}
