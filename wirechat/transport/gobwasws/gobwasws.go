// Package gobwasws is a websocket transport built on github.com/gobwas/ws.
package gobwasws

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/vovakirdan/wirechat-realtime-go/wirechat"
	"github.com/vovakirdan/wirechat-realtime-go/wirechat/internal"
)

// Dialer opens gobwas/ws transports.
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
	nc, br, _, err := ws.Dialer{}.Dial(ctx, d.URL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	c := &conn{nc: nc, r: nc, readTimeout: d.ReadTimeout, writeTimeout: d.WriteTimeout, op: ws.OpText}
	if br != nil {
		// The server may have sent frames along with the handshake response.
		c.r = io.MultiReader(br, nc)
	}
	if d.Codec.Binary() {
		c.op = ws.OpBinary
	}

	hello, err := wirechat.NewHelloFrame(hs, time.Now())
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	data, err := d.Codec.Marshal(hello)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	if err := c.WriteFrame(ctx, data); err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("write hello: %w", err)
	}

	s := internal.NewStream(c, d.Codec, h, d.Logger, d.QueueSize)
	s.Start()
	return s, nil
}

// conn adapts a raw net.Conn speaking client-side websocket framing.
type conn struct {
	nc           net.Conn
	r            io.Reader
	readTimeout  time.Duration
	writeTimeout time.Duration
	op           ws.OpCode

	wmu sync.Mutex
}

// ReadFrame returns the next data message. Control frames are answered
// inline while holding wmu, so replies never interleave with a data write.
func (c *conn) ReadFrame(context.Context) ([]byte, error) {
	var deadline time.Time
	if c.readTimeout > 0 {
		deadline = time.Now().Add(c.readTimeout)
	}
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	control := c.controlHandler()
	rd := &wsutil.Reader{
		Source:         c.r,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(rd)
	}
}

func (c *conn) controlHandler() wsutil.FrameHandlerFunc {
	reply := wsutil.ControlFrameHandler(c.nc, ws.StateClientSide)
	return func(h ws.Header, r io.Reader) error {
		c.wmu.Lock()
		defer c.wmu.Unlock()
		return reply(h, r)
	}
}

func (c *conn) WriteFrame(_ context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	var deadline time.Time
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if err := c.nc.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return wsutil.WriteClientMessage(c.nc, c.op, data)
}

func (c *conn) Close() error {
	c.wmu.Lock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(time.Second))
	_ = wsutil.WriteClientMessage(c.nc, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, "client disconnect"))
	c.wmu.Unlock()
	return c.nc.Close()
}
