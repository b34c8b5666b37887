// Package socketio is a transport for servers speaking Socket.IO. Every
// frame type maps to a Socket.IO event of the same name carrying the frame
// data; the handshake travels in the connection auth payload.
package socketio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/vovakirdan/wirechat-realtime-go/wirechat"
)

// Dialer opens Socket.IO transports.
type Dialer struct {
	URL    string
	Path   string
	Logger wirechat.Logger
}

// New returns a Dialer configured from cfg.
func New(cfg wirechat.Config, logger wirechat.Logger) *Dialer {
	if logger == nil {
		logger = wirechat.NopLogger()
	}
	return &Dialer{URL: cfg.URL, Path: cfg.Path, Logger: logger}
}

// Dial connects with built-in reconnection disabled and waits for the
// server to accept or reject the handshake.
func (d *Dialer) Dial(ctx context.Context, hs wirechat.Handshake, h wirechat.Handler) (wirechat.Transport, error) {
	opts := socket.DefaultOptions()
	if d.Path != "" {
		opts.SetPath(d.Path)
	}
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetReconnection(false)
	opts.SetAuth(map[string]any{
		"userId": hs.UserID,
		"token":  hs.Token,
	})

	sock, err := socket.Connect(d.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", d.URL, err)
	}
	t := &transport{sock: sock, handler: h, logger: d.Logger}

	result := make(chan error, 1)
	settle := func(err error) {
		select {
		case result <- err:
		default:
		}
	}
	sock.On(types.EventName("connect"), func(...any) { settle(nil) })
	sock.On(types.EventName("connect_error"), func(args ...any) {
		settle(fmt.Errorf("connect_error: %v", firstArg(args)))
	})
	sock.On(types.EventName("disconnect"), func(args ...any) {
		t.lost(fmt.Errorf("socket.io disconnect: %v", firstArg(args)))
	})
	for _, name := range wirechat.InboundEvents {
		sock.On(types.EventName(name), func(args ...any) { t.deliver(name, args) })
	}
	if sock.Connected() {
		settle(nil)
	}

	select {
	case err := <-result:
		if err != nil {
			t.closed.Store(true)
			sock.Disconnect()
			return nil, err
		}
	case <-ctx.Done():
		t.closed.Store(true)
		sock.Disconnect()
		return nil, ctx.Err()
	}
	return t, nil
}

type transport struct {
	sock    *socket.Socket
	handler wirechat.Handler
	logger  wirechat.Logger

	deliverMu sync.Mutex
	closed    atomic.Bool
}

func (t *transport) deliver(event string, args []any) {
	var data json.RawMessage
	if v := firstArg(args); v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			t.logger.Warn("dropping undecodable event", map[string]any{"event": event, "error": err.Error()})
			return
		}
		data = raw
	}
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()
	if t.closed.Load() {
		return
	}
	t.handler.HandleFrame(wirechat.Frame{Type: event, Data: data, Timestamp: time.Now().UnixMilli()})
}

func (t *transport) lost(err error) {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.logger.Warn("socket.io connection lost", map[string]any{"error": err.Error()})
	t.handler.HandleDisconnect(err)
}

// Send emits f.Type with the decoded frame data.
func (t *transport) Send(f wirechat.Frame) error {
	if t.closed.Load() {
		return fmt.Errorf("socket.io transport closed")
	}
	var payload any
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &payload); err != nil {
			return wirechat.WrapError(wirechat.ErrorSerialization, "decode frame data", err)
		}
	}
	t.sock.Emit(f.Type, payload)
	return nil
}

// Close disconnects without reporting a loss.
func (t *transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.sock.Disconnect()
	return nil
}

func firstArg(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}
