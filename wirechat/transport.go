package wirechat

import (
	"context"
	"sync"
)

// Handshake is the payload carried when a transport opens.
type Handshake struct {
	UserID string
	Token  string
}

// Handler receives what a transport reads.
//
// HandleFrame is called from a single goroutine in the order frames arrived.
// HandleDisconnect is called at most once, only for losses the client did not
// request; a transport closed through Transport.Close never reports one.
type Handler interface {
	HandleFrame(f Frame)
	HandleDisconnect(err error)
}

// Transport is one live bidirectional channel.
type Transport interface {
	// Send queues f for writing without blocking.
	Send(f Frame) error
	// Close shuts the channel down as an explicit local disconnect.
	Close() error
}

// Dialer opens transports. Dial returns once the handshake completes or ctx
// is done. Implementations must not reconnect on their own.
type Dialer interface {
	Dial(ctx context.Context, hs Handshake, h Handler) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, hs Handshake, h Handler) (Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, hs Handshake, h Handler) (Transport, error) {
	return f(ctx, hs, h)
}

// transportHandler binds one transport generation to the client. Frames that
// arrive before the client installs the transport are held and flushed in
// order by activate.
type transportHandler struct {
	c   *Client
	gen uint64

	mu      sync.Mutex
	active  bool
	pending []Frame
	lost    bool
	lostErr error
}

func (h *transportHandler) HandleFrame(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		h.pending = append(h.pending, f)
		return
	}
	h.c.handleFrame(h.gen, f)
}

func (h *transportHandler) HandleDisconnect(err error) {
	h.mu.Lock()
	if !h.active {
		h.lost, h.lostErr = true, err
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.c.handleTransportLoss(h.gen, err)
}

// activate flushes held frames and starts direct delivery.
func (h *transportHandler) activate() {
	h.mu.Lock()
	for _, f := range h.pending {
		h.c.handleFrame(h.gen, f)
	}
	h.pending = nil
	h.active = true
	lost, err := h.lost, h.lostErr
	h.mu.Unlock()
	if lost {
		h.c.handleTransportLoss(h.gen, err)
	}
}
