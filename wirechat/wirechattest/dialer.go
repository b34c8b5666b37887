package wirechattest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/vovakirdan/wirechat-realtime-go/wirechat"
)

// ErrClosed is returned by Send on a closed or dropped Transport.
var ErrClosed = errors.New("wirechattest: transport closed")

// Dialer is an in-memory wirechat.Dialer. Each successful Dial creates a
// Transport the test can drive.
type Dialer struct {
	mu         sync.Mutex
	dials      int
	failures   []error
	hang       bool
	transports []*Transport
}

// NewDialer returns a dialer whose dials succeed immediately.
func NewDialer() *Dialer { return &Dialer{} }

// Dial implements wirechat.Dialer.
func (d *Dialer) Dial(ctx context.Context, hs wirechat.Handshake, h wirechat.Handler) (wirechat.Transport, error) {
	d.mu.Lock()
	d.dials++
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		d.mu.Unlock()
		return nil, err
	}
	hang := d.hang
	d.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	t := &Transport{Handshake: hs, handler: h}
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

// FailNext makes the next len(errs) dials fail with errs in order.
func (d *Dialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

// Hang makes dials block until their context is done.
func (d *Dialer) Hang(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hang = on
}

// Dials returns how many times Dial was called.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Transports returns every transport created so far.
func (d *Dialer) Transports() []*Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Transport(nil), d.transports...)
}

// Last returns the most recent transport, or nil.
func (d *Dialer) Last() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// Transport records sent frames and lets the test inject inbound traffic.
type Transport struct {
	Handshake wirechat.Handshake

	handler wirechat.Handler

	mu     sync.Mutex
	sent   []wirechat.Frame
	closed bool
	lost   bool
}

// Send implements wirechat.Transport.
func (t *Transport) Send(f wirechat.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.lost {
		return ErrClosed
	}
	t.sent = append(t.sent, f)
	return nil
}

// Close implements wirechat.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Sent returns every frame sent so far.
func (t *Transport) Sent() []wirechat.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]wirechat.Frame(nil), t.sent...)
}

// SentOfType returns the sent frames of type typ.
func (t *Transport) SentOfType(typ string) []wirechat.Frame {
	var out []wirechat.Frame
	for _, f := range t.Sent() {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

// Deliver feeds f to the client as if read from the wire.
func (t *Transport) Deliver(f wirechat.Frame) {
	t.handler.HandleFrame(f)
}

// Emit marshals payload into a frame of type typ and delivers it.
func (t *Transport) Emit(typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	t.Deliver(wirechat.Frame{Type: typ, Data: data, Timestamp: time.Now().UnixMilli()})
}

// Drop simulates an unrequested loss of the connection.
func (t *Transport) Drop(err error) {
	t.mu.Lock()
	if t.closed || t.lost {
		t.mu.Unlock()
		return
	}
	t.lost = true
	t.mu.Unlock()
	t.handler.HandleDisconnect(err)
}
