package internal

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/vovakirdan/wirechat-realtime-go/wirechat"
)

var (
	ErrStreamClosed = errors.New("stream closed")
	ErrQueueFull    = errors.New("send queue full")
)

// FrameConn is a message-oriented connection. ReadFrame is only called from
// the read loop and WriteFrame only from the write loop; Close may be called
// from anywhere and must unblock both.
type FrameConn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, data []byte) error
	Close() error
}

// Stream pumps frames between a FrameConn and a wirechat.Handler. It
// implements wirechat.Transport.
type Stream struct {
	conn    FrameConn
	codec   wirechat.Codec
	handler wirechat.Handler
	logger  wirechat.Logger
	queue   chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// NewStream creates a stream. Call Start to run its loops.
func NewStream(conn FrameConn, codec wirechat.Codec, h wirechat.Handler, logger wirechat.Logger, queueSize int) *Stream {
	if logger == nil {
		logger = wirechat.NopLogger()
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		conn:    conn,
		codec:   codec,
		handler: h,
		logger:  logger,
		queue:   make(chan []byte, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the read and write loops.
func (s *Stream) Start() {
	go s.readLoop()
	go s.writeLoop()
}

// Send encodes f and queues it. It never blocks.
func (s *Stream) Send(f wirechat.Frame) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	data, err := s.codec.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case s.queue <- data:
		return nil
	case <-s.ctx.Done():
		return ErrStreamClosed
	default:
		return ErrQueueFull
	}
}

// Close shuts the stream down without reporting a disconnect.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.conn.Close()
	s.cancel()
	return err
}

// fail reports an unrequested loss exactly once, unless Close came first.
func (s *Stream) fail(err error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	_ = s.conn.Close()
	s.logger.Warn("stream lost", map[string]any{"error": err.Error()})
	s.handler.HandleDisconnect(err)
}

func (s *Stream) readLoop() {
	for {
		data, err := s.conn.ReadFrame(s.ctx)
		if err != nil {
			s.fail(err)
			return
		}
		f, err := s.codec.Unmarshal(data)
		if err != nil {
			s.logger.Warn("dropping undecodable frame", map[string]any{"error": err.Error(), "size": len(data)})
			continue
		}
		s.handler.HandleFrame(f)
	}
}

func (s *Stream) writeLoop() {
	for {
		select {
		case data := <-s.queue:
			if err := s.conn.WriteFrame(s.ctx, data); err != nil {
				s.fail(err)
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}
