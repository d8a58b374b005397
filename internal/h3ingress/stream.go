package h3ingress

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hoshiyomiX/Beacon/internal/config"
	"github.com/hoshiyomiX/Beacon/internal/errcls"
	"github.com/hoshiyomiX/Beacon/internal/metrics"
)

// pingInterval mirrors internal/wsstream.PingInterval: the same
// idle-connection concern applies to this ingress.
const pingInterval = 30 * time.Second

// Stream adapts a raw, already-upgraded RFC 6455 byte stream (an HTTP/3
// extended-CONNECT stream on which the client speaks WebSocket framing
// directly) to session.Stream, mirroring internal/wsstream.Adaptor's
// contract so the session driver and protocol handlers don't need to
// know which ingress accepted the connection.
type Stream struct {
	rw    io.ReadWriteCloser
	r     *bufio.Reader
	limit config.Limits

	mu       sync.Mutex
	buf      []byte
	pending  []byte // message bytes that didn't fit in buf yet; drained before reading more
	lastPing time.Time
}

// New wraps rw (the HTTP/3 stream after the WebSocket handshake
// response has been written).
func New(rw io.ReadWriteCloser, limit config.Limits) *Stream {
	return &Stream{
		rw:       rw,
		r:        bufio.NewReader(rw),
		limit:    limit,
		buf:      make([]byte, 0, limit.BufferCap),
		lastPing: time.Now(),
	}
}

func (s *Stream) FillUntil(ctx context.Context, n int) error {
	deadline := time.Now().Add(s.limit.HandshakeTimeout)
	for {
		s.mu.Lock()
		s.drainPendingLocked()
		have := len(s.buf)
		blocked := len(s.pending) > 0
		s.mu.Unlock()
		if have >= n {
			return nil
		}
		if blocked {
			// Buffer at capacity with a message still waiting: signal
			// not-ready without dropping it, matching wsstream.Adaptor.
			return nil
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		data, done, err := s.readOneDataFrame()
		if err != nil {
			if errcls.IsNetClose(err) {
				return nil
			}
			return err
		}
		if done {
			return nil
		}
		s.appendLocked(data)
	}
}

// drainPendingLocked moves as much of a held-back message into buf as
// currently has room. Callers must hold s.mu.
func (s *Stream) drainPendingLocked() {
	if len(s.pending) == 0 {
		return
	}
	room := s.limit.BufferCap - len(s.buf)
	if room <= 0 {
		return
	}
	n := len(s.pending)
	if n > room {
		n = room
	}
	s.buf = append(s.buf, s.pending[:n]...)
	s.pending = s.pending[n:]
}

// appendLocked admits a freshly read frame payload into buf without ever
// dropping bytes: whatever doesn't fit is held in pending and drained
// once the consumer frees up room.
func (s *Stream) appendLocked(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.limit.BufferCap - len(s.buf)
	if room >= len(data) {
		s.buf = append(s.buf, data...)
		return
	}
	if room > 0 {
		s.buf = append(s.buf, data[:room]...)
		data = data[room:]
	}
	s.pending = append(s.pending, data...)
	metrics.BackpressureTotal.Inc()
}

// readOneDataFrame reads and handles control frames transparently, and
// returns the first data-frame payload encountered. done=true means the
// peer closed the stream cleanly.
func (s *Stream) readOneDataFrame() (data []byte, done bool, err error) {
	s.maybePing()

	f, err := s.readFrame()
	if err != nil {
		return nil, false, err
	}
	switch f.Opcode {
	case opBinary, opText, opCont:
		return f.Payload, false, nil
	case opPing:
		s.mu.Lock()
		_ = s.writeControlFrame(opPong, f.Payload)
		s.mu.Unlock()
		return nil, false, nil
	case opPong:
		return nil, false, nil
	case opClose:
		return nil, true, nil
	default:
		return nil, false, nil
	}
}

func (s *Stream) Peek(n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.buf) {
		n = len(s.buf)
	}
	out := make([]byte, n)
	copy(out, s.buf[:n])
	return out
}

func (s *Stream) ReadByte() (byte, error) {
	var b [1]byte
	if err := s.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *Stream) ReadFull(buf []byte) error {
	if err := s.FillUntil(context.Background(), len(buf)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < len(buf) {
		return fmt.Errorf("short read: wanted %d, have %d", len(buf), len(s.buf))
	}
	copy(buf, s.buf[:len(buf)])
	s.buf = s.buf[len(buf):]
	return nil
}

func (s *Stream) ReadChunk(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	s.drainPendingLocked()
	if len(s.buf) > 0 {
		n := copy(p, s.buf)
		s.buf = s.buf[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	data, done, err := s.readOneDataFrame()
	if err != nil {
		if errcls.IsNetClose(err) {
			return 0, nil
		}
		return 0, err
	}
	if done {
		return 0, nil
	}
	if len(data) > len(p) {
		s.appendLocked(data[len(p):])
		data = data[:len(p)]
	}
	return copy(p, data), nil
}

func (s *Stream) Write(_ context.Context, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeDataFrame(opBinary, p); err != nil {
		if errcls.IsNetClose(err) {
			return errcls.Tag(errcls.KindUnknown, fmt.Errorf("broken pipe: %w", err))
		}
		return err
	}
	return nil
}

func (s *Stream) CloseWrite(ctx context.Context) error {
	return s.Shutdown(ctx)
}

func (s *Stream) Shutdown(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeCloseFrame(1000, "shutdown"); err != nil {
		if errcls.IsNetClose(err) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Stream) maybePing() {
	s.mu.Lock()
	due := time.Since(s.lastPing) >= pingInterval
	if due {
		s.lastPing = time.Now()
	}
	s.mu.Unlock()
	if due {
		s.mu.Lock()
		_ = s.writeControlFrame(opPing, nil)
		s.mu.Unlock()
	}
}
