// Package wsstream presents a *websocket.Conn as a byte-oriented,
// backpressure-aware stream: a bounded staging buffer fed by inbound WS
// messages, drained in FIFO order by the protocol handlers and the
// relay. Grounded on original_source/src/proxy/conn.rs's ProxyStream
// (fill_buffer_until/peek_buffer/AsyncRead/AsyncWrite, keep-alive ping)
// and on the teacher's internal/proxy/pumps.go idiom of driving
// *websocket.Conn with explicit deadlines and Set*Handler callbacks.
package wsstream

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hoshiyomiX/Beacon/internal/config"
	"github.com/hoshiyomiX/Beacon/internal/errcls"
	"github.com/hoshiyomiX/Beacon/internal/metrics"
)

// PingInterval mirrors the Rust original's PING_INTERVAL_MS: Cloudflare
// (and many WS intermediaries) close idle connections after ~100s, so a
// session that's waiting on a slow target still needs to keep the
// client-facing socket alive.
const PingInterval = 30 * time.Second

// Adaptor turns a *websocket.Conn into an ordered byte stream with a
// fixed-capacity staging buffer. Exactly one logical byte stream exists
// in each direction; the buffer is owned exclusively by the Adaptor.
type Adaptor struct {
	conn  *websocket.Conn
	limit config.Limits

	mu      sync.Mutex // guards buf/pending; also serializes writes against keep-alive pings
	buf     []byte
	pending []byte // message bytes that didn't fit in buf yet; drained before reading more

	lastPing time.Time
	sessID   string
}

// New wraps conn. sessID is used only for log correlation.
func New(conn *websocket.Conn, limit config.Limits, sessID string) *Adaptor {
	return &Adaptor{
		conn:     conn,
		limit:    limit,
		buf:      make([]byte, 0, limit.BufferCap),
		lastPing: time.Now(),
		sessID:   sessID,
	}
}

// FillUntil extends the buffer until it holds at least n bytes or the
// event stream ends, bounded by the handshake timeout. A timeout is not
// an error: it returns success with whatever bytes arrived, per spec.md
// §4.2.
func (a *Adaptor) FillUntil(ctx context.Context, n int) error {
	deadline := time.Now().Add(a.limit.HandshakeTimeout)

	for {
		a.mu.Lock()
		a.drainPendingLocked()
		have := len(a.buf)
		blocked := len(a.pending) > 0
		a.mu.Unlock()
		if have >= n {
			return nil
		}
		if blocked {
			// The buffer is at capacity and a message is still waiting to
			// be admitted: signal not-ready without dropping it. The
			// caller must drain (consume buffered bytes) and retry.
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}

		a.maybePing()

		if err := a.conn.SetReadDeadline(time.Now().Add(remaining)); err != nil {
			return err
		}
		mt, data, err := a.conn.ReadMessage()
		if err != nil {
			if isDeadlineExceeded(err) {
				return nil
			}
			if errcls.IsNetClose(err) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		a.appendLocked(data)
	}
}

// drainPendingLocked moves as much of a held-back message into buf as
// currently has room. Callers must hold a.mu.
func (a *Adaptor) drainPendingLocked() {
	if len(a.pending) == 0 {
		return
	}
	room := a.limit.BufferCap - len(a.buf)
	if room <= 0 {
		return
	}
	n := len(a.pending)
	if n > room {
		n = room
	}
	a.buf = append(a.buf, a.pending[:n]...)
	a.pending = a.pending[n:]
}

// appendLocked admits a freshly read message into buf, never dropping
// bytes: whatever doesn't currently fit is held in pending and drained
// on a later call once the consumer frees up room, per spec.md §4.2's
// backpressure contract (signal not-ready, don't discard).
func (a *Adaptor) appendLocked(data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(data) > a.limit.WSFrameMax {
		log.Printf("[wsstream] session=%s oversize frame: %d bytes", a.sessID, len(data))
	}
	room := a.limit.BufferCap - len(a.buf)
	if room >= len(data) {
		a.buf = append(a.buf, data...)
		return
	}
	if room > 0 {
		a.buf = append(a.buf, data[:room]...)
		data = data[room:]
	}
	a.pending = append(a.pending, data...)
	metrics.BackpressureTotal.Inc()
}

// Peek borrows up to n bytes from the front of the buffer without
// consuming them.
func (a *Adaptor) Peek(n int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > len(a.buf) {
		n = len(a.buf)
	}
	out := make([]byte, n)
	copy(out, a.buf[:n])
	return out
}

// Buffered returns the number of bytes currently staged.
func (a *Adaptor) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// ReadByte and ReadFull implement internal/addr.Reader, blocking on
// FillUntil as needed so protocol handlers can parse directly off the
// adaptor.
func (a *Adaptor) ReadByte() (byte, error) {
	var b [1]byte
	if err := a.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (a *Adaptor) ReadFull(buf []byte) error {
	ctx := context.Background()
	if err := a.FillUntil(ctx, len(buf)); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buf) < len(buf) {
		return fmt.Errorf("short read: wanted %d, have %d", len(buf), len(a.buf))
	}
	copy(buf, a.buf[:len(buf)])
	a.buf = a.buf[len(buf):]
	return nil
}

// ReadChunk implements internal/relay.Side: drain the buffer first; if
// empty, poll the next WS event. A zero-length, nil-error result denotes
// EOF (peer closed), matching the relay's "0 bytes read -> EOF" rule.
func (a *Adaptor) ReadChunk(ctx context.Context, p []byte) (int, error) {
	a.mu.Lock()
	a.drainPendingLocked()
	if len(a.buf) > 0 {
		n := copy(p, a.buf)
		a.buf = a.buf[n:]
		a.mu.Unlock()
		return n, nil
	}
	a.mu.Unlock()

	a.maybePing()

	if dl, ok := ctx.Deadline(); ok {
		if err := a.conn.SetReadDeadline(dl); err != nil {
			return 0, err
		}
	} else {
		if err := a.conn.SetReadDeadline(time.Time{}); err != nil {
			return 0, err
		}
	}

	mt, data, err := a.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return 0, nil
		}
		if isDeadlineExceeded(err) {
			return 0, nil
		}
		return 0, err
	}
	if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
		return 0, nil
	}
	if len(data) > len(p) {
		// Stage the remainder; the caller will drain it on the next call.
		a.appendLocked(data[len(p):])
		data = data[:len(p)]
	}
	n := copy(p, data)
	return n, nil
}

// Write sends a single binary WebSocket frame containing the entire
// slice; success reports all bytes written. A benign send failure is
// translated to a broken-pipe I/O error; anything else is surfaced
// as-is, per spec.md §4.2.
func (a *Adaptor) Write(ctx context.Context, p []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		if err := a.conn.SetWriteDeadline(dl); err != nil {
			return err
		}
	}
	if err := a.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		if errcls.IsNetClose(err) {
			return errcls.Tag(errcls.KindUnknown, fmt.Errorf("broken pipe: %w", err))
		}
		return err
	}
	metrics.BytesTotal.WithLabelValues("target_to_ws").Add(float64(len(p)))
	return nil
}

// Flush is a no-op: gorilla writes each message synchronously.
func (a *Adaptor) Flush() error { return nil }

// CloseWrite implements internal/relay.Side's half-close by sending a
// close frame; WS has no true half-close, so this is the relay's signal
// that no further writes will be attempted on this side.
func (a *Adaptor) CloseWrite(ctx context.Context) error {
	return a.Shutdown(ctx)
}

// Shutdown sends a close frame with code 1000 and reason "shutdown".
// Benign errors during close are swallowed, per spec.md §4.2.
func (a *Adaptor) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
	if err := a.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		if errcls.IsNetClose(err) {
			return nil
		}
		return err
	}
	return nil
}

func (a *Adaptor) maybePing() {
	a.mu.Lock()
	due := time.Since(a.lastPing) >= PingInterval
	if due {
		a.lastPing = time.Now()
	}
	a.mu.Unlock()
	if !due {
		return
	}
	a.mu.Lock()
	_ = a.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(2*time.Second))
	a.mu.Unlock()
}

func isDeadlineExceeded(err error) bool {
	ne, ok := err.(interface{ Timeout() bool })
	return ok && ne.Timeout()
}
