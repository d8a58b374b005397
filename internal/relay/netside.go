package relay

import (
	"context"
	"net"

	"github.com/hoshiyomiX/Beacon/internal/errcls"
)

// NetSide adapts a net.Conn (the dialed TCP target) to Side.
type NetSide struct {
	Conn net.Conn
}

func (s NetSide) ReadChunk(ctx context.Context, p []byte) (int, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.Conn.SetReadDeadline(dl)
	}
	n, err := s.Conn.Read(p)
	if err != nil {
		if n > 0 {
			return n, nil
		}
		var ne net.Error
		if asNetError(err, &ne) && ne.Timeout() {
			// Per-read deadline (bounded by the relay's overall wall-clock
			// budget) expired with nothing to show; let the pump loop's own
			// budget check decide whether to stop.
			return 0, nil
		}
		if errcls.IsNetClose(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if !ok {
		return false
	}
	*target = ne
	return true
}

func (s NetSide) Write(ctx context.Context, p []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.Conn.SetWriteDeadline(dl)
	}
	_, err := s.Conn.Write(p)
	return err
}

// CloseWrite half-closes the write side when the underlying conn supports
// it (*net.TCPConn does); otherwise it's a no-op and the full Close
// happens when the caller tears down the session.
func (s NetSide) CloseWrite(ctx context.Context) error {
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := s.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}
