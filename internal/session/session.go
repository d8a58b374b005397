// Package session peeks the first bytes of a client-facing stream and
// dispatches to the matching protocol handler, applying the top-level
// benign-error suppression boundary. Grounded on
// original_source/src/proxy/conn.rs::process (the peek-62/dispatch-chain
// shape, is_vless/is_shadowsocks/is_trojan/is_vmess predicates) and
// lib.rs::tunnel/tunnel_inner (fire-and-forget spawn, 8s timeout race,
// WS close-code policy).
package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nuid"
	"github.com/pkg/errors"

	"github.com/hoshiyomiX/Beacon/internal/addr"
	"github.com/hoshiyomiX/Beacon/internal/config"
	"github.com/hoshiyomiX/Beacon/internal/doh"
	"github.com/hoshiyomiX/Beacon/internal/errcls"
	"github.com/hoshiyomiX/Beacon/internal/metrics"
	"github.com/hoshiyomiX/Beacon/internal/relay"
	"github.com/hoshiyomiX/Beacon/internal/shadowsocks"
	"github.com/hoshiyomiX/Beacon/internal/trojan"
	"github.com/hoshiyomiX/Beacon/internal/udprelay"
	"github.com/hoshiyomiX/Beacon/internal/vless"
	"github.com/hoshiyomiX/Beacon/internal/vmess"
)

// PeekLen is the number of bytes fetched before dispatch, per conn.rs's
// peek_buffer_len = 62 (enough to cover a Trojan CRLF marker at [56:58]).
const PeekLen = 62

// minPeekLen is process()'s "not enough buffer" floor: half of PeekLen.
const minPeekLen = PeekLen / 2

// Timeout is the fire-and-forget session deadline race from
// lib.rs::tunnel_inner's 8-second TimeoutFuture, used when
// Config.Limits.SessionTimeout is zero.
const Timeout = 8 * time.Second

// Stream is the full contract the driver and every handler need.
type Stream interface {
	vless.Stream
	vmess.Stream
	trojan.Stream
	shadowsocks.Stream
	FillUntil(ctx context.Context, n int) error
	Peek(n int) []byte
	Shutdown(ctx context.Context) error
}

// Resolver performs the DNS-over-HTTPS round trip for the UDP path.
type Resolver interface {
	Query(ctx context.Context, query []byte) ([]byte, error)
}

// Driver dispatches one accepted connection to its protocol handler.
type Driver struct {
	Config   config.Config
	Resolver Resolver
}

// Run peeks the initial bytes, dispatches, and applies the top-level
// benign-error suppression boundary: a benign result returns nil; a
// non-benign result is returned for the caller to log. The stream is
// always shut down with close code 1000 before the result is classified;
// no path closes it with 1011.
func (d Driver) Run(ctx context.Context, s Stream) error {
	id := nuid.Next()
	timeout := Timeout
	if d.Config.Limits.SessionTimeout > 0 {
		timeout = d.Config.Limits.SessionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	err := d.dispatch(ctx, s)
	_ = s.Shutdown(context.Background())

	switch {
	case err == nil:
		metrics.SessionErrorsTotal.WithLabelValues("none").Inc()
		return nil
	case errcls.IsBenign(err):
		metrics.SessionErrorsTotal.WithLabelValues("benign").Inc()
		return nil
	case errcls.IsWarning(err):
		log.Printf("[session %s] warning: %v", id, err)
		metrics.SessionErrorsTotal.WithLabelValues("warning").Inc()
		return nil
	default:
		metrics.SessionErrorsTotal.WithLabelValues("fatal").Inc()
		return errors.Wrap(err, "session "+id)
	}
}

func (d Driver) dispatch(ctx context.Context, s Stream) error {
	if err := s.FillUntil(ctx, PeekLen); err != nil {
		return err
	}
	peeked := s.Peek(PeekLen)
	if len(peeked) < minPeekLen {
		// Client disconnected mid-handshake: spec.md §4.9 calls this a
		// normal outcome, not a parse failure, so it returns success
		// rather than a fatal, logged error.
		return nil
	}

	switch {
	case isVLESS(peeked):
		return vless.Serve(ctx, s, d.Config, d.vlessUDP)
	case isShadowsocks(peeked):
		return shadowsocks.Serve(ctx, s, d.Config)
	case isTrojan(peeked):
		return trojan.Serve(ctx, s, d.Config, d.trojanUDP)
	default:
		return vmess.Serve(ctx, s, d.Config, d.vmessUDP)
	}
}

func isVLESS(b []byte) bool {
	return len(b) > 0 && b[0] == 0
}

func isShadowsocks(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	switch b[0] {
	case 1: // IPv4
		if len(b) < 7 {
			return false
		}
		return binary.BigEndian.Uint16(b[5:7]) != 0
	case 3: // domain
		if len(b) < 2 {
			return false
		}
		domainLen := int(b[1])
		if len(b) < 2+domainLen+2 {
			return false
		}
		return binary.BigEndian.Uint16(b[2+domainLen:2+domainLen+2]) != 0
	case 4: // IPv6
		if len(b) < 19 {
			return false
		}
		return binary.BigEndian.Uint16(b[17:19]) != 0
	default:
		return false
	}
}

func isTrojan(b []byte) bool {
	return len(b) > 57 && b[56] == 13 && b[57] == 10
}

// vlessUDP, trojanUDP, vmessUDP bridge a protocol's UDP command to
// serveUDP, passing along the request's parsed target address so a
// non-DNS payload can still be tunnelled somewhere.
func (d Driver) vlessUDP(ctx context.Context, s vless.Stream, target addr.Record) error {
	return d.serveUDP(ctx, s, target)
}

func (d Driver) trojanUDP(ctx context.Context, s trojan.Stream, target addr.Record) error {
	return d.serveUDP(ctx, s, target)
}

func (d Driver) vmessUDP(ctx context.Context, s vmess.Stream, target addr.Record) error {
	return d.serveUDP(ctx, s, target)
}

// serveUDP reads the first UDP datagram off s. When it has the shape of
// a bare DNS query and a resolver is configured, it answers over
// DNS-over-HTTPS in a single round trip, matching
// conn.rs::handle_udp_outbound's "read once, forward to doh, write
// once" shape. Any other payload (or no resolver) falls back to
// internal/udprelay, the general UDP-over-TCP tunnel named by
// SPEC_FULL.md's UDP-path section, relaying bidirectionally until
// EOF, error, or budget exhaustion.
func (d Driver) serveUDP(ctx context.Context, s relay.Side, target addr.Record) error {
	buf := make([]byte, doh.MaxDatagram)
	n, err := s.ReadChunk(ctx, buf)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	payload := buf[:n]

	if d.Resolver != nil && doh.LooksLikeQuery(payload) {
		resp, err := d.Resolver.Query(ctx, payload)
		if err != nil {
			// Non-fatal: matches the source's "if doh(...).is_ok() { write }"
			// policy of silently dropping a failed resolution.
			return nil
		}
		return s.Write(ctx, resp)
	}

	h, err := udprelay.New(target.Addr())
	if err != nil {
		return err
	}
	conn, err := h.Dial(ctx, d.Config.Limits)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return errcls.Tag(errcls.KindUnknown, fmt.Errorf("udp: forward first datagram: %w", err))
	}

	_, err = relay.Run(ctx, s, relay.NetSide{Conn: conn}, d.Config.Limits)
	return err
}
