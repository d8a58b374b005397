// Package udprelay dials a generic UDP-over-TCP relay gateway and forwards
// a client-facing byte stream to it after sending a handshake naming the
// real target. Grounded 1:1 on
// original_source/src/proxy/udp_relay.rs::UdpRelayHandler (same gateway
// host/port defaults, same handshake wire format, same
// bidirectional-copy shape as the TCP handlers' relay). Distinct from
// internal/doh: this is a generic UDP tunnel, doh is DNS-specific.
package udprelay

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/hoshiyomiX/Beacon/internal/config"
	"github.com/hoshiyomiX/Beacon/internal/errcls"
	"github.com/hoshiyomiX/Beacon/internal/relay"
)

// Defaults mirror udp_relay.rs's UDP_RELAY_HOST/UDP_RELAY_PORT constants.
const (
	DefaultGatewayHost = "udp-relay.hobihaus.space"
	DefaultGatewayPort = 80
)

// Handler relays a client-facing stream to target through a UDP relay
// gateway reachable over plain TCP.
type Handler struct {
	GatewayHost string
	GatewayPort uint16
	TargetHost  string
	TargetPort  uint16
}

// New parses "host:port" into a Handler with the default gateway.
func New(target string) (Handler, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return Handler{}, errcls.Tag(errcls.KindMalformedFrame, fmt.Errorf("udprelay: invalid target %q: %w", target, err))
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Handler{}, errcls.Tag(errcls.KindMalformedFrame, fmt.Errorf("udprelay: invalid port %q: %w", portStr, err))
	}
	return Handler{
		GatewayHost: DefaultGatewayHost,
		GatewayPort: DefaultGatewayPort,
		TargetHost:  host,
		TargetPort:  uint16(port),
	}, nil
}

// handshake builds the relay gateway's handshake frame:
//
//	[1 byte: address type] [variable: address] [2 bytes: port, big-endian]
//
// address type is 0x01 (IPv4), 0x04 (IPv6), or 0x03 (domain, length-prefixed).
func (h Handler) handshake() ([]byte, error) {
	var out []byte

	if ip := net.ParseIP(h.TargetHost); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			out = append(out, 0x01)
			out = append(out, v4...)
		} else {
			out = append(out, 0x04)
			out = append(out, ip.To16()...)
		}
	} else {
		if len(h.TargetHost) > 255 {
			return nil, fmt.Errorf("udprelay: domain name too long")
		}
		out = append(out, 0x03, byte(len(h.TargetHost)))
		out = append(out, h.TargetHost...)
	}

	out = append(out, byte(h.TargetPort>>8), byte(h.TargetPort))
	return out, nil
}

// Dial connects to the relay gateway and sends the target handshake,
// returning the raw connection so the caller can forward an
// already-consumed first datagram before the generic relay loop takes
// over.
func (h Handler) Dial(ctx context.Context, lim config.Limits) (net.Conn, error) {
	gatewayAddr := net.JoinHostPort(h.GatewayHost, strconv.Itoa(int(h.GatewayPort)))

	d := net.Dialer{Timeout: lim.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", gatewayAddr)
	if err != nil {
		return nil, errcls.Tag(errcls.KindConnectRefused, fmt.Errorf("udprelay: gateway dial failed: %w", err))
	}

	hs, err := h.handshake()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(hs); err != nil {
		conn.Close()
		return nil, errcls.Tag(errcls.KindUnknown, fmt.Errorf("udprelay: handshake send failed: %w", err))
	}
	return conn, nil
}

// Serve dials the relay gateway, sends the handshake, then relays
// bytes bidirectionally between client and gateway until EOF, error, or
// budget exhaustion.
func (h Handler) Serve(ctx context.Context, client relay.Side, lim config.Limits) error {
	conn, err := h.Dial(ctx, lim)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = relay.Run(ctx, client, relay.NetSide{Conn: conn}, lim)
	return err
}
