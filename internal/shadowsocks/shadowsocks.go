// Package shadowsocks implements the Shadowsocks request framing: address,
// port, then a TCP relay. Grounded 1:1 on
// original_source/src/proxy/shadowsocks.rs::process_shadowsocks, which
// notes UDP is "difficult to detect from a TCP-framed stream" and always
// treats the session as TCP.
package shadowsocks

import (
	"context"

	"github.com/hoshiyomiX/Beacon/internal/addr"
	"github.com/hoshiyomiX/Beacon/internal/config"
	"github.com/hoshiyomiX/Beacon/internal/dialer"
	"github.com/hoshiyomiX/Beacon/internal/metrics"
	"github.com/hoshiyomiX/Beacon/internal/relay"
)

// Stream is the contract the handler needs from the client-facing byte
// stream.
type Stream interface {
	addr.Reader
	relay.Side
}

// Request is a decoded Shadowsocks request header.
type Request struct {
	Target addr.Record
}

// Decode reads the Shadowsocks request header off s, using the disjoint
// Shadowsocks address-tag set (0x01 IPv4, 0x03 domain, 0x04 IPv6).
func Decode(s Stream) (Request, error) {
	target, err := addr.ParseShadowsocks(s)
	if err != nil {
		return Request{}, err
	}
	port, err := addr.ParsePort(s)
	if err != nil {
		return Request{}, err
	}
	target.Port = port
	return Request{Target: target}, nil
}

// Serve decodes the request and relays TCP traffic against the address
// pool (target then configured fallback).
//
// TODO: UDP associate is never detected here; the outer WebSocket hides
// packet boundaries from this layer, so every session is treated as TCP.
func Serve(ctx context.Context, s Stream, cfg config.Config) error {
	req, err := Decode(s)
	if err != nil {
		return err
	}

	metrics.SessionsTotal.WithLabelValues("shadowsocks").Inc()

	pool := dialer.Pool(dialer.Candidate{Host: req.Target.Host, Port: req.Target.Port}, cfg)
	conn, _, err := dialer.Dial(ctx, pool, cfg.Limits.DialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = relay.Run(ctx, s, relay.NetSide{Conn: conn}, cfg.Limits)
	return err
}
