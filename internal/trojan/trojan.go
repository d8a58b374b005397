// Package trojan implements the Trojan request framing: a 56-byte
// (ignored) user hash, a CRLF, network type, address, port, then a
// second CRLF, followed by a TCP relay or UDP handoff. Grounded 1:1 on
// original_source/src/proxy/trojan.rs::process_trojan.
package trojan

import (
	"context"
	"fmt"

	"github.com/hoshiyomiX/Beacon/internal/addr"
	"github.com/hoshiyomiX/Beacon/internal/config"
	"github.com/hoshiyomiX/Beacon/internal/dialer"
	"github.com/hoshiyomiX/Beacon/internal/errcls"
	"github.com/hoshiyomiX/Beacon/internal/metrics"
	"github.com/hoshiyomiX/Beacon/internal/relay"
)

// Stream is the contract the handler needs from the client-facing byte
// stream.
type Stream interface {
	addr.Reader
	relay.Side
}

// UserHashLen is the length of Trojan's password-hash header field.
const UserHashLen = 56

// Request is a decoded Trojan request header.
type Request struct {
	IsTCP  bool
	Target addr.Record
}

// Decode reads the Trojan request header off s. The 56-byte user hash is
// consumed but not validated: upstream treats authentication as the
// WebSocket upgrade's job, matching the source it's grounded on.
func Decode(s Stream) (Request, error) {
	var req Request

	var hash [UserHashLen]byte
	if err := s.ReadFull(hash[:]); err != nil {
		return req, errcls.Tag(errcls.KindMalformedFrame, err)
	}

	var crlf [2]byte
	if err := s.ReadFull(crlf[:]); err != nil {
		return req, errcls.Tag(errcls.KindMalformedFrame, err)
	}

	networkType, err := s.ReadByte()
	if err != nil {
		return req, errcls.Tag(errcls.KindMalformedFrame, err)
	}
	req.IsTCP = networkType == 0x01

	target, err := addr.ParseShared(s)
	if err != nil {
		return req, err
	}
	port, err := addr.ParsePort(s)
	if err != nil {
		return req, err
	}
	target.Port = port
	req.Target = target

	if err := s.ReadFull(crlf[:]); err != nil {
		return req, errcls.Tag(errcls.KindMalformedFrame, err)
	}

	return req, nil
}

// Serve decodes the request, then either relays TCP traffic against the
// address pool (target then configured fallback) or hands off to the UDP
// path. Trojan has no response header.
func Serve(ctx context.Context, s Stream, cfg config.Config, udp func(context.Context, Stream, addr.Record) error) error {
	req, err := Decode(s)
	if err != nil {
		return err
	}

	if !req.IsTCP {
		if udp == nil {
			return errcls.Tag(errcls.KindUnknown, fmt.Errorf("trojan: no UDP handler configured"))
		}
		return udp(ctx, s, req.Target)
	}

	metrics.SessionsTotal.WithLabelValues("trojan").Inc()

	pool := dialer.Pool(dialer.Candidate{Host: req.Target.Host, Port: req.Target.Port}, cfg)
	conn, _, err := dialer.Dial(ctx, pool, cfg.Limits.DialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = relay.Run(ctx, s, relay.NetSide{Conn: conn}, cfg.Limits)
	return err
}
