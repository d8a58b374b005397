// Package vless implements the VLESS request framing: version byte, user
// id, protobuf addons blob, network type, port, address, then either a
// TCP relay or a handoff to the caller-supplied UDP handler. Grounded 1:1 on
// original_source/src/proxy/vless.rs::process_vless.
package vless

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/google/uuid"

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

// Request is a decoded VLESS request header.
type Request struct {
	UserID uuid.UUID
	IsTCP  bool
	Target addr.Record
}

// Decode reads the VLESS request header off s.
func Decode(s Stream) (Request, error) {
	var req Request

	if _, err := s.ReadByte(); err != nil { // version, unused
		return req, errcls.Tag(errcls.KindMalformedFrame, err)
	}

	var id [16]byte
	if err := s.ReadFull(id[:]); err != nil {
		return req, errcls.Tag(errcls.KindMalformedFrame, err)
	}
	req.UserID = uuid.UUID(id)

	addonsLen, err := s.ReadByte()
	if err != nil {
		return req, errcls.Tag(errcls.KindMalformedFrame, err)
	}
	if addonsLen > 0 {
		addons := make([]byte, addonsLen)
		if err := s.ReadFull(addons); err != nil {
			return req, errcls.Tag(errcls.KindMalformedFrame, err)
		}
	}

	networkType, err := s.ReadByte()
	if err != nil {
		return req, errcls.Tag(errcls.KindMalformedFrame, err)
	}
	req.IsTCP = networkType == 0x01

	port, err := addr.ParsePort(s)
	if err != nil {
		return req, err
	}
	target, err := addr.ParseShared(s)
	if err != nil {
		return req, err
	}
	target.Port = port
	req.Target = target

	return req, nil
}

// checkUser compares req's embedded user id against the configured one
// when strict checking is enabled.
func checkUser(req Request, cfg config.Config) error {
	if !cfg.StrictUUID {
		return nil
	}
	if subtle.ConstantTimeCompare(req.UserID[:], cfg.UUID[:]) != 1 {
		return errcls.Tag(errcls.KindAuthFailed, fmt.Errorf("vless: user id mismatch"))
	}
	return nil
}

// Serve decodes the request, then either relays TCP traffic against the
// address pool (target then configured fallback) or hands off to the UDP
// path.
func Serve(ctx context.Context, s Stream, cfg config.Config, udp func(context.Context, Stream, addr.Record) error) error {
	req, err := Decode(s)
	if err != nil {
		return err
	}
	if err := checkUser(req, cfg); err != nil {
		return err
	}

	if !req.IsTCP {
		if udp == nil {
			return errcls.Tag(errcls.KindUnknown, fmt.Errorf("vless: no UDP handler configured"))
		}
		return udp(ctx, s, req.Target)
	}

	// Response header: version + addons-length, both zero.
	if err := s.Write(ctx, []byte{0x00, 0x00}); err != nil {
		return err
	}

	metrics.SessionsTotal.WithLabelValues("vless").Inc()

	pool := dialer.Pool(dialer.Candidate{Host: req.Target.Host, Port: req.Target.Port}, cfg)
	conn, _, err := dialer.Dial(ctx, pool, cfg.Limits.DialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = relay.Run(ctx, s, relay.NetSide{Conn: conn}, cfg.Limits)
	return err
}
