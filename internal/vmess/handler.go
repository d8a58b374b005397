package vmess

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/hoshiyomiX/Beacon/internal/addr"
	"github.com/hoshiyomiX/Beacon/internal/config"
	"github.com/hoshiyomiX/Beacon/internal/dialer"
	"github.com/hoshiyomiX/Beacon/internal/errcls"
	"github.com/hoshiyomiX/Beacon/internal/metrics"
	"github.com/hoshiyomiX/Beacon/internal/relay"
)

// Stream is the minimal contract the handler needs from the client-facing
// byte stream: enough to decrypt the command header and later hand the
// fully-formed adaptor to the relay.
type Stream interface {
	ReadFull(buf []byte) error
	Write(ctx context.Context, p []byte) error
	relay.Side
}

// Request is a decoded VMess command, per
// https://xtls.github.io/en/development/protocols/vmess.html#command-section.
type Request struct {
	IsTCP  bool
	Target addr.Record
	dataKey [16]byte
	dataIV  [16]byte
	firstOption byte
}

// Decode reads and AEAD-decrypts the command header off s, returning the
// parsed request. The caller is responsible for UUID matching policy
// (cfg.StrictUUID); Decode itself always uses cfg.UUID to derive the
// command-header key, matching upstream's single-user deployment model.
func Decode(s Stream, cfg config.Config) (Request, error) {
	plain, err := decryptCommand(s, cfg.UUID)
	if err != nil {
		return Request{}, err
	}
	return parseCommand(plain)
}

func parseCommand(plain []byte) (Request, error) {
	r := addr.FromIOReader(bytes.NewReader(plain))

	version, err := r.ReadByte()
	if err != nil {
		return Request{}, errcls.Tag(errcls.KindMalformedFrame, err)
	}
	if version != 1 {
		return Request{}, errcls.Tag(errcls.KindInvalidVersion, fmt.Errorf("vmess: invalid version %d", version))
	}

	var req Request
	if err := r.ReadFull(req.dataIV[:]); err != nil {
		return Request{}, errcls.Tag(errcls.KindMalformedFrame, err)
	}
	if err := r.ReadFull(req.dataKey[:]); err != nil {
		return Request{}, errcls.Tag(errcls.KindMalformedFrame, err)
	}

	var options [4]byte
	if err := r.ReadFull(options[:]); err != nil {
		return Request{}, errcls.Tag(errcls.KindMalformedFrame, err)
	}
	req.firstOption = options[0]

	cmd, err := r.ReadByte()
	if err != nil {
		return Request{}, errcls.Tag(errcls.KindMalformedFrame, err)
	}
	req.IsTCP = cmd == 0x01

	port, err := addr.ParsePort(r)
	if err != nil {
		return Request{}, err
	}
	rec, err := addr.ParseShared(r)
	if err != nil {
		return Request{}, err
	}
	rec.Port = port
	req.Target = rec

	return req, nil
}

// WriteResponseHeader sends the two AEAD-encrypted response frames VMess
// clients expect immediately after a command is accepted.
func WriteResponseHeader(ctx context.Context, s Stream, req Request) error {
	lengthFrame, headerFrame, err := responseHeader(req.dataKey, req.dataIV, req.firstOption)
	if err != nil {
		return errors.Wrap(err, "vmess: build response header")
	}
	if err := s.Write(ctx, lengthFrame); err != nil {
		return err
	}
	return s.Write(ctx, headerFrame)
}

// Serve decodes the command, replies with the response header, and either
// relays TCP traffic against the address pool (target then configured
// fallback) or hands off to the caller-supplied UDP handler, mirroring
// original_source/src/proxy/vmess.rs::process_vmess.
func Serve(ctx context.Context, s Stream, cfg config.Config, udp func(context.Context, Stream, addr.Record) error) error {
	req, err := Decode(s, cfg)
	if err != nil {
		return err
	}
	if err := WriteResponseHeader(ctx, s, req); err != nil {
		return err
	}

	if !req.IsTCP {
		if udp == nil {
			return errcls.Tag(errcls.KindUnknown, fmt.Errorf("vmess: no UDP handler configured"))
		}
		return udp(ctx, s, req.Target)
	}

	metrics.SessionsTotal.WithLabelValues("vmess").Inc()

	pool := dialer.Pool(dialer.Candidate{Host: req.Target.Host, Port: req.Target.Port}, cfg)
	conn, _, err := dialer.Dial(ctx, pool, cfg.Limits.DialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = relay.Run(ctx, s, relay.NetSide{Conn: conn}, cfg.Limits)
	return err
}
