// Package config holds the per-process and per-session configuration for
// the Beacon gateway: the VMess/VLESS user id, the default fallback
// target, the country->proxy table, and the budgets that bound the
// relay's CPU/iteration/wall-clock usage.
package config

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go/http3"
)

// Limits bounds the stream adaptor and relay.
type Limits struct {
	// BufferCap is the stream adaptor's staging-buffer capacity.
	BufferCap int
	// WSFrameMax is the size above which an inbound WS message is logged
	// (but still admitted) by internal/wsstream; the HTTP/3 ingress
	// rejects frames larger than this.
	WSFrameMax int
	// CopyBuf is the size of each relay-side read buffer.
	CopyBuf int
	// MaxIters is the relay's iteration budget before an idle side may be
	// asked to exit.
	MaxIters int
	// IdleBreak is the consecutive-idle-iteration count above which the
	// iteration budget is enforced.
	IdleBreak int
	// YieldEvery is how many iterations elapse between voluntary yields.
	YieldEvery int
	// CPUBudget is the wall-clock slice after which the relay yields to
	// let other goroutines (and, on the originating edge runtime, the
	// host's CPU accounting) catch up.
	CPUBudget time.Duration
	// RelayTimeout bounds the whole relay's wall-clock duration.
	RelayTimeout time.Duration
	// HandshakeTimeout bounds how long FillUntil waits for the initial
	// protocol bytes.
	HandshakeTimeout time.Duration
	// DialTimeout bounds each address-pool connect attempt.
	DialTimeout time.Duration
	// SessionTimeout bounds the entire session (ingress accept to close).
	SessionTimeout time.Duration
}

// DefaultLimits returns conservative budgets suitable for a single gateway
// process handling many concurrent sessions.
func DefaultLimits() Limits {
	return Limits{
		BufferCap:        64 * 1024,
		WSFrameMax:       32 * 1024,
		CopyBuf:          16 * 1024,
		MaxIters:         200,
		IdleBreak:        10,
		YieldEvery:       5,
		CPUBudget:        8 * time.Millisecond,
		RelayTimeout:     15 * time.Second,
		HandshakeTimeout: 8 * time.Second,
		DialTimeout:      4 * time.Second,
		SessionTimeout:   8 * time.Second,
	}
}

// CountryEntry is one `host:port` candidate in a country's proxy pool.
type CountryEntry struct {
	Host string
	Port uint16
}

// Config is immutable after creation and cloned per session, matching the
// Rust original's `Config: Clone` + "moved into the spawned task" pattern.
type Config struct {
	// UUID identifies the expected VMess/VLESS user.
	UUID uuid.UUID
	// StrictUUID, when true, rejects VLESS requests whose embedded user id
	// does not match UUID. Off by default, matching upstream clients that
	// tolerate a stale id in the request body.
	StrictUUID bool

	// FallbackHost/FallbackPort is the second entry of every address pool.
	FallbackHost string
	FallbackPort uint16

	// Countries maps two-letter upper-case codes to proxy pools.
	Countries map[string][]CountryEntry

	Limits Limits
}

// Clone returns a value copy suitable for handing to a spawned session; the
// only reference type held is the Countries map, which is read-only after
// construction and therefore safe to share.
func (c Config) Clone() Config {
	return c
}

// WithRequestHost returns a copy of c with the fallback target set to
// host:443, the default used when no path override is present.
func (c Config) WithRequestHost(host string) Config {
	c.FallbackHost = host
	c.FallbackPort = 443
	return c
}

// WithFallback returns a copy of c with an explicit fallback host/port,
// used when the request path carries a `<host>-<port>` override.
func (c Config) WithFallback(host string, port uint16) Config {
	c.FallbackHost = host
	c.FallbackPort = port
	return c
}

// FallbackAddr renders the fallback target as `host:port`.
func (c Config) FallbackAddr() string {
	return fmt.Sprintf("%s:%d", c.FallbackHost, c.FallbackPort)
}

// DefaultTLSConfig returns the TLS configuration for the optional HTTP/3
// ingress, mirroring the teacher's config.go::defaultTLSConfig.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		NextProtos: []string{http3.NextProtoH3},
	}
}
