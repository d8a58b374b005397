// Package dialer connects to a TCP target from an address pool, falling
// back to the gateway's configured fallback host when the first candidate
// fails. Grounded on original_source/src/proxy/conn.rs's
// handle_tcp_outbound (HTTP-port pre-dial warning, Cloudflare's
// HTTP-service-detected error translation) and vless.rs/trojan.rs's
// addr_pool construction (primary target, then config.proxy_addr/port).
package dialer

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/hoshiyomiX/Beacon/internal/config"
	"github.com/hoshiyomiX/Beacon/internal/errcls"
	"github.com/hoshiyomiX/Beacon/internal/metrics"
)

// Candidate is one address-pool entry.
type Candidate struct {
	Host string
	Port uint16
}

func (c Candidate) String() string { return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port))) }

// Pool builds the two-entry address pool every protocol handler dials
// against: the parsed target first, the gateway's fallback second.
func Pool(target Candidate, cfg config.Config) []Candidate {
	return []Candidate{
		target,
		{Host: cfg.FallbackHost, Port: cfg.FallbackPort},
	}
}

// isHTTPPort mirrors conn.rs::is_http_port: ports where a raw TCP dial is
// likely to hit an HTTP service rather than a TCP proxy backend.
func isHTTPPort(port uint16) bool {
	switch port {
	case 80, 443, 8080, 8443:
		return true
	default:
		return false
	}
}

// Dial tries each candidate in order, returning the first successful
// connection. A connect failure on a non-final candidate advances the
// pool (logged, not surfaced); failure on the final candidate is
// returned, tagged per errcls so the session driver can decide whether
// to suppress it.
func Dial(ctx context.Context, candidates []Candidate, timeout time.Duration) (net.Conn, int, error) {
	var lastErr error
	d := net.Dialer{Timeout: timeout}

	for i, c := range candidates {
		if isHTTPPort(c.Port) {
			log.Printf("[dialer] connecting to %s: port is typically used for HTTP services; "+
				"if this fails, the target may not be a raw TCP backend", c)
		}

		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := d.DialContext(dialCtx, "tcp", c.String())
		cancel()

		if err == nil {
			metrics.DialAttemptsTotal.WithLabelValues("ok").Inc()
			if i > 0 {
				metrics.DialAttemptsTotal.WithLabelValues("fallback").Inc()
			}
			return conn, i, nil
		}

		metrics.DialAttemptsTotal.WithLabelValues("fail").Inc()
		lastErr = classify(c, err)
		log.Printf("[dialer] connect failed for %s: %v", c, lastErr)
	}

	return nil, len(candidates), lastErr
}

func classify(c Candidate, err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return errcls.Tag(errcls.KindConnectTimeout, fmt.Errorf("connect timeout to %s: %w", c, err))
	}
	if isHTTPPort(c.Port) {
		return errcls.Tag(errcls.KindHTTPTargetDetected, fmt.Errorf(
			"HTTP service detected at %s: raw TCP sockets cannot reach an HTTP endpoint on this port: %w", c, err))
	}
	return errcls.Tag(errcls.KindConnectRefused, fmt.Errorf("connection failed to %s: %w", c, err))
}
