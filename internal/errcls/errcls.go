// Package errcls classifies connection-lifecycle errors as benign so the
// session driver can downgrade them to silent successes, per spec.md
// §4.1 and §7. The base spec's Design Notes ask for "a tagged-variant
// error type with a cause chain... the substring heuristic kept only as
// a fallback" — Kind below is that tagged variant; Classify/IsWarning
// fall back to the substring heuristic (ported from
// original_source/src/common/error.rs::is_benign_error /
// is_warning_error) for errors that didn't originate as a Kind.
package errcls

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// Kind tags a fatal error with the specific failure mode, per spec.md §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindMalformedFrame
	KindUnsupportedAddressType
	KindInvalidPort
	KindInvalidVersion
	KindAuthFailed
	KindConnectTimeout
	KindConnectRefused
	KindHTTPTargetDetected
)

func (k Kind) String() string {
	switch k {
	case KindMalformedFrame:
		return "malformed_frame"
	case KindUnsupportedAddressType:
		return "unsupported_address_type"
	case KindInvalidPort:
		return "invalid_port"
	case KindInvalidVersion:
		return "invalid_version"
	case KindAuthFailed:
		return "auth_failed"
	case KindConnectTimeout:
		return "connect_timeout"
	case KindConnectRefused:
		return "connect_refused"
	case KindHTTPTargetDetected:
		return "http_target_detected"
	default:
		return "unknown"
	}
}

// TaggedError carries a Kind alongside the underlying cause, implementing
// Unwrap so errors.Is/errors.As still see through it.
type TaggedError struct {
	Kind  Kind
	Cause error
}

func (e *TaggedError) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Cause.Error()
	}
	return e.Kind.String()
}

func (e *TaggedError) Unwrap() error { return e.Cause }

// Tag wraps err with a Kind, or returns nil if err is nil.
func Tag(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &TaggedError{Kind: kind, Cause: err}
}

// addressPoolFallbackKinds are fatal-by-name but trigger address-pool
// fallback rather than immediate propagation (spec.md §7).
var addressPoolFallbackKinds = map[Kind]bool{
	KindConnectTimeout:     true,
	KindConnectRefused:     true,
	KindHTTPTargetDetected: true,
}

// TriggersFallback reports whether err (if a *TaggedError) should advance
// the address pool to its next candidate rather than abort the handler.
func TriggersFallback(err error) bool {
	var tagged *TaggedError
	if errors.As(err, &tagged) {
		return addressPoolFallbackKinds[tagged.Kind]
	}
	return false
}

// benignSubstrings is the case-insensitive substring list from spec.md
// §4.1, ported verbatim from original_source/src/common/error.rs.
var benignSubstrings = []string{
	"writablestream has been closed",
	"broken pipe",
	"connection reset",
	"connection closed",
	"network connection lost",
	"stream closed",
	"eof",
	"connection aborted",
	"network error",
	"socket closed",
	"transfer error",
	"canceled",
	"cancelled",
	"benign",
	"not enough buffer",
	"websocket",
	"handshake",
	"hung",
	"never generate",
	"timed out",
	"timeout",
	"deadline",
	"http",
	"https",
	"buffer",
	"not enough",
	"too large",
	"too long",
	"rate limit",
	"quota",
	"exceeded",
	"dns",
	"host not found",
	"unreachable",
	"protocol not implemented",
	"connection failed",
}

// warningSubstrings identifies messages that are logged at warn level but
// still treated as success, per spec.md §4.1's second classifier.
var warningSubstrings = []string{
	"backpressure",
	"buffer full",
	"max iterations",
	"cpu limit",
}

// IsBenign reports whether err denotes a normal connection-lifecycle
// event rather than a defect. A *TaggedError with KindUnknown falls
// through to the message heuristic; every other Kind is non-benign by
// construction (it is a parse/auth failure, not a lifecycle event),
// except the address-pool-fallback kinds, whose *final* failure (after
// every pool entry has been tried) is classified benign per spec.md §7.
func IsBenign(err error) bool {
	if err == nil {
		return false
	}

	var tagged *TaggedError
	if errors.As(err, &tagged) {
		switch tagged.Kind {
		case KindUnknown:
			// fall through to the lifecycle checks and substring heuristic below
		case KindConnectTimeout, KindConnectRefused, KindHTTPTargetDetected:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	lower := strings.ToLower(err.Error())
	for _, s := range benignSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	if strings.Contains(lower, "all") && strings.Contains(lower, "failed") {
		return true
	}
	return false
}

// IsWarning reports whether err should be logged at warn level (backpressure,
// buffer-full, iteration/CPU budget exhaustion) while still being treated
// as a successful session outcome.
func IsWarning(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, s := range warningSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// IsNetClose reports whether err represents the local end observing the
// peer going away — used by the relay/adaptor to decide whether to treat
// a read/write failure as EOF. Ported from the teacher's
// internal/ws/utils.go::IsNetClose.
func IsNetClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && !ne.Temporary() { //nolint:staticcheck // Temporary is deprecated but still the cheapest cross-version signal here
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "closed") || strings.Contains(s, "eof") || strings.Contains(s, "canceled") || strings.Contains(s, "cancelled") || strings.Contains(s, "reset")
}
