package h3ingress

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/quic-go/quic-go/http3"

	"github.com/hoshiyomiX/Beacon/internal/config"
	"github.com/hoshiyomiX/Beacon/internal/metrics"
)

// Session is called once per accepted extended-CONNECT stream; it is the
// gateway's own dispatch entry point (internal/session.Driver.Run).
type Session func(ctx context.Context, s *Stream) error

// Handler serves the HTTP/3 extended-CONNECT alternate ingress: instead
// of dialing out to a backend WebSocket server like the teacher's
// HandleH3WebSocket did, it terminates the WebSocket handshake itself and
// hands the raw-framed stream straight to Serve.
type Handler struct {
	Limits   config.Limits
	Serve    Session
	MaxConns int64
	active   int64
}

// acceptKeyFor computes the RFC 6455 Sec-WebSocket-Accept response for
// clientKey, the handshake step a real backend WebSocket server would
// normally perform; this ingress terminates the upgrade itself instead
// of forwarding it, since there's no backend socket on the other side.
func (h *Handler) acceptKeyFor(clientKey string) string {
	const magic = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	sum := sha1.Sum([]byte(clientKey + magic))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// negotiateSubprotocol picks the first token a client offered in
// Sec-WebSocket-Protocol; this gateway never distinguishes subprotocols,
// it just echoes one back so strict clients don't reject the handshake.
func (h *Handler) negotiateSubprotocol(offered string) string {
	parts := strings.Split(offered, ",")
	if len(parts) == 0 {
		return ""
	}
	return strings.TrimSpace(parts[0])
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.MaxConns > 0 && atomic.AddInt64(&h.active, 1) > h.MaxConns {
		atomic.AddInt64(&h.active, -1)
		metrics.H3RejectedTotal.WithLabelValues("max_conns").Inc()
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt64(&h.active, -1)

	if strings.ToUpper(r.Method) != http.MethodConnect {
		metrics.H3RejectedTotal.WithLabelValues("method").Inc()
		http.Error(w, "expected CONNECT", http.StatusMethodNotAllowed)
		return
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	ver := r.Header.Get("Sec-WebSocket-Version")
	if key == "" || ver != "13" {
		metrics.H3RejectedTotal.WithLabelValues("bad_headers").Inc()
		http.Error(w, "missing/invalid websocket headers", http.StatusBadRequest)
		return
	}

	hs, ok := r.Body.(http3.HTTPStreamer)
	if !ok {
		metrics.H3RejectedTotal.WithLabelValues("no_stream_takeover").Inc()
		http.Error(w, "http3 stream takeover not supported", http.StatusInternalServerError)
		return
	}
	stream := hs.HTTPStream()
	defer func() { _ = stream.Close() }()

	w.Header().Set("Sec-WebSocket-Accept", h.acceptKeyFor(key))
	if subp := r.Header.Get("Sec-WebSocket-Protocol"); subp != "" {
		w.Header().Set("Sec-WebSocket-Protocol", h.negotiateSubprotocol(subp))
	}
	w.WriteHeader(http.StatusOK)
	metrics.H3HandshakesTotal.Inc()

	s := New(stream, h.Limits)
	_ = h.Serve(r.Context(), s)
}
