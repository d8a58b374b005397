package udprelay

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoshiyomiX/Beacon/internal/config"
)

func TestNewParsesTargetAndKeepsDefaultGateway(t *testing.T) {
	h, err := New("example.com:8443")
	require.NoError(t, err)
	assert.Equal(t, "example.com", h.TargetHost)
	assert.EqualValues(t, 8443, h.TargetPort)
	assert.Equal(t, DefaultGatewayHost, h.GatewayHost)
	assert.EqualValues(t, DefaultGatewayPort, h.GatewayPort)
}

func TestNewRejectsMissingPort(t *testing.T) {
	_, err := New("example.com")
	assert.Error(t, err)
}

func TestHandshakeIPv4(t *testing.T) {
	h := Handler{TargetHost: "1.2.3.4", TargetPort: 443}
	hs, err := h.handshake()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 1, 2, 3, 4, 0x01, 0xBB}, hs)
}

func TestHandshakeDomain(t *testing.T) {
	h := Handler{TargetHost: "example.com", TargetPort: 80}
	hs, err := h.handshake()
	require.NoError(t, err)
	require.Equal(t, byte(0x03), hs[0])
	assert.Equal(t, byte(len("example.com")), hs[1])
	assert.Equal(t, "example.com", string(hs[2:2+len("example.com")]))
	assert.Equal(t, []byte{0, 80}, hs[2+len("example.com"):])
}

// fakeGateway accepts one connection and records whatever handshake bytes
// arrive, so Dial's wire format can be checked end-to-end.
func fakeGateway(t *testing.T) (addr string, received chan []byte, cleanup func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	received = make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		n, _ := conn.Read(buf)
		received <- buf[:n]
	}()
	return ln.Addr().String(), received, func() { ln.Close() }
}

func TestDialSendsHandshakeToGateway(t *testing.T) {
	gwAddr, received, cleanup := fakeGateway(t)
	defer cleanup()
	gwHost, gwPortStr, err := net.SplitHostPort(gwAddr)
	require.NoError(t, err)

	h, err := New("target.example:9000")
	require.NoError(t, err)
	h.GatewayHost = gwHost
	gwPort, err := strconv.ParseUint(gwPortStr, 10, 16)
	require.NoError(t, err)
	h.GatewayPort = uint16(gwPort)

	lim := config.DefaultLimits()
	lim.DialTimeout = time.Second
	conn, err := h.Dial(context.Background(), lim)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case got := <-received:
		want, err := h.handshake()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("gateway never received a handshake")
	}
}

func TestDialFailsWhenGatewayUnreachable(t *testing.T) {
	gwAddr, _, cleanup := fakeGateway(t)
	cleanup() // close immediately: refuses connections

	h, err := New("target.example:9000")
	require.NoError(t, err)
	gwHost, gwPortStr, err := net.SplitHostPort(gwAddr)
	require.NoError(t, err)
	h.GatewayHost = gwHost
	gwPort, err := strconv.ParseUint(gwPortStr, 10, 16)
	require.NoError(t, err)
	h.GatewayPort = uint16(gwPort)

	_, err = h.Dial(context.Background(), config.DefaultLimits())
	assert.Error(t, err)
}
