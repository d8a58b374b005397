package wsstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoshiyomiX/Beacon/internal/config"
)

// dialPair spins up a test HTTP server that upgrades to a WebSocket and
// returns both ends connected to each other.
func dialPair(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srvCh := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		srvCh <- c
	}))
	t.Cleanup(ts.Close)

	url := "ws" + ts.URL[len("http"):]
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	server = <-srvCh
	t.Cleanup(func() { server.Close() })
	return c, server
}

func testLimits() config.Limits {
	lim := config.DefaultLimits()
	lim.BufferCap = 4096
	lim.HandshakeTimeout = time.Second
	return lim
}

func TestFillUntilAccumulatesAcrossMessages(t *testing.T) {
	client, server := dialPair(t)

	go func() {
		_ = client.WriteMessage(websocket.BinaryMessage, []byte("hello "))
		_ = client.WriteMessage(websocket.BinaryMessage, []byte("world"))
	}()

	a := New(server, testLimits(), "test")
	require.NoError(t, a.FillUntil(context.Background(), 11))
	assert.Equal(t, "hello world", string(a.Peek(11)))
}

func TestFillUntilTimesOutWithoutError(t *testing.T) {
	_, server := dialPair(t)

	lim := testLimits()
	lim.HandshakeTimeout = 100 * time.Millisecond
	a := New(server, lim, "test")

	err := a.FillUntil(context.Background(), 100)
	require.NoError(t, err)
	assert.Less(t, a.Buffered(), 100)
}

func TestReadFullConsumesInOrder(t *testing.T) {
	client, server := dialPair(t)
	go func() { _ = client.WriteMessage(websocket.BinaryMessage, []byte("abcdef")) }()

	a := New(server, testLimits(), "test")
	var first [3]byte
	require.NoError(t, a.ReadFull(first[:]))
	assert.Equal(t, "abc", string(first[:]))

	var second [3]byte
	require.NoError(t, a.ReadFull(second[:]))
	assert.Equal(t, "def", string(second[:]))
}

func TestAppendLockedHoldsOverflowWithoutDropping(t *testing.T) {
	lim := testLimits()
	lim.BufferCap = 8
	a := &Adaptor{limit: lim, buf: make([]byte, 0, lim.BufferCap)}

	data := []byte("0123456789ABCDEF") // 16 bytes, double the cap
	a.appendLocked(data)

	assert.Equal(t, "01234567", string(a.buf))
	assert.Equal(t, "89ABCDEF", string(a.pending))

	a.mu.Lock()
	a.buf = a.buf[4:]
	a.drainPendingLocked()
	a.mu.Unlock()

	assert.Equal(t, "456789AB", string(a.buf))
	assert.Equal(t, "CDEF", string(a.pending))
}

func TestReadChunkReturnsZeroOnClose(t *testing.T) {
	client, server := dialPair(t)
	go func() { _ = client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)) }()

	a := New(server, testLimits(), "test")
	buf := make([]byte, 16)
	n, err := a.ReadChunk(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
