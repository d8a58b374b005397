package dialer

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listenEphemeral opens a TCP listener on an ephemeral port and returns its
// host/port, accepting and immediately closing every connection so Dial
// sees a successful connect.
func listenEphemeral(t *testing.T) (string, uint16, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)
	return host, uint16(port), func() { ln.Close() }
}

func TestDialFirstCandidateSucceeds(t *testing.T) {
	host, port, cleanup := listenEphemeral(t)
	defer cleanup()

	pool := []Candidate{{Host: host, Port: port}}
	conn, idx, err := Dial(context.Background(), pool, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, 0, idx)
}

func TestDialFallsBackToSecondCandidate(t *testing.T) {
	host, port, cleanup := listenEphemeral(t)
	defer cleanup()

	// First candidate: a closed listener on an otherwise-valid loopback
	// port that refuses the connection outright.
	refusing, refusingPort, refuseCleanup := listenEphemeral(t)
	refuseCleanup() // close immediately: the port now refuses connections

	pool := []Candidate{
		{Host: refusing, Port: refusingPort},
		{Host: host, Port: port},
	}
	conn, idx, err := Dial(context.Background(), pool, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, 1, idx)
}

func TestDialAllCandidatesFail(t *testing.T) {
	refusing, refusingPort, cleanup := listenEphemeral(t)
	cleanup()

	pool := []Candidate{{Host: refusing, Port: refusingPort}}
	_, _, err := Dial(context.Background(), pool, time.Second)
	require.Error(t, err)
}
