package session

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func padTo(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

func TestIsVLESSFirstByteZero(t *testing.T) {
	assert.True(t, isVLESS(padTo([]byte{0x00}, PeekLen)))
	assert.False(t, isVLESS(padTo([]byte{0x01}, PeekLen)))
}

func TestIsShadowsocksRequiresNonZeroPort(t *testing.T) {
	b := padTo([]byte{0x01, 10, 0, 0, 1, 0x1F, 0x40}, PeekLen)
	assert.True(t, isShadowsocks(b))

	zeroPort := padTo([]byte{0x01, 10, 0, 0, 1, 0x00, 0x00}, PeekLen)
	assert.False(t, isShadowsocks(zeroPort))
}

func TestIsShadowsocksDomainTag(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x03)
	buf.WriteByte(11)
	buf.WriteString("example.com")
	buf.Write([]byte{0x01, 0xBB})
	assert.True(t, isShadowsocks(padTo(buf.Bytes(), PeekLen)))
}

func TestIsTrojanRequiresCRLFAtOffset56(t *testing.T) {
	b := make([]byte, PeekLen)
	b[0] = 0xFF // not a VLESS/Shadowsocks-matching lead byte
	b[56] = 0x0D
	b[57] = 0x0A
	assert.True(t, isTrojan(b))

	noCRLF := make([]byte, PeekLen)
	assert.False(t, isTrojan(noCRLF))
}

func TestDispatchOrderVLESSBeatsOthers(t *testing.T) {
	// buf[0] == 0 always wins regardless of what follows, per spec.md's
	// fixed evaluation order.
	b := make([]byte, PeekLen)
	b[56], b[57] = 0x0D, 0x0A
	assert.True(t, isVLESS(b))
}
