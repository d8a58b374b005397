package trojan

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	*bytes.Buffer
}

func (f fakeStream) ReadByte() (byte, error) {
	return f.Buffer.ReadByte()
}

func (f fakeStream) ReadFull(p []byte) error {
	_, err := f.Buffer.Read(p)
	return err
}

func (f fakeStream) ReadChunk(context.Context, []byte) (int, error) { return 0, nil }
func (f fakeStream) Write(context.Context, []byte) error            { return nil }
func (f fakeStream) CloseWrite(context.Context) error                { return nil }

func TestDecodeToDomain(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(strings.Repeat("a", UserHashLen)) // 56-byte hash, unvalidated
	buf.WriteString("\r\n")
	buf.WriteByte(0x01)                    // network type: TCP
	buf.WriteByte(0x02)                    // domain tag (shared set)
	buf.WriteByte(11)
	buf.WriteString("example.com")
	buf.Write([]byte{0x01, 0xBB}) // port 443
	buf.WriteString("\r\n")

	req, err := Decode(fakeStream{&buf})
	require.NoError(t, err)
	assert.True(t, req.IsTCP)
	assert.Equal(t, "example.com", req.Target.Host)
	assert.Equal(t, uint16(443), req.Target.Port)
}

func TestDecodeRejectsTruncatedHash(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("short")
	_, err := Decode(fakeStream{&buf})
	require.Error(t, err)
}
