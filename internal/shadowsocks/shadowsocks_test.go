package shadowsocks

import (
	"bytes"
	"context"
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

func TestDecodeIPv4(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x01) // IPv4
	buf.Write([]byte{127, 0, 0, 1})
	buf.Write([]byte{0x1F, 0x40}) // port 8000
	buf.WriteString("ciphertext-follows")

	req, err := Decode(fakeStream{&buf})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", req.Target.Host)
	assert.Equal(t, uint16(8000), req.Target.Port)
	assert.Equal(t, "ciphertext-follows", buf.String())
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x02) // not a valid Shadowsocks tag (0x02 is the shared-set domain tag, not SS's)
	_, err := Decode(fakeStream{&buf})
	require.Error(t, err)
}
