package addr

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoshiyomiX/Beacon/internal/errcls"
)

func TestParsePortRejectsZero(t *testing.T) {
	r := FromIOReader(bytes.NewReader([]byte{0x00, 0x00}))
	_, err := ParsePort(r)
	require.Error(t, err)
	var tagged *errcls.TaggedError
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, errcls.KindInvalidPort, tagged.Kind)
}

func TestParsePortOK(t *testing.T) {
	r := FromIOReader(bytes.NewReader([]byte{0x01, 0xBB})) // 443
	port, err := ParsePort(r)
	require.NoError(t, err)
	assert.EqualValues(t, 443, port)
}

func TestParseSharedIPv4(t *testing.T) {
	r := FromIOReader(bytes.NewReader([]byte{0x01, 127, 0, 0, 1}))
	rec, err := ParseShared(r)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", rec.Host)
}

func TestParseSharedDomain(t *testing.T) {
	domain := "example.com"
	buf := append([]byte{0x02, byte(len(domain))}, []byte(domain)...)
	r := FromIOReader(bytes.NewReader(buf))
	rec, err := ParseShared(r)
	require.NoError(t, err)
	assert.Equal(t, domain, rec.Host)
}

func TestParseSharedIPv6(t *testing.T) {
	ip := bytes.Repeat([]byte{0}, 15)
	ip = append(ip, 1)
	buf := append([]byte{0x04}, ip...)
	r := FromIOReader(bytes.NewReader(buf))
	rec, err := ParseShared(r)
	require.NoError(t, err)
	assert.Equal(t, "::1", rec.Host)
}

func TestParseSharedRejectsShadowsocksDomainTag(t *testing.T) {
	// Shared set has no tag 0x03; Shadowsocks' domain tag must be rejected here.
	r := FromIOReader(bytes.NewReader([]byte{0x03, 0x00}))
	_, err := ParseShared(r)
	require.Error(t, err)
	var tagged *errcls.TaggedError
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, errcls.KindUnsupportedAddressType, tagged.Kind)
}

func TestParseShadowsocksDomain(t *testing.T) {
	domain := "example.org"
	buf := append([]byte{0x03, byte(len(domain))}, []byte(domain)...)
	r := FromIOReader(bytes.NewReader(buf))
	rec, err := ParseShadowsocks(r)
	require.NoError(t, err)
	assert.Equal(t, domain, rec.Host)
}

func TestRecordAddr(t *testing.T) {
	rec := Record{Host: "example.com", Port: 8443}
	assert.Equal(t, "example.com:8443", rec.Addr())
}

func TestParseSharedWithPort(t *testing.T) {
	domain := "x.test"
	buf := append([]byte{0x02, byte(len(domain))}, []byte(domain)...)
	buf = append(buf, 0x01, 0xBB)
	r := FromIOReader(bytes.NewReader(buf))
	rec, err := ParseSharedWithPort(r)
	require.NoError(t, err)
	assert.Equal(t, domain, rec.Host)
	assert.EqualValues(t, 443, rec.Port)
}
