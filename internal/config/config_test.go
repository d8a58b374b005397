package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountryTableFromJSON(t *testing.T) {
	table, err := CountryTableFromJSON(`{"US": ["1.1.1.1:443", "2.2.2.2:8443"], "de": ["3.3.3.3:80"]}`)
	require.NoError(t, err)
	assert.Len(t, table["US"], 2)
	assert.Len(t, table["DE"], 1)
	assert.Equal(t, "3.3.3.3", table["DE"][0].Host)
	assert.EqualValues(t, 80, table["DE"][0].Port)
}

func TestCountryTableFromJSONEmpty(t *testing.T) {
	table, err := CountryTableFromJSON("")
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestCountryTableFromJSONBadEntry(t *testing.T) {
	_, err := CountryTableFromJSON(`{"US": ["not-a-host-port"]}`)
	require.Error(t, err)
}

func TestParseUUID(t *testing.T) {
	id, err := ParseUUID("f47ac10b-58cc-4372-a567-0e02b2c3d479")
	require.NoError(t, err)
	assert.Equal(t, "f47ac10b-58cc-4372-a567-0e02b2c3d479", id.String())

	_, err = ParseUUID("not-a-uuid")
	require.Error(t, err)
}

func TestWithFallback(t *testing.T) {
	cfg := Config{FallbackHost: "orig", FallbackPort: 443}
	updated := cfg.WithFallback("override.example", 9000)
	assert.Equal(t, "override.example", updated.FallbackAddr()[:len("override.example")])
	assert.Equal(t, "orig:443", cfg.FallbackAddr())
}

func TestWithRequestHost(t *testing.T) {
	cfg := Config{FallbackHost: "x", FallbackPort: 1}
	updated := cfg.WithRequestHost("target.example")
	assert.Equal(t, "target.example:443", updated.FallbackAddr())
}
