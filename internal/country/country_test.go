package country

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoshiyomiX/Beacon/internal/config"
)

func TestSplitCodes(t *testing.T) {
	assert.Equal(t, []string{"US", "DE"}, SplitCodes("us, de"))
	assert.Equal(t, []string{"US"}, SplitCodes("US"))
	assert.Empty(t, SplitCodes(""))
}

func TestPickUniformUnknownCode(t *testing.T) {
	table := New(map[string][]config.CountryEntry{
		"US": {{Host: "1.1.1.1", Port: 443}},
	})
	_, err := table.PickUniform([]string{"ZZ"})
	require.Error(t, err)
}

func TestPickUniformEmptyCodeList(t *testing.T) {
	table := New(map[string][]config.CountryEntry{})
	_, err := table.PickUniform(nil)
	require.Error(t, err)
}

func TestPickUniformReturnsConfiguredEntry(t *testing.T) {
	table := New(map[string][]config.CountryEntry{
		"US": {{Host: "1.1.1.1", Port: 443}},
	})
	entry, err := table.PickUniform([]string{"US"})
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1", entry.Host)
	assert.EqualValues(t, 443, entry.Port)
}

func TestPickRendezvousIsStableForSameKey(t *testing.T) {
	table := New(map[string][]config.CountryEntry{
		"US": {{Host: "1.1.1.1", Port: 443}, {Host: "2.2.2.2", Port: 443}},
		"DE": {{Host: "3.3.3.3", Port: 443}},
	})
	first, err := table.PickRendezvous([]string{"US", "DE"}, "client-abc")
	require.NoError(t, err)
	second, err := table.PickRendezvous([]string{"US", "DE"}, "client-abc")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPickRendezvousNoEntries(t *testing.T) {
	table := New(map[string][]config.CountryEntry{})
	_, err := table.PickRendezvous([]string{"US"}, "k")
	require.Error(t, err)
}
