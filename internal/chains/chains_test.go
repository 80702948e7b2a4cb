package chains

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/config"
)

const wethLower = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
const wethChecksum = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"

func testRegistry() *Registry {
	return NewRegistry(map[string]config.ChainConfig{
		"Ethereum": {
			HexCode:       "0x1",
			NativeToken:   wethLower,
			TrackedTokens: []string{wethLower, "0x6B175474E89094C44Da98b954EedeAC495271d0F"},
		},
		"polygon": {
			HexCode:     "0x89",
			NativeToken: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
		},
	})
}

func TestHexCode(t *testing.T) {
	registry := testRegistry()

	hex, err := registry.HexCode("ethereum")
	require.NoError(t, err)
	assert.Equal(t, "0x1", hex)

	// Case-insensitive lookup.
	hex, err = registry.HexCode("ETHEREUM")
	require.NoError(t, err)
	assert.Equal(t, "0x1", hex)

	_, err = registry.HexCode("solana")
	assert.ErrorIs(t, err, ErrUnsupportedChain)
}

func TestNativeTokenIsChecksummed(t *testing.T) {
	registry := testRegistry()

	native, err := registry.NativeToken("ethereum")
	require.NoError(t, err)
	assert.Equal(t, wethChecksum, native)
}

func TestTrackedTokensAreChecksummed(t *testing.T) {
	registry := testRegistry()

	tokens, err := registry.TrackedTokens("ethereum")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, wethChecksum, tokens[0])
	assert.Equal(t, "0x6B175474E89094C44Da98b954EedeAC495271d0F", tokens[1])
}

func TestNamesAreSorted(t *testing.T) {
	registry := testRegistry()
	assert.Equal(t, []string{"ethereum", "polygon"}, registry.Names())
}

func TestNormalizeAddress(t *testing.T) {
	normalized, err := NormalizeAddress("  " + wethLower + "  ")
	require.NoError(t, err)
	assert.Equal(t, wethChecksum, normalized)

	for _, bad := range []string{"", "0x123", "not-an-address", "c02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"} {
		_, err := NormalizeAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, "input %q", bad)
	}
}
