package evmchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-core"
)

func TestGetNetworkConfig_Known(t *testing.T) {
	cfg, err := GetNetworkConfig(x402.NetworkBaseMainnet)
	require.NoError(t, err)
	assert.Equal(t, int64(8453), cfg.ChainID.Int64())
}

func TestGetNetworkConfig_Unknown(t *testing.T) {
	_, err := GetNetworkConfig(x402.Network("nowhere"))
	assert.Error(t, err)
}

func TestGetAsset_DefaultsWhenEmpty(t *testing.T) {
	asset, err := GetAsset(x402.NetworkBaseSepolia, "")
	require.NoError(t, err)
	assert.Equal(t, 6, asset.Decimals)
}

func TestGetAsset_UnknownAddressFallsBackToGeneric(t *testing.T) {
	asset, err := GetAsset(x402.NetworkBaseSepolia, "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, 18, asset.Decimals)
}

func TestIsValidNetwork(t *testing.T) {
	assert.True(t, IsValidNetwork(x402.NetworkArbitrumOne))
	assert.False(t, IsValidNetwork(x402.Network("nowhere")))
}
