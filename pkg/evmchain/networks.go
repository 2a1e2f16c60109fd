// Package evmchain adapts an Ethereum JSON-RPC endpoint into the chain
// operations a verifier/settler needs: balance reads, authorization
// submission, and receipt polling, one client per supported network.
package evmchain

import (
	"fmt"
	"math/big"
	"strings"

	x402 "github.com/x402-foundation/x402-core"
)

// Asset describes the EIP-3009-capable stablecoin a network settles by default.
type Asset struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig is the static configuration of one supported network.
type NetworkConfig struct {
	ChainID      *big.Int
	DefaultAsset Asset
}

// Networks is the set of networks this facilitator knows how to settle on.
// Grounded in the teacher's v1 network table, narrowed to the networks this
// module's spec names.
var Networks = map[x402.Network]NetworkConfig{
	x402.NetworkBaseMainnet: {
		ChainID: big.NewInt(8453),
		DefaultAsset: Asset{
			Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Name:     "USD Coin",
			Version:  "2",
			Decimals: 6,
		},
	},
	x402.NetworkBaseSepolia: {
		ChainID: big.NewInt(84532),
		DefaultAsset: Asset{
			Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Name:     "USDC",
			Version:  "2",
			Decimals: 6,
		},
	},
	x402.NetworkEthereumMainnet: {
		ChainID: big.NewInt(1),
		DefaultAsset: Asset{
			Address:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Name:     "USD Coin",
			Version:  "2",
			Decimals: 6,
		},
	},
	x402.NetworkArbitrumOne: {
		ChainID: big.NewInt(42161),
		DefaultAsset: Asset{
			Address:  "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
			Name:     "USD Coin",
			Version:  "2",
			Decimals: 6,
		},
	},
	x402.NetworkOptimismMainnet: {
		ChainID: big.NewInt(10),
		DefaultAsset: Asset{
			Address:  "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
			Name:     "USD Coin",
			Version:  "2",
			Decimals: 6,
		},
	},
}

// L2Networks lists the rollups this facilitator settles on, in the order the
// client payment engine should prefer them when several offers tie on price.
// ethereum-mainnet is the only L1 this module supports and is deliberately
// absent.
var L2Networks = []x402.Network{
	x402.NetworkBaseMainnet,
	x402.NetworkBaseSepolia,
	x402.NetworkArbitrumOne,
	x402.NetworkOptimismMainnet,
}

// GetNetworkConfig returns the static configuration for a network.
func GetNetworkConfig(network x402.Network) (NetworkConfig, error) {
	cfg, ok := Networks[network]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unsupported network: %s", network)
	}
	return cfg, nil
}

// GetAsset resolves an asset address for a network. An empty
// assetAddress falls back to the network's default stablecoin; an explicit
// address is accepted as-is (decimals/name default to the network's asset
// if it matches, else to generic ERC-20 assumptions).
func GetAsset(network x402.Network, assetAddress string) (Asset, error) {
	cfg, err := GetNetworkConfig(network)
	if err != nil {
		return Asset{}, err
	}
	if assetAddress == "" {
		return cfg.DefaultAsset, nil
	}
	if strings.EqualFold(assetAddress, cfg.DefaultAsset.Address) {
		return cfg.DefaultAsset, nil
	}
	return Asset{Address: assetAddress, Name: "Unknown Token", Version: "1", Decimals: 18}, nil
}

// IsValidNetwork reports whether network is configured.
func IsValidNetwork(network x402.Network) bool {
	_, ok := Networks[network]
	return ok
}
