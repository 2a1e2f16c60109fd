package wallet

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-core"
	"github.com/x402-foundation/x402-core/pkg/eip712"
	"github.com/x402-foundation/x402-core/pkg/evmchain"
)

func newTestWallet(t *testing.T) (*Wallet, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := hex.EncodeToString(crypto.FromECDSA(key))
	w, err := NewWallet(hexKey, x402.SchemeExact)
	require.NoError(t, err)
	return w, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func TestWallet_CreatePaymentPayloadSignatureRecovers(t *testing.T) {
	w, address := newTestWallet(t)

	requirements := x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkBaseSepolia,
		MaxAmountRequired: "1000000",
		PayTo:             "0x000000000000000000000000000000000000aa",
		MaxTimeoutSeconds: 60,
	}

	payload, err := w.CreatePaymentPayload(context.Background(), requirements)
	require.NoError(t, err)
	assert.Equal(t, address, payload.Payload.Authorization.From)
	assert.Equal(t, requirements.MaxAmountRequired, payload.Payload.Authorization.Value)

	sigBytes, err := hex.DecodeString(strings.TrimPrefix(payload.Payload.Signature, "0x"))
	require.NoError(t, err)

	cfg, err := evmchain.GetNetworkConfig(requirements.Network)
	require.NoError(t, err)
	asset, err := evmchain.GetAsset(requirements.Network, requirements.Asset)
	require.NoError(t, err)
	domain := eip712.Domain{Name: asset.Name, Version: asset.Version, ChainID: cfg.ChainID, VerifyingContract: asset.Address}

	recovered, err := eip712.RecoverSigner(domain, payload.Payload.Authorization, sigBytes)
	require.NoError(t, err)
	assert.Equal(t, address, recovered)
}

func TestWallet_CreatePaymentPayloadDrawsDistinctNonces(t *testing.T) {
	w, _ := newTestWallet(t)
	requirements := x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkBaseSepolia,
		MaxAmountRequired: "1",
		PayTo:             "0xaa",
	}

	first, err := w.CreatePaymentPayload(context.Background(), requirements)
	require.NoError(t, err)
	second, err := w.CreatePaymentPayload(context.Background(), requirements)
	require.NoError(t, err)

	assert.NotEqual(t, first.Payload.Authorization.Nonce, second.Payload.Authorization.Nonce)
}

func TestWallet_CreatePaymentPayloadUnsupportedNetwork(t *testing.T) {
	w, _ := newTestWallet(t)
	_, err := w.CreatePaymentPayload(context.Background(), x402.PaymentRequirements{Network: "nonexistent"})
	assert.Error(t, err)
}

func TestWallet_Address(t *testing.T) {
	w, address := newTestWallet(t)
	assert.Equal(t, address, w.Address())
}
