package eip712

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-core"
)

func TestHashAuthorization_RecoverSignerRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	domain := Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           big.NewInt(84532),
		VerifyingContract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}
	auth := x402.Authorization{
		From:        address,
		To:          "0x000000000000000000000000000000000000aa",
		Value:       "1000000",
		ValidAfter:  "0",
		ValidBefore: "9999999999",
		Nonce:       "0x924cb1aec65063c7586f43acfca2ffa12d580a8b49465f601367539e9b11f5c",
	}

	digest, err := HashAuthorization(domain, auth)
	require.NoError(t, err)
	require.Len(t, digest, 32)

	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[64] += 27

	recovered, err := RecoverSigner(domain, auth, sig)
	require.NoError(t, err)
	assert.Equal(t, address, recovered)
}

func TestSign_RecoverSignerRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	domain := Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           big.NewInt(84532),
		VerifyingContract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}
	auth := x402.Authorization{
		From:        address,
		To:          "0x000000000000000000000000000000000000aa",
		Value:       "1000000",
		ValidAfter:  "0",
		ValidBefore: "9999999999",
		Nonce:       "0x924cb1aec65063c7586f43acfca2ffa12d580a8b49465f601367539e9b11f5c",
	}

	sig, err := Sign(domain, auth, key)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	recovered, err := RecoverSigner(domain, auth, sig)
	require.NoError(t, err)
	assert.Equal(t, address, recovered)
}

func TestHashAuthorization_InvalidValue(t *testing.T) {
	domain := Domain{Name: "USD Coin", Version: "2", ChainID: big.NewInt(1), VerifyingContract: "0xasset"}
	auth := x402.Authorization{Value: "not-a-number"}
	_, err := HashAuthorization(domain, auth)
	assert.Error(t, err)
}

func TestRecoverSigner_WrongSignatureLength(t *testing.T) {
	domain := Domain{Name: "USD Coin", Version: "2", ChainID: big.NewInt(1), VerifyingContract: "0xasset"}
	auth := x402.Authorization{Value: "1", ValidAfter: "0", ValidBefore: "1", Nonce: "0x00"}
	_, err := RecoverSigner(domain, auth, []byte{1, 2, 3})
	assert.Error(t, err)
}
