// Package scheme implements the "exact" and "upto" payment schemes as a sum
// type sharing one authorization-verification routine, differing only in
// the amount comparison Verify applies: exact requires the signed value to
// equal the required amount, upto accepts any signed value up to it. Both
// settle the full signed value through EIP-3009 transferWithAuthorization.
package scheme

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	x402 "github.com/x402-foundation/x402-core"
	"github.com/x402-foundation/x402-core/pkg/eip712"
	"github.com/x402-foundation/x402-core/pkg/evmchain"
)

// validBeforeBuffer is the minimum time (seconds) an authorization must
// still be valid for, accounting for block propagation delay before the
// facilitator's settlement transaction lands.
const validBeforeBuffer = 6

// verifyAuthorization runs the checks common to every EIP-3009-based
// scheme: version, scheme/network match, recipient, value, validity window,
// soft balance check, nonce replay, and signature recovery. Scheme-specific
// callers (exact/upto) pass their own amount comparison as compareValue,
// since "exact" requires value == required and "upto" requires
// value <= required.
func verifyAuthorization(
	ctx context.Context,
	chain *evmchain.Adapter,
	nonces *x402.NonceCache,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
	compareValue func(authorized, required *big.Int) error,
) (x402.VerifyResponse, error) {
	if payload.X402Version != 1 {
		return invalid(x402.ErrCodeUnsupportedVersion), nil
	}
	if payload.Scheme != requirements.Scheme {
		return invalid(x402.ErrCodeSchemeMismatch), nil
	}
	if payload.Network != requirements.Network {
		return invalid(x402.ErrCodeNetworkMismatch), nil
	}

	auth := payload.Payload.Authorization
	if payload.Payload.Signature == "" {
		return invalid(x402.ErrCodeSignatureInvalid), nil
	}

	netCfg, err := evmchain.GetNetworkConfig(requirements.Network)
	if err != nil {
		return invalid(x402.ErrCodeUnsupportedNetwork), nil
	}
	asset, err := evmchain.GetAsset(requirements.Network, requirements.Asset)
	if err != nil {
		return invalid(x402.ErrCodeUnsupportedNetwork), nil
	}

	if !strings.EqualFold(auth.To, requirements.PayTo) {
		return invalid(x402.ErrCodeRecipientMismatch), nil
	}

	authValue, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return invalid(x402.ErrCodeInvalidPayload), nil
	}
	requiredValue, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return invalid(x402.ErrCodeInvalidPayload), nil
	}
	if err := compareValue(authValue, requiredValue); err != nil {
		return invalid(x402.ErrCodeInsufficientValue), nil
	}

	now := time.Now().Unix()
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok || validBefore.Int64() < now+validBeforeBuffer {
		return invalid(x402.ErrCodeExpired), nil
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok || validAfter.Int64() > now {
		return invalid(x402.ErrCodeNotYetValid), nil
	}

	// Balance check is soft: an RPC error does not block verification,
	// since the settler's own submission will fail on-chain if funds are
	// truly insufficient. This trades a slightly later failure for not
	// coupling verify's availability to RPC health.
	if chain != nil {
		if balance, err := chain.GetBalance(ctx, asset.Address, auth.From); err == nil {
			if balance.Cmp(authValue) < 0 {
				return invalid(x402.ErrCodeInsufficientFunds), nil
			}
		}
	}

	if nonces.CheckAndMark(requirements.Network, auth.Nonce) {
		return invalid(x402.ErrCodeNonceReused), nil
	}

	domain := eip712.Domain{
		Name:              asset.Name,
		Version:           asset.Version,
		ChainID:           netCfg.ChainID,
		VerifyingContract: asset.Address,
	}
	sigBytes, err := hexDecode(payload.Payload.Signature)
	if err != nil {
		nonces.Release(requirements.Network, auth.Nonce)
		return invalid(x402.ErrCodeSignatureInvalid), nil
	}
	recovered, err := eip712.RecoverSigner(domain, auth, sigBytes)
	if err != nil || !strings.EqualFold(recovered, auth.From) {
		nonces.Release(requirements.Network, auth.Nonce)
		return invalid(x402.ErrCodeSignatureInvalid), nil
	}

	return x402.VerifyResponse{IsValid: true, Payer: auth.From}, nil
}

func invalid(code string) x402.VerifyResponse {
	return x402.VerifyResponse{IsValid: false, InvalidReason: code}
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
