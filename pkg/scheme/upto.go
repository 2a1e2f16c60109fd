package scheme

import (
	"context"
	"math/big"

	x402 "github.com/x402-foundation/x402-core"
	"github.com/x402-foundation/x402-core/pkg/evmchain"
)

// UptoFacilitator implements the "upto" scheme: the signed authorization
// value is a ceiling, not a fixed charge. Verify accepts any authorized
// value <= the required ceiling.
//
// Settlement still transfers the full signed value: plain EIP-3009
// transferWithAuthorization has no notion of a partial draw against a
// signature, so there is no on-chain mechanism to later charge less than
// what was signed. This module resolves the scheme's open design point by
// keeping enforcement off-chain, at the resource server: a server that wants
// to charge less than the ceiling must have the client sign a fresh, lower
// authorization for the actual usage before calling Settle, rather than
// expecting this facilitator to partially draw against the original one.
type UptoFacilitator struct {
	Chains *evmchain.Adapter
	Nonces *x402.NonceCache
}

// NewUptoFacilitator constructs an UptoFacilitator.
func NewUptoFacilitator(chains *evmchain.Adapter, nonces *x402.NonceCache) *UptoFacilitator {
	return &UptoFacilitator{Chains: chains, Nonces: nonces}
}

func (f *UptoFacilitator) Scheme() x402.Scheme { return x402.SchemeUpto }

func (f *UptoFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	return verifyAuthorization(ctx, f.Chains, f.Nonces, payload, requirements, func(authorized, required *big.Int) error {
		if authorized.Cmp(required) > 0 {
			return errExceedsCeiling
		}
		return nil
	})
}

func (f *UptoFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements, actualAmount string) (x402.SettleResponse, error) {
	return settleFullAmount(ctx, f.Chains, payload, requirements, actualAmount)
}

// EstimateGas implements x402.GasEstimator.
func (f *UptoFacilitator) EstimateGas(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (uint64, error) {
	return estimateSettleGas(ctx, f.Chains, payload, requirements)
}

var errExceedsCeiling = &ceilingError{}

type ceilingError struct{}

func (*ceilingError) Error() string { return "authorized value exceeds ceiling" }
