package scheme

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	x402 "github.com/x402-foundation/x402-core"
	"github.com/x402-foundation/x402-core/pkg/evmchain"
	"github.com/x402-foundation/x402-core/pkg/resilience"
)

// settleMaxAttempts and settleBackoff bound the submit retry loop: 3 total
// attempts, 2s exponential base, matching the facilitator's settlement
// contract.
const settleMaxAttempts = 3

var settleBackoff = resilience.Backoff{Initial: 2 * time.Second, Multiplier: 2, Jitter: 0.1, MaxDelay: 30 * time.Second}

// ExactFacilitator implements the "exact" scheme: the authorized value must
// equal the required amount, and settlement transfers the full amount.
type ExactFacilitator struct {
	Chains *evmchain.Adapter
	Nonces *x402.NonceCache
}

// NewExactFacilitator constructs an ExactFacilitator.
func NewExactFacilitator(chains *evmchain.Adapter, nonces *x402.NonceCache) *ExactFacilitator {
	return &ExactFacilitator{Chains: chains, Nonces: nonces}
}

func (f *ExactFacilitator) Scheme() x402.Scheme { return x402.SchemeExact }

func (f *ExactFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	return verifyAuthorization(ctx, f.Chains, f.Nonces, payload, requirements, func(authorized, required *big.Int) error {
		if authorized.Cmp(required) != 0 {
			return fmt.Errorf("authorized value %s does not equal required %s", authorized, required)
		}
		return nil
	})
}

// Settle does not re-verify the payload (the nonce was already marked during
// Verify, so a fresh CheckAndMark here would reject a legitimate
// verify-then-settle call); it trusts a prior successful Verify, focuses on
// submission, and transfers the full authorized amount.
func (f *ExactFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements, actualAmount string) (x402.SettleResponse, error) {
	return settleFullAmount(ctx, f.Chains, payload, requirements, actualAmount)
}

// EstimateGas implements x402.GasEstimator.
func (f *ExactFacilitator) EstimateGas(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (uint64, error) {
	return estimateSettleGas(ctx, f.Chains, payload, requirements)
}

// settleFullAmount simulates, then submits, transferWithAuthorization,
// shared by exact and upto. The call is simulated
// first; a revert there is reported as a failed settlement without ever
// submitting a transaction. Submission itself runs under exponential
// backoff, attempted up to settleMaxAttempts times in total, skipping the retry for
// errors that a resubmission can't fix (nonce/balance problems).
func settleFullAmount(ctx context.Context, chain *evmchain.Adapter, payload x402.PaymentPayload, requirements x402.PaymentRequirements, actualAmount string) (x402.SettleResponse, error) {
	started := time.Now()
	auth := payload.Payload.Authorization

	sigBytes, err := hex.DecodeString(strings.TrimPrefix(payload.Payload.Signature, "0x"))
	if err != nil || len(sigBytes) != 65 {
		return fail(x402.ErrCodeSignatureInvalid, "", requirements.Network, started), nil
	}
	var r, s [32]byte
	copy(r[:], sigBytes[0:32])
	copy(s[:], sigBytes[32:64])
	v := sigBytes[64]

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return fail(x402.ErrCodeInvalidPayload, "", requirements.Network, started), nil
	}
	chargeValue := value
	if actualAmount != "" {
		requested, ok := new(big.Int).SetString(actualAmount, 10)
		if !ok {
			return fail(x402.ErrCodeInvalidPayload, auth.From, requirements.Network, started), nil
		}
		if requested.Cmp(value) > 0 {
			return fail(x402.ErrCodeChargeExceedsAuthorized, auth.From, requirements.Network, started), nil
		}
		if requested.Cmp(value) != 0 {
			// Plain EIP-3009 transferWithAuthorization has no partial-draw
			// mechanism: a single authorization moves its full signed
			// value or nothing. Charging less requires a fresh, lower
			// authorization from the payer, not a lower actualAmount here.
			return fail(x402.ErrCodeSettlementFailed, auth.From, requirements.Network, started), nil
		}
		chargeValue = requested
	}

	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	nonceBytes, err := hex.DecodeString(strings.TrimPrefix(auth.Nonce, "0x"))
	if err != nil || len(nonceBytes) != 32 {
		return fail(x402.ErrCodeInvalidPayload, auth.From, requirements.Network, started), nil
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	asset, err := evmchain.GetAsset(requirements.Network, requirements.Asset)
	if err != nil {
		return fail(x402.ErrCodeUnsupportedNetwork, auth.From, requirements.Network, started), nil
	}

	if chain == nil {
		return fail(x402.ErrCodeSettlementFailed, auth.From, requirements.Network, started), nil
	}

	if _, err := chain.EstimateGas(ctx, asset.Address, auth.From, auth.To, value, validAfter, validBefore, nonce, v, r, s); err != nil {
		return fail(x402.ErrCodeSettlementFailed, auth.From, requirements.Network, started), nil
	}

	var txHash string
	for attempt := 0; attempt < settleMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(settleBackoff.Delay(attempt - 1)):
			case <-ctx.Done():
				return fail(x402.ErrCodeSettlementFailed, auth.From, requirements.Network, started), nil
			}
		}
		txHash, err = chain.SubmitAuthorization(ctx, asset.Address, auth.From, auth.To, value, validAfter, validBefore, nonce, v, r, s)
		if err == nil || !isRetryableSettleError(err) {
			break
		}
	}
	if err != nil {
		return fail(x402.ErrCodeSettlementFailed, auth.From, requirements.Network, started), nil
	}

	receipt, err := chain.WaitForReceipt(ctx, txHash)
	if err != nil || receipt.Status != 1 {
		resp := fail(x402.ErrCodeSettlementFailed, auth.From, requirements.Network, started)
		resp.Transaction = txHash
		return resp, nil
	}

	return x402.SettleResponse{
		Success:      true,
		Payer:        auth.From,
		Transaction:  txHash,
		Network:      requirements.Network,
		ActualAmount: chargeValue.String(),
		GasUsed:      receipt.GasUsed,
		LatencyMs:    time.Since(started).Milliseconds(),
	}, nil
}

func fail(reason, payer string, network x402.Network, started time.Time) x402.SettleResponse {
	return x402.SettleResponse{
		Success:     false,
		ErrorReason: reason,
		Payer:       payer,
		Network:     network,
		LatencyMs:   time.Since(started).Milliseconds(),
	}
}

// isRetryableSettleError reports whether resubmitting after err might
// succeed. Nonce and balance problems won't be fixed by retrying the same
// submission, so they're excluded.
func isRetryableSettleError(err error) bool {
	msg := strings.ToLower(err.Error())
	return !strings.Contains(msg, "nonce") && !strings.Contains(msg, "insufficient")
}

// estimateSettleGas simulates the same transferWithAuthorization call
// settleFullAmount would submit, without signing or sending a transaction,
// backing the facilitator's /estimate-gas endpoint.
func estimateSettleGas(ctx context.Context, chain *evmchain.Adapter, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (uint64, error) {
	if chain == nil {
		return 0, fmt.Errorf("no chain adapter bound for network %s", requirements.Network)
	}
	auth := payload.Payload.Authorization

	sigBytes, err := hex.DecodeString(strings.TrimPrefix(payload.Payload.Signature, "0x"))
	if err != nil || len(sigBytes) != 65 {
		return 0, fmt.Errorf("invalid signature")
	}
	var r, s [32]byte
	copy(r[:], sigBytes[0:32])
	copy(s[:], sigBytes[32:64])
	v := sigBytes[64]

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return 0, fmt.Errorf("invalid authorization value")
	}
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	nonceBytes, err := hex.DecodeString(strings.TrimPrefix(auth.Nonce, "0x"))
	if err != nil || len(nonceBytes) != 32 {
		return 0, fmt.Errorf("invalid authorization nonce")
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	asset, err := evmchain.GetAsset(requirements.Network, requirements.Asset)
	if err != nil {
		return 0, err
	}

	return chain.EstimateGas(ctx, asset.Address, auth.From, auth.To, value, validAfter, validBefore, nonce, v, r, s)
}
