package x402

import "context"

// SchemeClient is implemented by client-side payment mechanisms: it signs an
// Authorization satisfying the given requirements and returns a complete
// PaymentPayload ready to base64-encode into X-PAYMENT.
type SchemeClient interface {
	Scheme() Scheme
	CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements) (PaymentPayload, error)
}

// SchemeFacilitator is implemented by facilitator-side payment mechanisms:
// it verifies a payload against requirements without moving funds, and
// settles a previously-verified payload on-chain.
type SchemeFacilitator interface {
	Scheme() Scheme
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	// Settle submits the signed authorization on-chain. actualAmount is
	// optional; empty or equal to the signed value means charge the full
	// signed value. The pkg/scheme implementations fail the settlement for
	// any other amount, since one EIP-3009 authorization cannot be
	// partially drawn.
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements, actualAmount string) (SettleResponse, error)
}

// FacilitatorClient is the interface a resource-server gateway uses to talk
// to a facilitator, whether in-process or over HTTP.
type FacilitatorClient interface {
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
	Supported(ctx context.Context) (SupportedResponse, error)
}

// GasEstimator is an optional capability of a SchemeFacilitator: schemes
// backed by an on-chain adapter can simulate their settlement call to report
// its gas cost ahead of time, without submitting it. The facilitator's
// /estimate-gas endpoint type-asserts for this rather than widening
// SchemeFacilitator itself, since gas estimation is meaningless for a
// hypothetical future non-EVM scheme.
type GasEstimator interface {
	EstimateGas(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (uint64, error)
}
