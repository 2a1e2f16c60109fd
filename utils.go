package x402

import "fmt"

// ValidatePaymentPayload performs wire-level validation on a decoded payload,
// ahead of any scheme-specific (signature, nonce) checks.
func ValidatePaymentPayload(p PaymentPayload) error {
	if p.X402Version != 1 {
		return fmt.Errorf("unsupported x402 version: %d", p.X402Version)
	}
	if p.Scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if p.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if p.Payload.Authorization.From == "" {
		return fmt.Errorf("payment authorization is required")
	}
	return nil
}

// ValidatePaymentRequirements performs basic validation on payment
// requirements before they are handed to a scheme implementation.
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if r.Scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if r.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if r.Asset == "" {
		return fmt.Errorf("payment asset is required")
	}
	if r.PayTo == "" {
		return fmt.Errorf("payment recipient is required")
	}
	if r.MaxAmountRequired == "" {
		return fmt.Errorf("maxAmountRequired is required")
	}
	return nil
}

// FindByNetworkAndScheme looks up a registered implementation for a
// (network, scheme) pair in a two-level registry. Unlike the teacher's
// version this module carries, there is no wildcard network pattern in
// scope, so lookup is a direct two-level map index. Shared by the
// facilitator's scheme dispatch and any caller building a similar registry.
func FindByNetworkAndScheme[T any](registry map[Network]map[Scheme]T, network Network, scheme Scheme) (T, bool) {
	var zero T
	schemes, ok := registry[network]
	if !ok {
		return zero, false
	}
	impl, ok := schemes[scheme]
	return impl, ok
}
