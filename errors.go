package x402

import "fmt"

// PaymentError represents a payment-specific error with a machine-readable
// code, matching the "invalidReason"/"errorReason" strings the wire protocol
// exposes to clients.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes returned in VerifyResponse.InvalidReason / SettleResponse.ErrorReason.
const (
	ErrCodeInvalidPayload         = "invalid_payload"
	ErrCodeUnsupportedVersion     = "unsupported_x402_version"
	ErrCodeSchemeMismatch         = "scheme_mismatch"
	ErrCodeNetworkMismatch        = "network_mismatch"
	ErrCodeRecipientMismatch      = "recipient_mismatch"
	ErrCodeInsufficientValue      = "insufficient_value"
	ErrCodeInsufficientFunds      = "insufficient_funds"
	ErrCodeExpired                = "authorization_expired"
	ErrCodeNotYetValid            = "authorization_not_yet_valid"
	ErrCodeSignatureInvalid       = "invalid_signature"
	ErrCodeNonceReused            = "nonce_already_used"
	ErrCodeUnsupportedScheme      = "unsupported_scheme"
	ErrCodeUnsupportedNetwork     = "unsupported_network"
	ErrCodeSettlementFailed        = "settlement_failed"
	ErrCodeFacilitatorUnreachable  = "facilitator_unreachable"
	ErrCodeChargeExceedsAuthorized = "charge_exceeds_authorized_max"
)

// NewPaymentError creates a new payment error.
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{Code: code, Message: message, Details: details}
}
