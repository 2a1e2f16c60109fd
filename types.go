// Package x402 implements the core data types and protocol primitives of the
// x402 HTTP micropayment scheme: a resource server demands a signed EIP-3009
// transfer authorization, a facilitator verifies and settles it on-chain, and
// a client retries the original request once it holds a valid authorization.
package x402

import (
	"encoding/json"
	"fmt"
)

// Network identifies a blockchain network a facilitator can settle on.
type Network string

const (
	NetworkBaseMainnet      Network = "base-mainnet"
	NetworkBaseSepolia      Network = "base-sepolia"
	NetworkEthereumMainnet  Network = "ethereum-mainnet"
	NetworkArbitrumOne      Network = "arbitrum-one"
	NetworkOptimismMainnet  Network = "optimism-mainnet"
)

// Scheme identifies a payment scheme. "exact" requires the signed value to
// equal the required amount; "upto" accepts any signed value up to the
// required amount. Both settle the full signed value.
type Scheme string

const (
	SchemeExact Scheme = "exact"
	SchemeUpto  Scheme = "upto"
)

// PaymentRequirements describes what payment a resource server will accept
// for a given request. It is carried in the 402 response body; the client
// picks one and pays with a PaymentPayload of the same scheme and network.
type PaymentRequirements struct {
	Scheme            Scheme          `json:"scheme"`
	Network           Network         `json:"network"`
	MaxAmountRequired string          `json:"maxAmountRequired"`
	Resource          string          `json:"resource"`
	Description       string          `json:"description,omitempty"`
	MimeType          string          `json:"mimeType,omitempty"`
	PayTo             string          `json:"payTo"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds"`
	Asset             string          `json:"asset"`
	Extra             json.RawMessage `json:"extra,omitempty"`
}

// Authorization is the EIP-3009 transferWithAuthorization message a client
// signs over. Value/ValidAfter/ValidBefore are decimal strings and Nonce is
// a 32-byte hex string, matching the wire format a facilitator re-parses
// into big.Int/bytes before hashing.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactPayload is the scheme-specific payload for both "exact" and "upto":
// a signature over an Authorization. The two schemes share this shape; only
// the amount comparison at verify time differs (see DESIGN.md).
type ExactPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// PaymentPayload is the decoded contents of the X-PAYMENT header.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      Scheme          `json:"scheme"`
	Network     Network         `json:"network"`
	Payload     ExactPayload    `json:"payload"`
}

// PaymentRequired is the JSON body of a 402 response.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// VerifyRequest is the body of a facilitator /verify call.
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse is the result of a facilitator /verify call.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
	LatencyMs     int64  `json:"latencyMs"`
}

// SettleRequest is the body of a facilitator /settle call. ActualAmount is
// optional: omitted or equal to the signed value, the settler charges the
// full signed value; a larger value fails with charge_exceeds_authorized_max
// and a smaller one fails with settlement_failed, since one EIP-3009
// authorization cannot be partially drawn.
type SettleRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
	ActualAmount        string              `json:"actualAmount,omitempty"`
}

// SettleResponse is the result of a facilitator /settle call, echoed back to
// the client in the X-PAYMENT-RESPONSE header.
type SettleResponse struct {
	Success      bool    `json:"success"`
	ErrorReason  string  `json:"errorReason,omitempty"`
	Payer        string  `json:"payer,omitempty"`
	Transaction  string  `json:"transaction,omitempty"`
	Network      Network `json:"network"`
	ActualAmount string  `json:"actualAmount,omitempty"`
	GasUsed      uint64  `json:"gasUsed,omitempty"`
	LatencyMs    int64   `json:"latencyMs"`
}

// SupportedKind is one (scheme, network) pair a facilitator can handle.
type SupportedKind struct {
	X402Version int             `json:"x402Version"`
	Scheme      Scheme          `json:"scheme"`
	Network     Network         `json:"network"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}

// SupportedResponse is the body of a facilitator /supported call.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// EncodeHeader base64-encodes the JSON form of p for the X-PAYMENT header.
func (p PaymentPayload) EncodeHeader() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payment payload: %w", err)
	}
	return base64Encode(data), nil
}

// DecodePaymentHeader reverses EncodeHeader.
func DecodePaymentHeader(header string) (PaymentPayload, error) {
	var p PaymentPayload
	data, err := base64Decode(header)
	if err != nil {
		return p, fmt.Errorf("decode payment header: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("unmarshal payment payload: %w", err)
	}
	return p, nil
}

// EncodeSettleHeader base64-encodes r for the X-PAYMENT-RESPONSE header.
func (r SettleResponse) EncodeSettleHeader() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode settle response: %w", err)
	}
	return base64Encode(data), nil
}

// DecodeSettleHeader reverses EncodeSettleHeader.
func DecodeSettleHeader(header string) (SettleResponse, error) {
	var r SettleResponse
	data, err := base64Decode(header)
	if err != nil {
		return r, fmt.Errorf("decode settle response header: %w", err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("unmarshal settle response: %w", err)
	}
	return r, nil
}
