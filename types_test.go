package x402

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentPayload_HeaderRoundTrip(t *testing.T) {
	payload := PaymentPayload{
		X402Version: 1,
		Scheme:      SchemeExact,
		Network:     NetworkBaseSepolia,
		Payload: ExactPayload{
			Signature: "0xsig",
			Authorization: Authorization{
				From:  "0xfrom",
				To:    "0xto",
				Value: "1000",
			},
		},
	}

	header, err := payload.EncodeHeader()
	require.NoError(t, err)
	assert.NotEmpty(t, header)

	decoded, err := DecodePaymentHeader(header)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestDecodePaymentHeader_InvalidBase64(t *testing.T) {
	_, err := DecodePaymentHeader("not-valid-base64!!")
	assert.Error(t, err)
}

func TestSettleResponse_HeaderRoundTrip(t *testing.T) {
	resp := SettleResponse{Success: true, Payer: "0xpayer", Transaction: "0xtx", Network: NetworkBaseMainnet}
	header, err := resp.EncodeSettleHeader()
	require.NoError(t, err)

	decoded, err := DecodeSettleHeader(header)
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)
}
