package x402

import "encoding/base64"

// base64Encode and base64Decode back the X-PAYMENT / X-PAYMENT-RESPONSE
// header codec. Kept as the single place that decides the header encoding
// so PaymentPayload/SettleResponse and any future header variant agree.
func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
