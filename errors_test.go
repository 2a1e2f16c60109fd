package x402

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentError_Error(t *testing.T) {
	err := NewPaymentError(ErrCodeNonceReused, "nonce already used", map[string]interface{}{"nonce": "0xabc"})
	assert.Equal(t, "nonce_already_used: nonce already used", err.Error())
	assert.Equal(t, "0xabc", err.Details["nonce"])
}
