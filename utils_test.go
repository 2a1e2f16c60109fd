package x402

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePaymentPayload(t *testing.T) {
	valid := PaymentPayload{
		X402Version: 1,
		Scheme:      SchemeExact,
		Network:     NetworkBaseSepolia,
		Payload:     ExactPayload{Authorization: Authorization{From: "0xfrom"}},
	}
	assert.NoError(t, ValidatePaymentPayload(valid))

	cases := []PaymentPayload{
		{X402Version: 2},
		{X402Version: 1, Network: NetworkBaseSepolia},
		{X402Version: 1, Scheme: SchemeExact},
		{X402Version: 1, Scheme: SchemeExact, Network: NetworkBaseSepolia},
	}
	for _, c := range cases {
		assert.Error(t, ValidatePaymentPayload(c))
	}
}

func TestValidatePaymentRequirements(t *testing.T) {
	valid := PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           NetworkBaseSepolia,
		Asset:             "0xasset",
		PayTo:             "0xpayto",
		MaxAmountRequired: "1000",
	}
	assert.NoError(t, ValidatePaymentRequirements(valid))

	missingAsset := valid
	missingAsset.Asset = ""
	assert.Error(t, ValidatePaymentRequirements(missingAsset))

	missingPayTo := valid
	missingPayTo.PayTo = ""
	assert.Error(t, ValidatePaymentRequirements(missingPayTo))
}

func TestFindByNetworkAndScheme(t *testing.T) {
	registry := map[Network]map[Scheme]string{
		NetworkBaseSepolia: {SchemeExact: "exact-impl"},
	}

	impl, ok := FindByNetworkAndScheme(registry, NetworkBaseSepolia, SchemeExact)
	assert.True(t, ok)
	assert.Equal(t, "exact-impl", impl)

	_, ok = FindByNetworkAndScheme(registry, NetworkBaseSepolia, SchemeUpto)
	assert.False(t, ok)

	_, ok = FindByNetworkAndScheme(registry, NetworkBaseMainnet, SchemeExact)
	assert.False(t, ok)
}
