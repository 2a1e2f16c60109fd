package x402

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlementCache_CompleteAndRetrieve(t *testing.T) {
	c := NewSettlementCache(time.Minute)
	payload := PaymentPayload{X402Version: 1, Scheme: SchemeExact, Network: NetworkBaseSepolia}
	key := SettlementKey(payload)

	status, cached, done := c.CheckAndMark(key)
	assert.Equal(t, SettlementNotFound, status)
	assert.Nil(t, cached)

	resp := &SettleResponse{Success: true, Transaction: "0xabc"}
	c.Complete(key, resp, done)

	status, cached, _ = c.CheckAndMark(key)
	assert.Equal(t, SettlementCached, status)
	assert.Equal(t, resp, cached)
}

func TestSettlementCache_InFlightWaitsForResult(t *testing.T) {
	c := NewSettlementCache(time.Minute)
	payload := PaymentPayload{X402Version: 1, Scheme: SchemeExact, Network: NetworkBaseSepolia}
	key := SettlementKey(payload)

	_, _, done := c.CheckAndMark(key)

	status, _, waitDone := c.CheckAndMark(key)
	assert.Equal(t, SettlementInFlight, status)

	resp := &SettleResponse{Success: true, Transaction: "0xdef"}
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Complete(key, resp, done)
	}()

	result, err := c.WaitForResult(context.Background(), key, waitDone)
	require.NoError(t, err)
	assert.Equal(t, resp, result)
}

func TestSettlementCache_FailReleasesWithoutCaching(t *testing.T) {
	c := NewSettlementCache(time.Minute)
	payload := PaymentPayload{X402Version: 1, Scheme: SchemeExact, Network: NetworkBaseSepolia}
	key := SettlementKey(payload)

	_, _, done := c.CheckAndMark(key)
	c.Fail(key, done)

	status, _, _ := c.CheckAndMark(key)
	assert.Equal(t, SettlementNotFound, status)
}

func TestSettlementKey_DistinctPayloadsDiffer(t *testing.T) {
	a := PaymentPayload{X402Version: 1, Scheme: SchemeExact, Network: NetworkBaseSepolia}
	b := PaymentPayload{X402Version: 1, Scheme: SchemeUpto, Network: NetworkBaseSepolia}
	assert.NotEqual(t, SettlementKey(a), SettlementKey(b))
}
