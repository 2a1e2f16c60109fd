package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-core"
)

func newRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestServer_VerifyUnsupportedScheme(t *testing.T) {
	s := NewServer()
	handler := s.Handler()

	req := newRequest(t, http.MethodPost, "/verify", x402.VerifyRequest{
		PaymentRequirements: x402.PaymentRequirements{Network: x402.NetworkBaseSepolia, Scheme: x402.SchemeExact},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp x402.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsValid)
	assert.Equal(t, x402.ErrCodeUnsupportedScheme, resp.InvalidReason)
}

func TestServer_Supported(t *testing.T) {
	s := NewServer()
	s.Register(x402.NetworkBaseSepolia, &stubFacilitator{scheme: x402.SchemeExact})
	s.Register(x402.NetworkBaseMainnet, &stubFacilitator{scheme: x402.SchemeUpto})

	req := httptest.NewRequest(http.MethodGet, "/supported", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp x402.SupportedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Kinds, 2)
}

func TestServer_Health(t *testing.T) {
	s := NewServer(WithVersion("1.2.3"), WithFacilitatorAddress("0x000000000000000000000000000000000000aa"))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "1.2.3", resp["version"])
	assert.Equal(t, "0x000000000000000000000000000000000000aa", resp["facilitator"])
	assert.Contains(t, resp, "uptime")
}

func TestServer_MetricsExposesSpecNames(t *testing.T) {
	s := NewServer(WithNonceCache(x402.NewNonceCache(0, 100)))
	impl := &stubFacilitator{scheme: x402.SchemeExact, verifyResp: x402.VerifyResponse{IsValid: true}}
	s.Register(x402.NetworkBaseSepolia, impl)

	req := newRequest(t, http.MethodPost, "/verify", x402.VerifyRequest{
		PaymentRequirements: x402.PaymentRequirements{Network: x402.NetworkBaseSepolia, Scheme: x402.SchemeExact},
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(metricsRec, metricsReq)

	body := metricsRec.Body.String()
	for _, name := range []string{
		"x402_uptime_seconds",
		"x402_verifications_total{result=\"success\"}",
		"x402_verifications_total{result=\"failure\"}",
		"x402_verification_latency_ms",
		"x402_settlements_total{result=\"success\"}",
		"x402_settlements_total{result=\"failure\"}",
		"x402_settlement_latency_ms",
		"x402_gas_used_total",
		"x402_nonce_cache_size",
		"x402_replay_attacks_blocked",
	} {
		assert.Contains(t, body, name)
	}
}

func TestServer_SettleIdempotent(t *testing.T) {
	s := NewServer()
	impl := &stubFacilitator{scheme: x402.SchemeExact, settleResp: x402.SettleResponse{Success: true, Transaction: "0xabc"}}
	s.Register(x402.NetworkBaseSepolia, impl)

	payload := x402.PaymentPayload{X402Version: 1, Scheme: x402.SchemeExact, Network: x402.NetworkBaseSepolia}
	body := x402.SettleRequest{
		PaymentPayload:      payload,
		PaymentRequirements: x402.PaymentRequirements{Network: x402.NetworkBaseSepolia, Scheme: x402.SchemeExact},
	}

	req1 := newRequest(t, http.MethodPost, "/settle", body)
	rec1 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec1, req1)
	assert.Equal(t, http.StatusOK, rec1.Code)

	req2 := newRequest(t, http.MethodPost, "/settle", body)
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)

	assert.Equal(t, 1, impl.settleCalls, "second settle with the same payload should be served from cache, not resubmitted")
}

func TestServer_EstimateGasUnsupportedWithoutGasEstimator(t *testing.T) {
	s := NewServer()
	s.Register(x402.NetworkBaseSepolia, &stubFacilitator{scheme: x402.SchemeExact})

	req := newRequest(t, http.MethodPost, "/estimate-gas", x402.VerifyRequest{
		PaymentRequirements: x402.PaymentRequirements{Network: x402.NetworkBaseSepolia, Scheme: x402.SchemeExact},
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServer_EstimateGasUsesGasEstimator(t *testing.T) {
	s := NewServer()
	s.Register(x402.NetworkBaseSepolia, &gasEstimatingFacilitator{stubFacilitator: stubFacilitator{scheme: x402.SchemeExact}, gas: 54321})

	req := newRequest(t, http.MethodPost, "/estimate-gas", x402.VerifyRequest{
		PaymentRequirements: x402.PaymentRequirements{Network: x402.NetworkBaseSepolia, Scheme: x402.SchemeExact},
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(54321), resp["gas"])
}

// gasEstimatingFacilitator additionally implements x402.GasEstimator, unlike
// the plain stubFacilitator, to exercise the /estimate-gas dispatch path.
type gasEstimatingFacilitator struct {
	stubFacilitator
	gas uint64
}

func (g *gasEstimatingFacilitator) EstimateGas(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (uint64, error) {
	return g.gas, nil
}

// stubFacilitator is a minimal x402.SchemeFacilitator for exercising the HTTP
// surface without a real chain adapter.
type stubFacilitator struct {
	scheme      x402.Scheme
	verifyResp  x402.VerifyResponse
	settleResp  x402.SettleResponse
	settleCalls int
}

func (s *stubFacilitator) Scheme() x402.Scheme { return s.scheme }

func (s *stubFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	return s.verifyResp, nil
}

func (s *stubFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements, actualAmount string) (x402.SettleResponse, error) {
	s.settleCalls++
	return s.settleResp, nil
}
