// Package facilitatorclient is an HTTP implementation of x402.FacilitatorClient,
// letting a resource server gateway talk to a remote facilitator instead of
// an in-process one.
package facilitatorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/x402-foundation/x402-core"
)

// DefaultTimeout is used when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	// URL is the facilitator's base URL, e.g. "https://facilitator.example/x402".
	URL string
	// Timeout bounds each HTTP call. Defaults to DefaultTimeout.
	Timeout time.Duration
	// CreateAuthHeaders optionally returns extra headers per operation
	// ("verify", "settle", "supported"), for facilitators that require
	// authentication.
	CreateAuthHeaders func() (map[string]map[string]string, error)
}

// Client is a facilitator client over HTTP. It implements x402.FacilitatorClient.
type Client struct {
	url               string
	httpClient        *http.Client
	createAuthHeaders func() (map[string]map[string]string, error)
}

// NewClient creates a facilitator HTTP client.
func NewClient(config Config) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:               config.URL,
		httpClient:        &http.Client{Timeout: timeout},
		createAuthHeaders: config.CreateAuthHeaders,
	}
}

// Verify calls the facilitator's /verify endpoint.
func (c *Client) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	var resp x402.VerifyResponse
	body := x402.VerifyRequest{PaymentPayload: payload, PaymentRequirements: requirements}
	if err := c.doRequest(ctx, http.MethodPost, "/verify", "verify", body, &resp); err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("verify request failed: %w", err)
	}
	return resp, nil
}

// Settle calls the facilitator's /settle endpoint.
func (c *Client) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	var resp x402.SettleResponse
	body := x402.SettleRequest{PaymentPayload: payload, PaymentRequirements: requirements}
	if err := c.doRequest(ctx, http.MethodPost, "/settle", "settle", body, &resp); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("settle request failed: %w", err)
	}
	return resp, nil
}

// Supported calls the facilitator's /supported endpoint.
func (c *Client) Supported(ctx context.Context) (x402.SupportedResponse, error) {
	var resp x402.SupportedResponse
	if err := c.doRequest(ctx, http.MethodGet, "/supported", "supported", nil, &resp); err != nil {
		return x402.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, method, path, operation string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.createAuthHeaders != nil {
		headers, err := c.createAuthHeaders()
		if err != nil {
			return fmt.Errorf("create auth headers: %w", err)
		}
		for key, value := range headers[operation] {
			req.Header.Set(key, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

var _ x402.FacilitatorClient = (*Client)(nil)
