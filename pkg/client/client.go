// Package client implements the payer side of the x402 flow: detect a 402
// response, sign a matching authorization, and retry the request with an
// X-PAYMENT header attached.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sort"
	"time"

	x402 "github.com/x402-foundation/x402-core"
	"github.com/x402-foundation/x402-core/pkg/evmchain"
	"github.com/x402-foundation/x402-core/pkg/resilience"
)

// DefaultTimeout bounds a single non-streaming paid request when Client.Timeout
// is unset; DoStream multiplies it by streamTimeoutMultiplier.
const DefaultTimeout = 30 * time.Second

// streamTimeoutMultiplier widens the deadline for a streamed response, whose
// body may legitimately take far longer to fully arrive than a JSON reply.
const streamTimeoutMultiplier = 3

// Signer creates a payment payload satisfying requirements. One signer is
// registered per scheme, mirroring the facilitator side's SchemeFacilitator
// split.
type Signer interface {
	Scheme() x402.Scheme
	CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements) (x402.PaymentPayload, error)
}

// Client performs HTTP requests that pay for themselves: a 402 response is
// answered by signing one of the offered PaymentRequirements and retrying
// once with the resulting X-PAYMENT header.
type Client struct {
	HTTP     *http.Client
	Signers  map[x402.Scheme]Signer
	Breaker  *resilience.CircuitBreaker
	Backoff  resilience.Backoff
	MaxRetry int
	Timeout  time.Duration

	// PreferredNetworks ranks networks for tie-breaking when several offers
	// share the same price; earlier entries are preferred. New seeds this
	// with this module's L2 networks, per the protocol's preference for
	// rollup settlement over L1 when price is equal.
	PreferredNetworks []x402.Network

	// Bus publishes payment:initiated and payment:signed (and, for DoStream,
	// the stream_* events) as a request is paid. Nil disables publication.
	Bus *x402.EventBus

	// PaymentDecision, when set, is consulted once a payable offer has been
	// selected and before it is signed. Returning false terminates the
	// request with a policy-refusal error instead of paying.
	PaymentDecision func(ctx context.Context, requirements x402.PaymentRequirements) bool

	// MaxAmount caps the maxAmountRequired this client will ever sign for. A
	// nil MaxAmount leaves requests uncapped.
	MaxAmount *big.Int
}

// New creates a Client with sensible defaults: the standard library's
// default transport, a circuit breaker tripping after 5 consecutive
// failures, exponential backoff between retries of a failed initial request
// (the paid request itself is sent once), and a preference
// for this module's L2 networks on a price tie.
func New(signers ...Signer) *Client {
	byScheme := make(map[x402.Scheme]Signer, len(signers))
	for _, s := range signers {
		byScheme[s.Scheme()] = s
	}
	return &Client{
		HTTP:              http.DefaultClient,
		Signers:           byScheme,
		Breaker:           resilience.NewCircuitBreaker(5, 2, 30*time.Second),
		Backoff:           resilience.NewBackoff(),
		MaxRetry:          1,
		Timeout:           DefaultTimeout,
		PreferredNetworks: append([]x402.Network(nil), evmchain.L2Networks...),
		Bus:               x402.NewEventBus(256),
	}
}

// Do performs req, paying automatically if the server answers with 402.
// A payment is only ever attempted once per request: a second 402 after a
// paid retry means the payment was rejected, and is returned to the caller
// as-is rather than looped on.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, _, err := c.pay(req)
	return resp, err
}

// DoStream behaves like Do, but the caller reads the paid response's body as
// a lazy stream rather than Do buffering it first. The deadline is widened
// to streamTimeoutMultiplier times Timeout, and a failure that occurs after
// the paid response has started streaming does not roll back or refund the
// payment: the facilitator has already settled it by the time bytes are in
// flight.
func (c *Client) DoStream(req *http.Request) (*http.Response, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(req.Context(), timeout*streamTimeoutMultiplier)
	req = req.WithContext(ctx)

	resp, requirements, err := c.pay(req)
	if err != nil {
		cancel()
		return nil, err
	}

	c.publish(x402.EventPaymentStreamStart, requirements)
	resp.Body = &streamingBody{
		ReadCloser: resp.Body,
		onChunk:    func() { c.publish(x402.EventPaymentStreamChunk, requirements) },
		onClose: func() {
			c.publish(x402.EventPaymentStreamEnded, requirements)
			cancel()
		},
	}
	return resp, nil
}

// pay is the shared handshake behind Do and DoStream: send req, and if the
// server demands payment, sign one offer and retry once. It returns the
// PaymentRequirements a payment was attempted against, zero-valued if none
// was needed, so callers can tag events raised after payment.
func (c *Client) pay(req *http.Request) (*http.Response, x402.PaymentRequirements, error) {
	if err := c.Breaker.Allow(); err != nil {
		return nil, x402.PaymentRequirements{}, err
	}

	resp, err := c.doWithRetry(req)
	if err != nil {
		c.Breaker.RecordFailure()
		return nil, x402.PaymentRequirements{}, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		c.Breaker.RecordSuccess()
		return resp, x402.PaymentRequirements{}, nil
	}

	paymentRequired, err := readPaymentRequired(resp)
	if err != nil {
		c.Breaker.RecordFailure()
		return nil, x402.PaymentRequirements{}, fmt.Errorf("read 402 response: %w", err)
	}

	requirements, err := c.selectRequirements(paymentRequired.Accepts)
	if err != nil {
		c.Breaker.RecordFailure()
		return nil, x402.PaymentRequirements{}, fmt.Errorf("select payment requirements: %w", err)
	}

	ctx := req.Context()
	c.publish(x402.EventPaymentInitiated, requirements)

	if c.PaymentDecision != nil && !c.PaymentDecision(ctx, requirements) {
		c.Breaker.RecordFailure()
		return nil, requirements, fmt.Errorf("payment declined")
	}

	if c.MaxAmount != nil {
		required, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
		if !ok || required.Cmp(c.MaxAmount) > 0 {
			c.Breaker.RecordFailure()
			return nil, requirements, fmt.Errorf("price exceeds max willing to pay")
		}
	}

	signer, ok := c.Signers[requirements.Scheme]
	if !ok {
		c.Breaker.RecordFailure()
		return nil, requirements, fmt.Errorf("no signer registered for scheme %q", requirements.Scheme)
	}

	payload, err := signer.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		c.Breaker.RecordFailure()
		return nil, requirements, fmt.Errorf("sign payment: %w", err)
	}
	c.publish(x402.EventPaymentSigned, requirements)

	header, err := payload.EncodeHeader()
	if err != nil {
		c.Breaker.RecordFailure()
		return nil, requirements, fmt.Errorf("encode payment header: %w", err)
	}

	paidReq := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, requirements, fmt.Errorf("rewind request body for paid retry: %w", err)
		}
		paidReq.Body = body
	}
	paidReq.Header.Set("X-PAYMENT", header)

	paidResp, err := c.HTTP.Do(paidReq)
	if err != nil {
		c.Breaker.RecordFailure()
		return nil, requirements, err
	}
	if paidResp.StatusCode == http.StatusPaymentRequired {
		c.Breaker.RecordFailure()
		return paidResp, requirements, nil
	}
	c.Breaker.RecordSuccess()
	return paidResp, requirements, nil
}

func (c *Client) publish(t x402.EventType, requirements x402.PaymentRequirements) {
	if c.Bus == nil {
		return
	}
	c.Bus.Publish(x402.Event{Type: t, Network: requirements.Network, Scheme: requirements.Scheme, Resource: requirements.Resource})
}

// selectRequirements picks the cheapest offer this client can sign for,
// breaking ties by PreferredNetworks order.
func (c *Client) selectRequirements(accepts []x402.PaymentRequirements) (x402.PaymentRequirements, error) {
	var candidates []x402.PaymentRequirements
	for _, r := range accepts {
		if _, ok := c.Signers[r.Scheme]; ok {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return x402.PaymentRequirements{}, fmt.Errorf("no offered payment requirements match a registered scheme")
	}

	rank := make(map[x402.Network]int, len(c.PreferredNetworks))
	for i, n := range c.PreferredNetworks {
		rank[n] = i
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		vi, oki := new(big.Int).SetString(candidates[i].MaxAmountRequired, 10)
		vj, okj := new(big.Int).SetString(candidates[j].MaxAmountRequired, 10)
		if oki && okj && vi.Cmp(vj) != 0 {
			return vi.Cmp(vj) < 0
		}
		ri, hasI := rank[candidates[i].Network]
		rj, hasJ := rank[candidates[j].Network]
		if hasI && hasJ {
			return ri < rj
		}
		return hasI
	})

	return candidates[0], nil
}

// doWithRetry retries a transport-level failure (connection refused, DNS,
// timeout) up to MaxRetry times with backoff between attempts. HTTP
// responses, even error statuses, are returned immediately without retrying.
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetry; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.Backoff.Delay(attempt - 1)):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
		}
		resp, err := c.HTTP.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func readPaymentRequired(resp *http.Response) (x402.PaymentRequired, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return x402.PaymentRequired{}, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	var required x402.PaymentRequired
	if err := json.Unmarshal(body, &required); err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("unmarshal payment-required body: %w", err)
	}
	return required, nil
}

// streamingBody wraps a paid response body so DoStream can emit
// payment:stream_chunk/payment:stream_ended without buffering the stream.
type streamingBody struct {
	io.ReadCloser
	onChunk func()
	onClose func()
	closed  bool
}

func (b *streamingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 && b.onChunk != nil {
		b.onChunk()
	}
	return n, err
}

func (b *streamingBody) Close() error {
	err := b.ReadCloser.Close()
	if !b.closed && b.onClose != nil {
		b.closed = true
		b.onClose()
	}
	return err
}
