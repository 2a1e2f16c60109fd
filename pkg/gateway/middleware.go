// Package gateway is the resource server side of x402: a gin middleware that
// demands payment for a route, verifies it against a facilitator, runs the
// handler, then settles and stamps the response with X-PAYMENT-RESPONSE.
package gateway

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	x402 "github.com/x402-foundation/x402-core"
)

// Options configures one protected route's payment requirements.
type Options struct {
	Scheme            x402.Scheme
	Network           x402.Network
	Asset             string
	AssetName         string
	AssetVersion      string
	Description       string
	MimeType          string
	MaxTimeoutSeconds int
	Resource          string
	ResourceRootURL   string
	CustomPaywallHTML string

	// AdditionalRequirements lets a route accept payment in more than one
	// (scheme, network, asset) combination. The primary requirements built
	// from PaymentMiddleware's own arguments are always offered alongside
	// these; a client may pay with whichever offer it prefers.
	AdditionalRequirements []x402.PaymentRequirements

	// OnPayment, if set, runs after a payment for this route settles
	// successfully, with the requirements the client actually paid under
	// and the facilitator's settlement result.
	OnPayment func(c *gin.Context, requirements x402.PaymentRequirements, result x402.SettleResponse)

	// SettleOnSuccess settles the payment only if the wrapped handler does
	// not abort the gin context. When false, Settle runs unconditionally
	// right after a successful Verify, before the handler
	// ("verify-settle-then-serve" rather than "verify-serve-then-settle").
	SettleOnSuccess bool
}

// Option mutates Options; follows the functional-options shape used
// throughout this module's client and facilitator packages.
type Option func(*Options)

func WithDescription(d string) Option         { return func(o *Options) { o.Description = d } }
func WithMimeType(m string) Option            { return func(o *Options) { o.MimeType = m } }
func WithMaxTimeoutSeconds(s int) Option       { return func(o *Options) { o.MaxTimeoutSeconds = s } }
func WithResource(r string) Option             { return func(o *Options) { o.Resource = r } }
func WithResourceRootURL(r string) Option      { return func(o *Options) { o.ResourceRootURL = r } }
func WithSettleOnSuccess(settle bool) Option   { return func(o *Options) { o.SettleOnSuccess = settle } }
func WithCustomPaywallHTML(html string) Option { return func(o *Options) { o.CustomPaywallHTML = html } }

// WithAdditionalRequirements offers one or more extra (scheme, network,
// asset) combinations a client may pay the route with, alongside the
// primary requirements PaymentMiddleware builds from its own arguments.
func WithAdditionalRequirements(reqs ...x402.PaymentRequirements) Option {
	return func(o *Options) { o.AdditionalRequirements = append(o.AdditionalRequirements, reqs...) }
}

// WithOnPayment registers a hook invoked after a route's payment settles
// successfully.
func WithOnPayment(fn func(c *gin.Context, requirements x402.PaymentRequirements, result x402.SettleResponse)) Option {
	return func(o *Options) { o.OnPayment = fn }
}

// AmountToAssetUnits converts a human-readable decimal amount into the
// token's base units given its decimals.
func AmountToAssetUnits(amount *big.Float, decimals int) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaleFloat := new(big.Float).SetPrec(256).SetInt(scale)
	amountFloat := new(big.Float).SetPrec(256).Set(amount)
	res, _ := new(big.Float).Mul(amountFloat, scaleFloat).Int(nil)
	return res
}

// PaymentMiddleware returns gin middleware that requires amount base units
// of payment (already converted; see AmountToAssetUnits) before letting a
// request reach the wrapped handler.
func PaymentMiddleware(client x402.FacilitatorClient, maxAmountRequired *big.Int, payTo string, opts ...Option) gin.HandlerFunc {
	options := &Options{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkBaseSepolia,
		MaxTimeoutSeconds: 60,
		SettleOnSuccess:   true,
	}
	for _, opt := range opts {
		opt(options)
	}

	return func(c *gin.Context) {
		resource := options.Resource
		if resource == "" {
			resource = options.ResourceRootURL + c.Request.URL.Path
		}

		primary := x402.PaymentRequirements{
			Scheme:            options.Scheme,
			Network:           options.Network,
			MaxAmountRequired: maxAmountRequired.String(),
			Resource:          resource,
			Description:       options.Description,
			MimeType:          options.MimeType,
			PayTo:             payTo,
			MaxTimeoutSeconds: options.MaxTimeoutSeconds,
			Asset:             options.Asset,
		}
		accepts := append([]x402.PaymentRequirements{primary}, options.AdditionalRequirements...)

		header := c.GetHeader("X-PAYMENT")
		if header == "" {
			respondPaymentRequired(c, accepts, "X-PAYMENT header is required", options.CustomPaywallHTML)
			return
		}

		payload, err := x402.DecodePaymentHeader(header)
		if err != nil {
			respondPaymentRequired(c, accepts, fmt.Sprintf("invalid X-PAYMENT header: %v", err), options.CustomPaywallHTML)
			return
		}

		requirements, ok := matchRequirements(accepts, payload)
		if !ok {
			respondPaymentRequired(c, accepts, "no accepted payment requirements match scheme/network", options.CustomPaywallHTML)
			return
		}

		verifyResp, err := client.Verify(c.Request.Context(), payload, requirements)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !verifyResp.IsValid {
			respondPaymentRequired(c, accepts, verifyResp.InvalidReason, options.CustomPaywallHTML)
			return
		}

		if !options.SettleOnSuccess {
			settleAndRespond(c, client, payload, requirements, options.OnPayment)
			if c.IsAborted() {
				return
			}
			c.Next()
			return
		}

		buf := &bufferedWriter{ResponseWriter: c.Writer, statusCode: http.StatusOK}
		c.Writer = buf

		c.Next()

		c.Writer = buf.ResponseWriter
		if c.IsAborted() {
			return
		}

		settleResp, err := client.Settle(c.Request.Context(), payload, requirements)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": err.Error(), "accepts": accepts})
			return
		}
		if !settleResp.Success {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": settleResp.ErrorReason, "accepts": accepts})
			return
		}
		if options.OnPayment != nil {
			options.OnPayment(c, requirements, settleResp)
		}

		settleHeader, err := settleResp.EncodeSettleHeader()
		if err == nil {
			c.Header("X-PAYMENT-RESPONSE", settleHeader)
		}
		c.Writer.WriteHeader(buf.statusCode)
		c.Writer.Write(buf.body)
	}
}

// matchRequirements picks the accepted requirements payload's scheme and
// network actually pay under. With a single accepted offer (the common
// case) this is just that offer.
func matchRequirements(accepts []x402.PaymentRequirements, payload x402.PaymentPayload) (x402.PaymentRequirements, bool) {
	for _, r := range accepts {
		if r.Scheme == payload.Scheme && r.Network == payload.Network {
			return r, true
		}
	}
	return x402.PaymentRequirements{}, false
}

func settleAndRespond(c *gin.Context, client x402.FacilitatorClient, payload x402.PaymentPayload, requirements x402.PaymentRequirements, onPayment func(*gin.Context, x402.PaymentRequirements, x402.SettleResponse)) {
	settleResp, err := client.Settle(c.Request.Context(), payload, requirements)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": err.Error(), "accepts": []x402.PaymentRequirements{requirements}})
		return
	}
	if !settleResp.Success {
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": settleResp.ErrorReason, "accepts": []x402.PaymentRequirements{requirements}})
		return
	}
	if onPayment != nil {
		onPayment(c, requirements, settleResp)
	}
	if header, err := settleResp.EncodeSettleHeader(); err == nil {
		c.Header("X-PAYMENT-RESPONSE", header)
	}
}

// respondPaymentRequired answers with a paywall page for a browser request
// and a JSON 402 body listing every accepted payment option for everything
// else (an API client, curl, this module's own client package).
func respondPaymentRequired(c *gin.Context, accepts []x402.PaymentRequirements, reason, customHTML string) {
	if isWebBrowser(c) {
		html := customHTML
		if html == "" {
			html = defaultPaywallHTML
		}
		c.Abort()
		c.Data(http.StatusPaymentRequired, "text/html", []byte(html))
		return
	}
	c.AbortWithStatusJSON(http.StatusPaymentRequired, x402.PaymentRequired{
		X402Version: 1,
		Error:       reason,
		Accepts:     accepts,
	})
}

// isWebBrowser reports whether a request looks like it came from a browser,
// for callers that want to serve an HTML paywall instead of a JSON 402.
func isWebBrowser(c *gin.Context) bool {
	accept := c.GetHeader("Accept")
	userAgent := c.GetHeader("User-Agent")
	return strings.Contains(accept, "text/html") && strings.Contains(userAgent, "Mozilla")
}

const defaultPaywallHTML = "<html><body>Payment Required</body></html>"

// bufferedWriter captures a handler's response so settlement can run (and
// possibly abort, e.g. if the facilitator rejects the settle call) before
// anything is actually written to the underlying connection.
type bufferedWriter struct {
	gin.ResponseWriter
	body       []byte
	statusCode int
	written    bool
}

func (w *bufferedWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	w.body = append(w.body, b...)
	return len(b), nil
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}
