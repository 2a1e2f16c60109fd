// Package facilitator implements the facilitator's HTTP surface: /verify,
// /settle, /supported, /health, /status, /metrics, and /estimate-gas.
package facilitator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	x402 "github.com/x402-foundation/x402-core"
	"github.com/x402-foundation/x402-core/pkg/resilience"
)

// Logger is satisfied by the standard library's *log.Logger; a caller may
// substitute any logger with a compatible Printf method.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Server is the facilitator HTTP surface. It dispatches to a
// SchemeFacilitator per (network, scheme) and exposes the supporting
// endpoints the gateway and operators rely on.
type Server struct {
	registry    map[x402.Network]map[x402.Scheme]x402.SchemeFacilitator
	settlements *x402.SettlementCache
	nonces      *x402.NonceCache
	bus         *x402.EventBus
	limiter     *resilience.TokenBucket
	logger      Logger
	version     string
	facilitator string

	metricsMu            sync.Mutex
	verifyTotal          uint64
	verifyFailTotal      uint64
	settleTotal          uint64
	settleFailTotal      uint64
	replayAttacksBlocked uint64
	gasUsedTotal         uint64
	verifyLatencySumMs   int64
	verifyLatencyCount   uint64
	settleLatencySumMs   int64
	settleLatencyCount   uint64
	startedAt            time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit enables a token-bucket rate limiter in front of /verify and
// /settle.
func WithRateLimit(maxTokens, refillPerSecond float64) Option {
	return func(s *Server) {
		s.limiter = resilience.NewTokenBucket(maxTokens, refillPerSecond)
	}
}

// WithLogger overrides the default stdlib logger.
func WithLogger(l Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithEventBus overrides the default event bus, letting a caller share one
// bus across multiple subsystems.
func WithEventBus(bus *x402.EventBus) Option {
	return func(s *Server) { s.bus = bus }
}

// WithNonceCache lets /metrics report the live nonce cache size, without the
// server owning its own copy. The replay counter on /metrics is counted from
// verify results, not read from the cache.
// It also starts the cache's periodic sweeper for the lifetime of the
// process; this server has no graceful-shutdown surface to tie the
// sweeper's context to, matching the rest of this package.
func WithNonceCache(nonces *x402.NonceCache) Option {
	return func(s *Server) {
		s.nonces = nonces
		nonces.StartSweeper(context.Background(), x402.DefaultSweepInterval)
	}
}

// WithVersion sets the version string reported by /health.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithFacilitatorAddress sets the operating address reported by /health.
func WithFacilitatorAddress(address string) Option {
	return func(s *Server) { s.facilitator = address }
}

// NewServer creates a facilitator server with no registered schemes; call
// Register for each (network, scheme) pair it should serve.
func NewServer(opts ...Option) *Server {
	s := &Server{
		registry:    make(map[x402.Network]map[x402.Scheme]x402.SchemeFacilitator),
		settlements: x402.NewSettlementCache(5 * time.Minute),
		bus:         x402.NewEventBus(256),
		startedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register wires a scheme implementation for a network.
func (s *Server) Register(network x402.Network, impl x402.SchemeFacilitator) {
	if s.registry[network] == nil {
		s.registry[network] = make(map[x402.Scheme]x402.SchemeFacilitator)
	}
	s.registry[network][impl.Scheme()] = impl
}

// Events returns the server's event bus so callers can subscribe.
func (s *Server) Events() *x402.EventBus { return s.bus }

func (s *Server) find(network x402.Network, scheme x402.Scheme) (x402.SchemeFacilitator, bool) {
	return x402.FindByNetworkAndScheme(s.registry, network, scheme)
}

// Handler builds the gin engine serving the facilitator's HTTP surface.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestID)
	if s.limiter != nil {
		r.Use(s.rateLimit)
	}

	r.POST("/verify", s.handleVerify)
	r.POST("/settle", s.handleSettle)
	r.GET("/supported", s.handleSupported)
	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/metrics", s.handleMetrics)
	r.POST("/estimate-gas", s.handleEstimateGas)

	return r
}

func (s *Server) requestID(c *gin.Context) {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Writer.Header().Set("X-Request-ID", id)
	c.Set("request_id", id)
	c.Next()
}

func (s *Server) rateLimit(c *gin.Context) {
	if c.Request.URL.Path != "/verify" && c.Request.URL.Path != "/settle" {
		c.Next()
		return
	}
	if !s.limiter.TryConsume() {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) log(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) handleVerify(c *gin.Context) {
	var req x402.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	impl, ok := s.find(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme)
	if !ok {
		c.JSON(http.StatusOK, x402.VerifyResponse{IsValid: false, InvalidReason: x402.ErrCodeUnsupportedScheme})
		return
	}

	started := time.Now()
	result, err := impl.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	result.LatencyMs = time.Since(started).Milliseconds()

	s.metricsMu.Lock()
	s.verifyTotal++
	s.verifyLatencySumMs += result.LatencyMs
	s.verifyLatencyCount++
	if err != nil || !result.IsValid {
		s.verifyFailTotal++
		if result.InvalidReason == x402.ErrCodeNonceReused {
			s.replayAttacksBlocked++
		}
	}
	s.metricsMu.Unlock()

	if err != nil || !result.IsValid {
		s.bus.Publish(x402.Event{Type: x402.EventPaymentFailed, Network: req.PaymentRequirements.Network, Scheme: req.PaymentRequirements.Scheme, Err: err})
	} else {
		s.bus.Publish(x402.Event{Type: x402.EventPaymentVerified, Network: req.PaymentRequirements.Network, Scheme: req.PaymentRequirements.Scheme})
	}
	if err != nil {
		s.log("verify error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSettle(c *gin.Context) {
	var req x402.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	key := x402.SettlementKey(req.PaymentPayload)
	status, cached, done := s.settlements.CheckAndMark(key)
	switch status {
	case x402.SettlementCached:
		c.JSON(http.StatusOK, cached)
		return
	case x402.SettlementInFlight:
		result, err := s.settlements.WaitForResult(c.Request.Context(), key, done)
		if err != nil {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timed out waiting for in-flight settlement"})
			return
		}
		if result == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "prior settlement attempt failed; retry"})
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	impl, ok := s.find(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme)
	if !ok {
		s.settlements.Fail(key, done)
		c.JSON(http.StatusOK, x402.SettleResponse{Success: false, ErrorReason: x402.ErrCodeUnsupportedScheme, Network: req.PaymentRequirements.Network})
		return
	}

	started := time.Now()
	result, err := impl.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements, req.ActualAmount)
	result.LatencyMs = time.Since(started).Milliseconds()

	s.metricsMu.Lock()
	s.settleTotal++
	s.settleLatencySumMs += result.LatencyMs
	s.settleLatencyCount++
	if err != nil || !result.Success {
		s.settleFailTotal++
	} else {
		s.gasUsedTotal += result.GasUsed
	}
	s.metricsMu.Unlock()

	if err != nil {
		s.settlements.Fail(key, done)
		s.log("settle error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settlement failed"})
		return
	}

	s.settlements.Complete(key, &result, done)
	s.bus.Publish(x402.Event{Type: x402.EventPaymentSettled, Network: req.PaymentRequirements.Network, Scheme: req.PaymentRequirements.Scheme})
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSupported(c *gin.Context) {
	var kinds []x402.SupportedKind
	for network, schemes := range s.registry {
		for scheme := range schemes {
			kinds = append(kinds, x402.SupportedKind{X402Version: 1, Scheme: scheme, Network: network})
		}
	}
	c.JSON(http.StatusOK, x402.SupportedResponse{Kinds: kinds})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     s.version,
		"uptime":      time.Since(s.startedAt).String(),
		"facilitator": s.facilitator,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"uptime":          time.Since(s.startedAt).String(),
		"verifyTotal":     s.verifyTotal,
		"verifyFailTotal": s.verifyFailTotal,
		"settleTotal":     s.settleTotal,
		"settleFailTotal": s.settleFailTotal,
		"supportedKinds":  countKinds(s.registry),
	})
}

// handleMetrics renders Prometheus text-format exposition for the counters
// and gauges operators dashboard against: uptime, verification and
// settlement throughput/latency/outcome, gas spend, and nonce-cache health.
func (s *Server) handleMetrics(c *gin.Context) {
	s.metricsMu.Lock()
	verifyTotal, verifyFailTotal := s.verifyTotal, s.verifyFailTotal
	settleTotal, settleFailTotal := s.settleTotal, s.settleFailTotal
	replayBlocked, gasUsed := s.replayAttacksBlocked, s.gasUsedTotal
	verifyLatencyAvg := avgMs(s.verifyLatencySumMs, s.verifyLatencyCount)
	settleLatencyAvg := avgMs(s.settleLatencySumMs, s.settleLatencyCount)
	s.metricsMu.Unlock()

	var nonceCacheSize int
	if s.nonces != nil {
		nonceCacheSize = s.nonces.Size()
	}

	c.Header("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(c.Writer, "# HELP x402_uptime_seconds Seconds since the facilitator started\n")
	fmt.Fprintf(c.Writer, "# TYPE x402_uptime_seconds gauge\n")
	fmt.Fprintf(c.Writer, "x402_uptime_seconds %f\n", time.Since(s.startedAt).Seconds())

	fmt.Fprintf(c.Writer, "# HELP x402_verifications_total Verify calls by result\n")
	fmt.Fprintf(c.Writer, "# TYPE x402_verifications_total counter\n")
	fmt.Fprintf(c.Writer, "x402_verifications_total{result=\"success\"} %d\n", verifyTotal-verifyFailTotal)
	fmt.Fprintf(c.Writer, "x402_verifications_total{result=\"failure\"} %d\n", verifyFailTotal)

	fmt.Fprintf(c.Writer, "# HELP x402_verification_latency_ms Average verify latency in milliseconds\n")
	fmt.Fprintf(c.Writer, "# TYPE x402_verification_latency_ms gauge\n")
	fmt.Fprintf(c.Writer, "x402_verification_latency_ms %f\n", verifyLatencyAvg)

	fmt.Fprintf(c.Writer, "# HELP x402_settlements_total Settle calls by result\n")
	fmt.Fprintf(c.Writer, "# TYPE x402_settlements_total counter\n")
	fmt.Fprintf(c.Writer, "x402_settlements_total{result=\"success\"} %d\n", settleTotal-settleFailTotal)
	fmt.Fprintf(c.Writer, "x402_settlements_total{result=\"failure\"} %d\n", settleFailTotal)

	fmt.Fprintf(c.Writer, "# HELP x402_settlement_latency_ms Average settle latency in milliseconds\n")
	fmt.Fprintf(c.Writer, "# TYPE x402_settlement_latency_ms gauge\n")
	fmt.Fprintf(c.Writer, "x402_settlement_latency_ms %f\n", settleLatencyAvg)

	fmt.Fprintf(c.Writer, "# HELP x402_gas_used_total Cumulative gas used across successful settlements\n")
	fmt.Fprintf(c.Writer, "# TYPE x402_gas_used_total counter\n")
	fmt.Fprintf(c.Writer, "x402_gas_used_total %d\n", gasUsed)

	fmt.Fprintf(c.Writer, "# HELP x402_nonce_cache_size Current number of tracked nonces\n")
	fmt.Fprintf(c.Writer, "# TYPE x402_nonce_cache_size gauge\n")
	fmt.Fprintf(c.Writer, "x402_nonce_cache_size %d\n", nonceCacheSize)

	fmt.Fprintf(c.Writer, "# HELP x402_replay_attacks_blocked Verify calls rejected for nonce reuse\n")
	fmt.Fprintf(c.Writer, "# TYPE x402_replay_attacks_blocked counter\n")
	fmt.Fprintf(c.Writer, "x402_replay_attacks_blocked %d\n", replayBlocked)
}

func avgMs(sumMs int64, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return float64(sumMs) / float64(count)
}

func (s *Server) handleEstimateGas(c *gin.Context) {
	var req x402.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	impl, ok := s.find(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"error": x402.ErrCodeUnsupportedScheme})
		return
	}
	estimator, ok := impl.(x402.GasEstimator)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "scheme does not support gas estimation"})
		return
	}

	gas, err := estimator.EstimateGas(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gas": gas})
}

func countKinds(registry map[x402.Network]map[x402.Scheme]x402.SchemeFacilitator) int {
	n := 0
	for _, schemes := range registry {
		n += len(schemes)
	}
	return n
}
