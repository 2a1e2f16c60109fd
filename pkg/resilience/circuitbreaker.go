package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker's current state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// ErrCircuitOpen is returned by Allow when the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreaker trips open after FailureThreshold consecutive failures,
// refuses calls for ResetTimeout, then allows a trial run (half-open); it
// closes again after SuccessThreshold consecutive successes in that state.
type CircuitBreaker struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration

	mu              sync.Mutex
	state           State
	consecutiveFail int
	consecutiveOK   int
	openedAt        time.Time
}

// NewCircuitBreaker returns a breaker with the given thresholds and reset timeout.
func NewCircuitBreaker(failureThreshold, successThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		FailureThreshold: failureThreshold,
		SuccessThreshold: successThreshold,
		ResetTimeout:     resetTimeout,
	}
}

// Allow reports whether a call should proceed, transitioning Open->HalfOpen
// once ResetTimeout has elapsed.
func (c *CircuitBreaker) Allow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateOpen:
		if time.Since(c.openedAt) >= c.ResetTimeout {
			c.state = StateHalfOpen
			c.consecutiveOK = 0
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

// RecordSuccess registers a successful call.
func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFail = 0
	switch c.state {
	case StateHalfOpen:
		c.consecutiveOK++
		if c.consecutiveOK >= c.SuccessThreshold {
			c.state = StateClosed
			c.consecutiveOK = 0
		}
	case StateClosed:
		// no-op
	}
}

// RecordFailure registers a failed call, tripping the breaker open if the
// failure threshold is reached (or immediately, from half-open).
func (c *CircuitBreaker) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveOK = 0
	switch c.state {
	case StateHalfOpen:
		c.trip()
	case StateClosed:
		c.consecutiveFail++
		if c.consecutiveFail >= c.FailureThreshold {
			c.trip()
		}
	}
}

func (c *CircuitBreaker) trip() {
	c.state = StateOpen
	c.openedAt = time.Now()
	c.consecutiveFail = 0
}

// CurrentState returns the breaker's current state.
func (c *CircuitBreaker) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
