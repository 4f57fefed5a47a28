package proxy

import (
	"sync"
	"time"

	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/metrics"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// CircuitClosed means the circuit is closed and requests are allowed
	CircuitClosed CircuitState = iota
	// CircuitHalfOpen means one trial request is allowed through
	CircuitHalfOpen
	// CircuitOpen means the circuit is open and requests are blocked
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half_open"
	case CircuitOpen:
		return "open"
	}
	return "unknown"
}

// CircuitBreaker stops calling the proxy after consecutive failures and
// lets a single trial request through once the timeout has elapsed.
type CircuitBreaker struct {
	mu               sync.RWMutex
	failures         int
	failureThreshold int
	timeout          time.Duration
	lastFailureTime  time.Time
	state            CircuitState
	trialInFlight    bool
	metrics          *metrics.Metrics
	logger           *logging.Logger
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(failureThreshold int, timeout time.Duration, m *metrics.Metrics) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		timeout:          timeout,
		state:            CircuitClosed,
		metrics:          m,
		logger:           logging.Nop(),
		now:              time.Now,
	}
}

// Allow checks if a request should be allowed
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.timeout {
			cb.setState(CircuitHalfOpen)
			cb.trialInFlight = true
			return true
		}
		return false
	case CircuitHalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	}
	return false
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.trialInFlight = false
	cb.setState(CircuitClosed)
}

// RecordFailure records a failed request. A failed trial reopens the
// circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()
	cb.trialInFlight = false

	if cb.state == CircuitHalfOpen || cb.failures >= cb.failureThreshold {
		cb.setState(CircuitOpen)
	}
}

// Release returns a permit from Allow that ended without reaching the
// proxy, such as a cancelled wait. A half-open breaker then lets the next
// caller try instead of waiting on a result that will never arrive.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.trialInFlight = false
	}
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(s CircuitState) {
	if cb.state == s {
		return
	}
	cb.logger.Warn("proxy circuit state changed", "from", cb.state.String(), "to", s.String(), "failures", cb.failures)
	cb.state = s
	cb.metrics.SetProxyCircuitState(int(s))
}
