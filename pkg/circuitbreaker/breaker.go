package circuitbreaker

import (
	"sync"
	"time"

	"github.com/0xOucan/PAYVVM/pkg/logger"
)

// Circuit states reported by State
const (
	StateDisabled = "disabled"
	StateClosed   = "closed"
	StateOpen     = "open"
)

// CircuitBreaker pauses execution after repeated failures. Once THRESHOLD failures
// land within the window it stays open for the reset timeout.
type CircuitBreaker struct {
	enabled       bool
	failureCount  int
	failureWindow time.Duration
	failThreshold int
	resetTimeout  time.Duration
	lastFailure   time.Time
	tripped       bool
	tripTime      time.Time
	now           func() time.Time
	logger        logger.Logger
	mu            sync.Mutex
}

// Status is a point-in-time view of the breaker
type Status struct {
	State         string    `json:"state"`
	FailureCount  int       `json:"failureCount"`
	FailThreshold int       `json:"failThreshold"`
	LastFailure   time.Time `json:"lastFailure,omitempty"`
	TripTime      time.Time `json:"tripTime,omitempty"`
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(enabled bool, threshold int, window, resetTimeout time.Duration, log logger.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		enabled:       enabled,
		failThreshold: threshold,
		failureWindow: window,
		resetTimeout:  resetTimeout,
		now:           time.Now,
		logger:        log,
	}
}

// RecordFailure records a failure and reports whether the circuit is open afterwards
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	if cb.expireLocked(now) {
		return true
	}

	// Reset failure count if outside window
	if now.Sub(cb.lastFailure) > cb.failureWindow {
		cb.failureCount = 0
	}

	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.failThreshold {
		cb.tripped = true
		cb.tripTime = now
		cb.logger.NoticeWithStage(logger.Exec, "Circuit breaker tripped: %d failures within %s, pausing executions for %s",
			cb.failureCount, cb.failureWindow, cb.resetTimeout)
		return true
	}

	return false
}

// IsOpen returns true if the circuit is open (tripped)
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.expireLocked(cb.now())
}

// Reset manually closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.tripped {
		cb.logger.NoticeWithStage(logger.Exec, "Circuit breaker reset manually")
	}
	cb.tripped = false
	cb.failureCount = 0
}

// Status returns the current state of the circuit breaker
func (cb *CircuitBreaker) Status() Status {
	if !cb.enabled {
		return Status{State: StateDisabled}
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := StateClosed
	if cb.expireLocked(cb.now()) {
		state = StateOpen
	}
	return Status{
		State:         state,
		FailureCount:  cb.failureCount,
		FailThreshold: cb.failThreshold,
		LastFailure:   cb.lastFailure,
		TripTime:      cb.tripTime,
	}
}

// expireLocked closes a tripped circuit whose reset timeout has passed and reports
// whether it is still open
func (cb *CircuitBreaker) expireLocked(now time.Time) bool {
	if !cb.tripped {
		return false
	}
	if now.Sub(cb.tripTime) > cb.resetTimeout {
		cb.logger.InfoWithStage(logger.Exec, "Circuit breaker closed after %s", cb.resetTimeout)
		cb.tripped = false
		cb.failureCount = 0
		return false
	}
	return true
}
