package backend

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow while the backend is considered down.
var ErrCircuitOpen = errors.New("backend: circuit breaker is open")

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

// Breaker states. The numeric values are exported as the breaker gauge.
const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

var breakerStateNames = [...]string{
	BreakerClosed:   "closed",
	BreakerOpen:     "open",
	BreakerHalfOpen: "half-open",
}

func (s BreakerState) String() string {
	if s < 0 || int(s) >= len(breakerStateNames) {
		return "unknown"
	}
	return breakerStateNames[s]
}

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 2
	defaultOpenTimeout      = 30 * time.Second
)

// CircuitBreaker guards the agency backend. Consecutive failures while
// closed open it; after the cool-down requests are let through as probes,
// and consecutive successful probes close it again. Any failed probe
// reopens it for another cool-down.
type CircuitBreaker struct {
	maxFailures  int
	minSuccesses int
	coolDown     time.Duration
	now          func() time.Time

	mu       sync.Mutex
	state    BreakerState
	streak   int       // consecutive failures when closed, successes when half-open
	reopenAt time.Time // when an open breaker starts probing
	onChange func(BreakerState)
}

// NewCircuitBreaker returns a closed breaker. Non-positive arguments take the
// defaults of 5 failures, 2 successes and 30s.
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	cb := &CircuitBreaker{
		maxFailures:  failureThreshold,
		minSuccesses: successThreshold,
		coolDown:     timeout,
		now:          time.Now,
	}
	if cb.maxFailures < 1 {
		cb.maxFailures = defaultFailureThreshold
	}
	if cb.minSuccesses < 1 {
		cb.minSuccesses = defaultSuccessThreshold
	}
	if cb.coolDown <= 0 {
		cb.coolDown = defaultOpenTimeout
	}
	return cb
}

// OnStateChange sets fn to be called on every transition. fn runs with the
// breaker locked and must not call back into it.
func (cb *CircuitBreaker) OnStateChange(fn func(BreakerState)) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// Allow reports whether a request may be sent now.
func (cb *CircuitBreaker) Allow() error {
	if cb.State() == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// State returns the current state. An open breaker whose cool-down has
// passed reports half-open.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerOpen && !cb.now().Before(cb.reopenAt) {
		cb.setLocked(BreakerHalfOpen)
	}
	return cb.state
}

// RecordSuccess counts a request that reached the backend and was not
// answered with a 5xx.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerClosed:
		cb.streak = 0
	case BreakerHalfOpen:
		if cb.streak++; cb.streak >= cb.minSuccesses {
			cb.setLocked(BreakerClosed)
		}
	}
}

// RecordFailure counts a transport error or 5xx answer.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerClosed:
		if cb.streak++; cb.streak >= cb.maxFailures {
			cb.setLocked(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.setLocked(BreakerOpen)
	}
}

func (cb *CircuitBreaker) setLocked(to BreakerState) {
	if cb.state == to {
		return
	}
	cb.state = to
	cb.streak = 0
	if to == BreakerOpen {
		cb.reopenAt = cb.now().Add(cb.coolDown)
	}
	if cb.onChange != nil {
		cb.onChange(to)
	}
}
