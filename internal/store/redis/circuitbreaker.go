package redis

import (
	"fmt"
	"sync"
	"time"

	"stock-analyzerv1/internal/model"
)

// State is the breaker position. Its numeric value is exported as the
// cache_circuit_breaker_state gauge.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls rejected with ErrCircuitOpen
	StateHalfOpen              // one trial call allowed
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is returned while the breaker rejects calls. It matches
// model.ErrTransient.
var ErrCircuitOpen = fmt.Errorf("%w: cache circuit breaker is open", model.ErrTransient)

// CircuitBreaker guards the cache client. maxFailures consecutive failures
// open it; after cooldown a single trial call is let through, and its outcome
// closes or reopens the breaker.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	trips       int
	probing     bool
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time

	// IsFailure decides which errors count against the breaker.
	// Defaults to every non-nil error.
	IsFailure func(err error) bool

	// OnStateChange is called on transitions, under the breaker lock.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker returns a closed breaker. maxFailures <= 0 means 5.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &CircuitBreaker{maxFailures: maxFailures, cooldown: cooldown}
}

// Execute runs fn unless the breaker rejects it with ErrCircuitOpen. fn's
// error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

// allow admits a call, moving an open breaker past its cooldown to
// half-open and claiming the single trial slot.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) <= cb.cooldown {
			return false
		}
		cb.transition(StateHalfOpen)
	case StateHalfOpen:
		if cb.probing {
			return false
		}
	default:
		return true
	}
	cb.probing = true
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false

	if err != nil && (cb.IsFailure == nil || cb.IsFailure(err)) {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.openedAt = time.Now()
			cb.transition(StateOpen)
		}
		return
	}
	cb.failures = 0
	cb.transition(StateClosed)
}

// CurrentState returns the breaker position.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Trips counts transitions into StateOpen.
func (cb *CircuitBreaker) Trips() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.trips
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateOpen {
		cb.trips++
	}
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
