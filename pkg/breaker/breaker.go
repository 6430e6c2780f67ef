// Package breaker implements the per-provider circuit breaker described
// in spec §4.6. It trips to open after a run of consecutive failures and
// resets to closed after a fixed timeout, with no half-open probing state
// — spec §9's open question resolves in favor of the simpler two-state
// machine, since the retry handler already backs off before a breaker
// ever sees repeated failures.
package breaker

import (
	"sync"
	"time"
)

// DefaultFailureThreshold is the number of consecutive failures that
// trips the breaker open.
const DefaultFailureThreshold = 5

// DefaultResetTimeout is how long the breaker stays open before allowing
// requests through again.
const DefaultResetTimeout = 60 * time.Second

// State is the breaker's current state.
type State int

const (
	// Closed allows requests through and counts failures.
	Closed State = iota
	// Open rejects requests until ResetTimeout elapses.
	Open
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// Breaker is a per-provider circuit breaker. Safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time

	state           State
	consecutiveFail int
	openedAt        time.Time
}

// New creates a breaker with the default threshold and reset timeout.
func New() *Breaker {
	return &Breaker{
		failureThreshold: DefaultFailureThreshold,
		resetTimeout:     DefaultResetTimeout,
		now:              time.Now,
		state:            Closed,
	}
}

// WithFailureThreshold overrides the consecutive-failure threshold.
func (b *Breaker) WithFailureThreshold(n int) *Breaker {
	b.failureThreshold = n
	return b
}

// WithResetTimeout overrides how long the breaker stays open.
func (b *Breaker) WithResetTimeout(d time.Duration) *Breaker {
	b.resetTimeout = d
	return b
}

// Allow reports whether a request may proceed. An open breaker whose
// resetTimeout has elapsed transitions back to closed and allows the
// request through, resetting the consecutive-failure count to zero; that
// request's outcome is treated normally by RecordSuccess/RecordFailure, so
// the breaker opens again once failureThreshold further consecutive
// failures are recorded (a single failure when the threshold is 1).
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Closed {
		return true
	}

	if b.now().Sub(b.openedAt) >= b.resetTimeout {
		b.state = Closed
		b.consecutiveFail = 0
		return true
	}
	return false
}

// RecordSuccess resets the consecutive-failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFail = 0
	b.state = Closed
}

// RecordFailure counts a failure, tripping the breaker open once
// failureThreshold consecutive failures have been recorded. It reports
// true exactly on the call that makes the transition to open, so a
// caller can raise a one-shot alert rather than one per rejected
// request.
func (b *Breaker) RecordFailure() (justOpened bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFail++
	if b.consecutiveFail >= b.failureThreshold && b.state == Closed {
		b.state = Open
		b.openedAt = b.now()
		return true
	}
	return false
}

// State reports the breaker's current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
