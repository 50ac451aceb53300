// Package breaker implements a closed/open/half-open circuit breaker with a
// cool-down. The pipeline uses one to stop calling the advisory service once
// it reports quota exhaustion, and to probe it again after the cool-down.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // Normal operation, calls pass through
	StateOpen     State = 1 // Tripped, calls rejected until the cool-down elapses
	StateHalfOpen State = 2 // One probe call allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker opens after maxFailures consecutive failures and rejects calls for
// coolDown. After the cool-down one probe is let through: a success closes
// the breaker, a failure reopens it.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	coolDown    time.Duration
	openedAt    time.Time
	probeAt     time.Time
	now         func() time.Time

	// OnStateChange is called on every transition while the breaker's lock
	// is held. It must not call back into the breaker.
	OnStateChange func(from, to State)
}

// New creates a breaker. maxFailures below 1 is treated as 1.
func New(maxFailures int, coolDown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		maxFailures: maxFailures,
		coolDown:    coolDown,
		state:       StateClosed,
		now:         time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// Allow reports whether a call may proceed. It returns ErrOpen while the
// breaker is open, or while a half-open probe is outstanding and has not
// yet exceeded the cool-down itself.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) < b.coolDown {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.probeAt = now
	case StateHalfOpen:
		if now.Sub(b.probeAt) < b.coolDown {
			return ErrOpen
		}
		b.probeAt = now
	}
	return nil
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = 0
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		if b.state != StateOpen {
			b.transition(StateOpen)
		}
	}
}

// Execute runs fn through the breaker. fn's error counts as a failure.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}

// CurrentState returns the current state. An open breaker whose cool-down
// has elapsed still reports open until the next Allow.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryAt returns when an open breaker will admit its next probe. The zero
// time is returned for a closed breaker.
func (b *Breaker) RetryAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		return b.openedAt.Add(b.coolDown)
	case StateHalfOpen:
		return b.probeAt.Add(b.coolDown)
	}
	return time.Time{}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
