// Package breaker implements the client-side circuit breaker that stops a
// client from talking into a connection that keeps failing.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// Defaults match the reference client.
const (
	DefaultThreshold = 3
	DefaultCooldown  = 20 * time.Second
)

// ErrOpen is returned when the breaker rejects a call without attempting it.
var ErrOpen = errors.New("circuit breaker is open: service unavailable, retry later")

// State is the breaker's position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker is a Closed/Open/HalfOpen state machine. Open moves to HalfOpen
// lazily on the first Allow after the cooldown; no timer goroutine runs.
// A Breaker belongs to one connection and is safe for concurrent use.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	trial     bool // a HalfOpen trial call is in flight
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// New creates a Closed breaker that opens after threshold consecutive
// failures and stays open for cooldown. Non-positive values use the defaults.
func New(threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	b := &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may proceed. It returns ErrOpen while the
// breaker is open, and while a HalfOpen trial is already in flight.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.state = HalfOpen
		b.trial = true
		return nil
	case HalfOpen:
		if b.trial {
			return ErrOpen
		}
		b.trial = true
		return nil
	}
	return nil
}

// Success records a successful call and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trial = false
	b.state = Closed
}

// Failure records a failed call. A failed HalfOpen trial re-opens the
// breaker and restarts the cooldown.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case Closed:
		if b.failures >= b.threshold {
			b.trip()
		}
	case HalfOpen:
		b.trip()
	case Open:
		// A call admitted before the breaker opened finished late.
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
	b.trial = false
}

// Do runs fn if the breaker allows it and records the outcome.
func (b *Breaker) Do(fn func() error) error {
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

// State returns the current state without advancing Open to HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
