// Package circuit provides a three-state circuit breaker guarding calls to a
// remote dependency.
package circuit

import (
	"sync"
	"time"
)

type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the open timeout has passed.
	StateOpen
	// StateHalfOpen lets one probe call through at a time.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker opens after FailureThreshold consecutive failures. Once
// OpenTimeout has passed it half-opens and admits a single probe; a failed
// probe reopens it, and SuccessThreshold consecutive successful probes close
// it.
type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	now              func() time.Time
	onChange         func(name string, from, to State)

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probing   bool
	openedAt  time.Time
}

type Option func(*Breaker)

// WithFailureThreshold defaults to 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold defaults to 2.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithOpenTimeout defaults to 30 seconds.
func WithOpenTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.openTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// OnStateChange registers fn to run after every transition. fn is called
// without the breaker's lock held.
func OnStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 2,
		openTimeout:      30 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Allow reports whether a call may proceed. A caller that is allowed must
// report the outcome with Success or Failure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	from := b.state
	allowed := false
	switch b.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.openTimeout {
			b.state = StateHalfOpen
			b.successes = 0
			b.probing = true
			allowed = true
		}
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			allowed = true
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return allowed
}

func (b *Breaker) Success() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probing = false
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	case StateOpen:
		b.openedAt = b.now()
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// trip must be called with mu held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.probing = false
	b.successes = 0
}

// Reset closes the circuit and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.probing = false
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
