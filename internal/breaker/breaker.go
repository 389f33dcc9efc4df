// Package breaker guards repeated connection attempts against an upstream
// that keeps failing.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // attempts pass through
	StateOpen     State = 1 // attempts rejected until the cool-down elapses
	StateHalfOpen State = 2 // one probe attempt allowed
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

// ErrOpen is returned when the breaker rejects an attempt.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker opens after maxFailures consecutive failures and rejects calls
// for coolDown. After the cool-down one probe call is let through; its
// outcome closes or reopens the breaker.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	coolDown    time.Duration
	lastFailure time.Time
	now         func() time.Time

	// OnStateChange is called on transitions, with the breaker lock held.
	OnStateChange func(from, to State)
}

// New creates a breaker. maxFailures below 1 is treated as 1.
func New(maxFailures int, coolDown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{maxFailures: maxFailures, coolDown: coolDown, now: time.Now}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) < b.coolDown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.transition(StateHalfOpen)
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.transition(StateOpen)
		}
		return err
	}
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = 0
	return nil
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil && from != to {
		b.OnStateChange(from, to)
	}
}

// Group holds one breaker per key, created on first use.
type Group struct {
	mu          sync.Mutex
	breakers    map[string]*Breaker
	maxFailures int
	coolDown    time.Duration

	// OnStateChange is installed on every breaker the group creates.
	OnStateChange func(key string, from, to State)
}

// NewGroup creates an empty group whose breakers share settings.
func NewGroup(maxFailures int, coolDown time.Duration) *Group {
	return &Group{breakers: make(map[string]*Breaker), maxFailures: maxFailures, coolDown: coolDown}
}

// Get returns the breaker for key.
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[key]
	if !ok {
		b = New(g.maxFailures, g.coolDown)
		if g.OnStateChange != nil {
			hook := g.OnStateChange
			b.OnStateChange = func(from, to State) { hook(key, from, to) }
		}
		g.breakers[key] = b
	}
	return b
}

// Execute runs fn through the breaker for key.
func (g *Group) Execute(key string, fn func() error) error {
	return g.Get(key).Execute(fn)
}
