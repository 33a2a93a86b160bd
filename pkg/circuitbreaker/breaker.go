// Package circuitbreaker stops calling a dependency after repeated failures
// and lets a single trial call through once a cooldown has passed.
//
// A breaker is Closed while calls succeed, Open after Threshold consecutive
// countable failures, and HalfOpen while the post-cooldown trial call is in flight.
// The trial's outcome closes the breaker or opens it for another cooldown.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute when the circuit does not allow the call.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold int           // consecutive failures before the circuit opens (default: 5)
	Cooldown  time.Duration // time open before a trial call is allowed (default: 30s)

	// OnStateChange, if set, is called after every transition. It runs
	// without the breaker's lock held.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the defaults used for notification destinations
// and the GitHub API.
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// Breaker guards a single dependency.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed circuit breaker.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// transition changes state and returns the hook call to make once the lock
// is released, or nil when nothing changed.
func (b *Breaker) transition(to State) func() {
	from := b.state
	b.state = to
	if from == to || b.cfg.OnStateChange == nil {
		return nil
	}
	hook := b.cfg.OnStateChange
	return func() { hook(from, to) }
}

func run(fn func()) {
	if fn != nil {
		fn()
	}
}

// Allow reports whether a call may be attempted. Once the cooldown has
// passed a single trial call is admitted; further calls wait for its outcome.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	var after func()
	allowed := true

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			allowed = false
			break
		}
		after = b.transition(HalfOpen)
		b.probing = true
	case HalfOpen:
		if b.probing {
			allowed = false
			break
		}
		b.probing = true
	}

	b.mu.Unlock()
	run(after)
	return allowed
}

// RecordSuccess closes the circuit and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.probing = false
	after := b.transition(Closed)
	b.mu.Unlock()
	run(after)
}

// RecordFailure counts a failure. A failed trial, or reaching the
// threshold, opens the circuit for another cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failures++
	b.probing = false

	var after func()
	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.openedAt = b.now()
		after = b.transition(Open)
	}
	b.mu.Unlock()
	run(after)
}

// Execute runs fn when the breaker allows it and records the outcome.
// countable decides which errors trip the breaker; nil counts every error.
// An uncountable error means the dependency answered, so it counts as a success.
func (b *Breaker) Execute(fn func() error, countable func(error) bool) error {
	if !b.Allow() {
		return ErrOpen
	}

	err := fn()
	if err != nil && (countable == nil || countable(err)) {
		b.RecordFailure()
	} else {
		b.RecordSuccess()
	}
	return err
}

// RetryAfter returns how long until an open circuit admits a trial call.
// It is zero unless the breaker is open.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return 0
	}
	return max(b.cfg.Cooldown-b.now().Sub(b.openedAt), 0)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
