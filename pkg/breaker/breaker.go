// Package breaker implements the three-state (closed/open/half-open)
// circuit breaker protecting each supplier adapter from cascading
// failure. The half-open state admits a single probe after the cooldown
// and requires a success quorum to close again; any failure reopens
// (defaults: failure_threshold=5, success_threshold=2, timeout=60s).
package breaker

import (
	"sync"
	"time"
)

// State is one of the three breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config tunes a Breaker. Zero values are replaced with the original
// implementation's defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state that trips the breaker open. Default 5.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes required in
	// the half-open state before the breaker closes again. Default 2.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before allowing a single
	// half-open probe. Default 60s.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// Breaker is a per-dependency circuit breaker (one instance per supplier).
type Breaker struct {
	mu   sync.Mutex
	name string
	cfg  Config

	state           State
	consecutiveFail int
	consecutiveOK   int
	openedAt        time.Time
	halfOpenProbing bool
}

func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		state: StateClosed,
	}
}

// Allow reports whether a call may proceed, transitioning open->half-open
// once Timeout has elapsed. Only one half-open probe is allowed in flight at
// a time; concurrent callers during a probe are rejected until it resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.Timeout {
			return false
		}
		if b.halfOpenProbing {
			return false
		}
		b.state = StateHalfOpen
		b.halfOpenProbing = true
		b.consecutiveOK = 0
		return true
	case StateHalfOpen:
		if b.halfOpenProbing {
			return false
		}
		b.halfOpenProbing = true
		return true
	default:
		return true
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.consecutiveOK++
		b.halfOpenProbing = false
		if b.consecutiveOK >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.consecutiveFail = 0
			b.consecutiveOK = 0
		}
	case StateClosed:
		b.consecutiveFail = 0
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenProbing = false
		b.trip()
	case StateClosed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.consecutiveFail = 0
	b.consecutiveOK = 0
}

// State returns the current state, primarily for observability/metrics.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Name() string { return b.name }
